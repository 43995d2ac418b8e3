package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/revuehq/revue/internal/api"
	"github.com/revuehq/revue/internal/phase"
	"github.com/revuehq/revue/pkg/models"
)

// LLMExecutor runs review agents through the Anthropic API. Each phase is
// one bounded model call whose output must be a JSON envelope declaring
// the findings and the requested next phase.
type LLMExecutor struct {
	client *api.Client
}

// NewLLMExecutor creates an executor backed by the given client.
func NewLLMExecutor(client *api.Client) *LLMExecutor {
	return &LLMExecutor{client: client}
}

// envelope is the response contract every agent call must satisfy.
type envelope struct {
	NextPhase string            `json:"next_phase"`
	Summary   string            `json:"summary"`
	Findings  []findingEnvelope `json:"findings"`
}

type findingEnvelope struct {
	Title          string  `json:"title"`
	Severity       string  `json:"severity"`
	Confidence     float64 `json:"confidence"`
	Evidence       string  `json:"evidence"`
	Recommendation string  `json:"recommendation"`
}

// Execute runs one phase of the task as a single model call.
func (e *LLMExecutor) Execute(ctx context.Context, task models.AgentTask, current phase.Phase) (*PhaseOutput, error) {
	system := systemPrompt(task, current)
	user := userPrompt(task, current)

	completion, err := e.client.Complete(ctx, system, user, anthropic.Model(task.Model), task.MaxTokens)
	if err != nil {
		return nil, classifyCallError(err)
	}

	env, err := parseEnvelope(completion.Text)
	if err != nil {
		// A response that doesn't satisfy the envelope contract means the
		// agent, not the environment, is broken.
		return nil, phase.Structural(fmt.Errorf("agent %s: %w", task.Agent, err))
	}

	out := &PhaseOutput{
		Next:       phase.Phase(env.NextPhase),
		Summary:    env.Summary,
		TokensUsed: completion.TotalTokens(),
	}
	for _, f := range env.Findings {
		severity := models.Severity(f.Severity)
		if !severity.Valid() {
			return nil, phase.Structural(fmt.Errorf("agent %s: finding %q has invalid severity %q", task.Agent, f.Title, f.Severity))
		}
		if strings.TrimSpace(f.Title) == "" {
			return nil, phase.Structural(fmt.Errorf("agent %s: finding with empty title", task.Agent))
		}
		out.Findings = append(out.Findings, models.Finding{
			ID:             uuid.New().String()[:8],
			Title:          f.Title,
			Severity:       severity,
			Confidence:     f.Confidence,
			Evidence:       f.Evidence,
			Recommendation: f.Recommendation,
			Agent:          task.Agent,
		})
	}
	return out, nil
}

// classifyCallError tags transport failures for the phase machine.
// Rate-limit errors pass through untagged: the scheduler retries the
// whole call, not the phase machine.
func classifyCallError(err error) error {
	if api.IsRateLimited(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return phase.Transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return phase.Transient(err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		// Server-side errors are plausibly temporary; client-side errors
		// (bad request, auth) will not improve with retries.
		if apiErr.StatusCode >= 500 {
			return phase.Transient(err)
		}
		return phase.Structural(err)
	}
	return phase.Transient(err)
}

// parseEnvelope extracts and validates the JSON envelope from raw model
// output, tolerating surrounding prose and markdown fences.
func parseEnvelope(text string) (*envelope, error) {
	payload := extractJSON(text)
	if payload == "" {
		return nil, fmt.Errorf("no JSON envelope in response")
	}

	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("unparseable response envelope: %w", err)
	}
	if env.NextPhase == "" {
		return nil, fmt.Errorf("response envelope missing next_phase")
	}
	return &env, nil
}

// extractJSON returns the first top-level JSON object in the text.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}
