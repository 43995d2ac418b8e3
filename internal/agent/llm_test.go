package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/revuehq/revue/internal/phase"
	"github.com/revuehq/revue/pkg/models"
)

func TestParseEnvelopeValid(t *testing.T) {
	text := `Here is my review.
` + "```json" + `
{
  "next_phase": "synthesize",
  "summary": "examined the diff",
  "findings": [
    {"title": "missing error check", "severity": "warning", "confidence": 0.8}
  ]
}
` + "```"

	env, err := parseEnvelope(text)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if env.NextPhase != "synthesize" {
		t.Errorf("expected next_phase synthesize, got %q", env.NextPhase)
	}
	if len(env.Findings) != 1 || env.Findings[0].Title != "missing error check" {
		t.Errorf("unexpected findings: %+v", env.Findings)
	}
}

func TestParseEnvelopeMissingJSON(t *testing.T) {
	_, err := parseEnvelope("I could not review this change.")
	if err == nil {
		t.Fatal("expected error for missing envelope")
	}
}

func TestParseEnvelopeMissingNextPhase(t *testing.T) {
	_, err := parseEnvelope(`{"summary": "looked around", "findings": []}`)
	if err == nil {
		t.Fatal("expected error for envelope without next_phase")
	}
}

func TestParseEnvelopeMalformed(t *testing.T) {
	_, err := parseEnvelope(`{"next_phase": "done", "findings": [`)
	if err == nil {
		t.Fatal("expected error for truncated envelope")
	}
}

func TestExtractJSONNested(t *testing.T) {
	text := `prefix {"next_phase": "done", "meta": {"inner": "{not a brace}"}} suffix`
	got := extractJSON(text)
	if !strings.HasPrefix(got, `{"next_phase"`) || !strings.HasSuffix(got, `}`) {
		t.Errorf("unexpected extraction: %q", got)
	}
	if strings.Contains(got, "suffix") {
		t.Errorf("extraction ran past the object: %q", got)
	}
}

func TestClassifyCallErrorDeadline(t *testing.T) {
	err := classifyCallError(context.DeadlineExceeded)
	if phase.Classify(err) != phase.ClassTransient {
		t.Errorf("expected deadline to classify transient, got %v", phase.Classify(err))
	}
}

func TestClassifyCallErrorUnknownDefaultsTransient(t *testing.T) {
	// Transport-level failures from the HTTP client arrive untyped.
	err := classifyCallError(errors.New("connection reset by peer"))
	if phase.Classify(err) != phase.ClassTransient {
		t.Errorf("expected transport error to classify transient, got %v", phase.Classify(err))
	}
}

// fakeExecutor asserts the Executor interface shape stays usable by the
// orchestrator with a plain function-backed stub.
type fakeExecutor struct {
	fn func(ctx context.Context, task models.AgentTask, current phase.Phase) (*PhaseOutput, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, task models.AgentTask, current phase.Phase) (*PhaseOutput, error) {
	return f.fn(ctx, task, current)
}

func TestExecutorInterface(t *testing.T) {
	var _ Executor = (*LLMExecutor)(nil)

	exec := &fakeExecutor{fn: func(ctx context.Context, task models.AgentTask, current phase.Phase) (*PhaseOutput, error) {
		return &PhaseOutput{Next: phase.PhaseDone, Summary: "ok"}, nil
	}}

	out, err := exec.Execute(context.Background(), models.AgentTask{Agent: "style"}, phase.PhaseIntake)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if out.Next != phase.PhaseDone {
		t.Errorf("expected next phase done, got %q", out.Next)
	}
}
