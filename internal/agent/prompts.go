package agent

import (
	"fmt"
	"strings"

	"github.com/revuehq/revue/internal/phase"
	"github.com/revuehq/revue/pkg/models"
)

// envelopeContract describes the response shape every agent call must
// produce. Responses that don't parse against it fail structurally.
const envelopeContract = `Respond with a single JSON object:
{
  "next_phase": "<the phase to move to next>",
  "summary": "<one sentence describing what you did>",
  "findings": [
    {
      "title": "<short issue title>",
      "severity": "warning" | "critical" | "blocking",
      "confidence": <0.0-1.0>,
      "evidence": "<code or behavior supporting the finding>",
      "recommendation": "<how to address it>"
    }
  ]
}
Do not include any other top-level JSON objects.`

// systemPrompt builds the per-agent system prompt for a phase.
func systemPrompt(task models.AgentTask, current phase.Phase) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %q, an independent code review agent.\n", task.Agent)
	if task.Focus != "" {
		fmt.Fprintf(&b, "Your focus: %s.\n", task.Focus)
	}
	b.WriteString("You only report issues within your focus; other agents cover the rest.\n\n")

	switch current {
	case phase.PhaseIntake:
		b.WriteString("Phase: intake. Read the change and decide whether it is in scope for your focus. Move to \"analyze\" to examine it, or \"failed\" if the input is unusable.\n")
	case phase.PhaseAnalyze:
		b.WriteString("Phase: analyze. Examine the change and report findings. Move to \"synthesize\" when done.\n")
	case phase.PhaseSynthesize:
		b.WriteString("Phase: synthesize. Consolidate your findings, drop duplicates and low-confidence noise. Move to \"done\", or back to \"analyze\" if you need another look.\n")
	default:
		fmt.Fprintf(&b, "Phase: %s.\n", current)
	}

	if task.SingleShot {
		b.WriteString("\nThis is a single-shot review: report all findings now and move to \"done\".\n")
	}

	b.WriteString("\n")
	b.WriteString(envelopeContract)
	return b.String()
}

// userPrompt builds the per-phase user message carrying the material
// under review.
func userPrompt(task models.AgentTask, current phase.Phase) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Change under review (phase: %s):\n\n", current)
	b.WriteString(task.Content)
	return b.String()
}
