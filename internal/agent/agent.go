// Package agent provides review agent execution behind a small executor
// interface. The orchestrator treats an executor as an opaque, possibly
// slow, possibly failing function; it does not know or care whether the
// implementation is a language-model call, a subprocess, or a stub.
package agent

import (
	"context"

	"github.com/revuehq/revue/internal/phase"
	"github.com/revuehq/revue/pkg/models"
)

// PhaseOutput is what an executor produces for one phase of a task.
type PhaseOutput struct {
	// Next is the phase the agent requests to move to. The phase machine
	// validates it against the transition table; an invalid request is a
	// structural failure.
	Next phase.Phase
	// Findings are the issues reported during this phase.
	Findings []models.Finding
	// Summary is the agent's short description of what it did.
	Summary string
	// TokensUsed is the tokens consumed by this phase.
	TokensUsed int64
}

// Executor runs one phase of an agent task. Implementations classify
// their failures with phase.Structural and phase.Transient so the phase
// machine can decide between failing fast and retrying.
type Executor interface {
	Execute(ctx context.Context, task models.AgentTask, current phase.Phase) (*PhaseOutput, error)
}
