// Package phase implements the transition-validated state machine that
// drives a single review agent through its workflow phases.
package phase

// Phase is a named step in an agent workflow.
type Phase string

const (
	// PhaseIntake is the initial phase where the agent receives its context.
	PhaseIntake Phase = "intake"
	// PhaseAnalyze is where the agent examines the change under review.
	PhaseAnalyze Phase = "analyze"
	// PhaseSynthesize is where the agent consolidates findings.
	PhaseSynthesize Phase = "synthesize"
	// PhaseDone is the successful terminal phase.
	PhaseDone Phase = "done"
	// PhaseFailed is the unsuccessful terminal phase.
	PhaseFailed Phase = "failed"
	// PhaseStoppedRetryExhausted is the terminal phase reached when
	// transient retries are exhausted.
	PhaseStoppedRetryExhausted Phase = "stopped_retry_exhausted"
)

// TransitionTable declares, for each phase, the set of phases it may
// transition to. A phase mapping to an empty set is terminal.
type TransitionTable map[Phase][]Phase

// DefaultTransitions returns the standard review workflow table.
// Analyze and synthesize may cycle (bounded by the machine's iteration
// ceiling) so an agent can take another look after consolidating.
func DefaultTransitions() TransitionTable {
	return TransitionTable{
		PhaseIntake:                {PhaseAnalyze, PhaseFailed},
		PhaseAnalyze:               {PhaseSynthesize, PhaseFailed},
		PhaseSynthesize:            {PhaseAnalyze, PhaseDone, PhaseFailed},
		PhaseDone:                  {},
		PhaseFailed:                {},
		PhaseStoppedRetryExhausted: {},
	}
}

// Allows returns true if the table permits a transition from one phase
// to another.
func (t TransitionTable) Allows(from, to Phase) bool {
	for _, p := range t[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Allowed returns the set of phases reachable from the given phase.
func (t TransitionTable) Allowed(from Phase) []Phase {
	next := t[from]
	out := make([]Phase, len(next))
	copy(out, next)
	return out
}

// Terminal returns true if the phase has no outgoing transitions.
func (t TransitionTable) Terminal(p Phase) bool {
	next, ok := t[p]
	return ok && len(next) == 0
}

// Validate checks that every transition target is itself a key in the
// table, so the machine's current phase is always a key.
func (t TransitionTable) Validate() error {
	for from, targets := range t {
		for _, to := range targets {
			if _, ok := t[to]; !ok {
				return &InvalidTransitionError{From: from, To: to, Allowed: t.Allowed(from)}
			}
		}
	}
	return nil
}
