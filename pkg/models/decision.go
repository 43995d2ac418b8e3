package models

// Verdict is the overall outcome of a review run.
type Verdict string

const (
	// VerdictApprove indicates no findings were reported.
	VerdictApprove Verdict = "approve"
	// VerdictApproveWithWarnings indicates only warning findings.
	VerdictApproveWithWarnings Verdict = "approve_with_warnings"
	// VerdictNeedsChanges indicates at least one critical finding.
	VerdictNeedsChanges Verdict = "needs_changes"
	// VerdictBlock indicates at least one blocking finding.
	VerdictBlock Verdict = "block"
)

// Valid returns true if the verdict is a known value.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictApprove, VerdictApproveWithWarnings, VerdictNeedsChanges, VerdictBlock:
		return true
	default:
		return false
	}
}

// MergeDecision is the final decision computed from all agent results.
// It is computed once at the end of a run and never mutated afterward.
type MergeDecision struct {
	// Verdict is the overall outcome.
	Verdict Verdict `json:"verdict"`
	// MustFix lists findings that have to be addressed before merging.
	MustFix []Finding `json:"must_fix,omitempty"`
	// ShouldFix lists findings that are recommended to address.
	ShouldFix []Finding `json:"should_fix,omitempty"`
	// Notes carries context about how the decision was reached,
	// including agents that were skipped or failed.
	Notes []string `json:"notes,omitempty"`
}
