package orchestrator

import (
	"time"

	"github.com/revuehq/revue/internal/budget"
	"github.com/revuehq/revue/pkg/models"
)

// StopReason explains why a run ended. Every run, even one that fails
// early, returns an aggregate with an explicit stop reason.
type StopReason string

const (
	// StopCompleted indicates every task ran (or was skipped) and the
	// run finished normally.
	StopCompleted StopReason = "completed"
	// StopBudgetExhausted indicates the token or time ceiling was hit
	// and the aggregate is a partial report.
	StopBudgetExhausted StopReason = "budget_exhausted"
	// StopCancelled indicates an external cancellation interrupted the run.
	StopCancelled StopReason = "cancelled"
)

// AggregateResult is the outcome of a whole run: one result slot per
// submitted task, indexed by submission order regardless of completion
// order. Slots for tasks that never started (cancellation) are nil.
type AggregateResult struct {
	// TraceID identifies the run.
	TraceID string `json:"trace_id"`
	// InputsHash is the checkpoint key for the run inputs.
	InputsHash string `json:"inputs_hash"`
	// Results holds one slot per submitted task, in submission order.
	Results []*models.AgentResult `json:"results"`
	// Decision is the merged review decision.
	Decision models.MergeDecision `json:"decision"`
	// Budget is the budget snapshot at the end of the run.
	Budget budget.Snapshot `json:"budget"`
	// StopReason explains why the run ended.
	StopReason StopReason `json:"stop_reason"`
	// Duration is the total wall-clock time of the run.
	Duration time.Duration `json:"duration"`
}

// Completed returns how many tasks ran to completion.
func (a *AggregateResult) Completed() int {
	n := 0
	for _, r := range a.Results {
		if r != nil && r.Status == models.ResultCompleted {
			n++
		}
	}
	return n
}

// TokensUsed returns the total tokens consumed across all tasks.
func (a *AggregateResult) TokensUsed() int64 {
	var total int64
	for _, r := range a.Results {
		if r != nil {
			total += r.TokensUsed
		}
	}
	return total
}
