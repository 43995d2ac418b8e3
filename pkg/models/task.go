package models

import "time"

// AgentTask is one unit of review work: a single agent examining the
// change under review, either through a full phase sequence or a
// single-shot call.
type AgentTask struct {
	// Agent is the identity of the agent to run (roster name).
	Agent string `json:"agent"`
	// Focus describes what the agent looks for (e.g. "security", "tests").
	Focus string `json:"focus,omitempty"`
	// Model is the LLM model to use for this agent, if it overrides the default.
	Model string `json:"model,omitempty"`
	// Content is the material under review.
	Content string `json:"content"`
	// MaxTokens caps the tokens this agent may consume per call.
	MaxTokens int64 `json:"max_tokens,omitempty"`
	// SingleShot runs the agent as one call instead of a phase sequence.
	SingleShot bool `json:"single_shot,omitempty"`
}

// ResultStatus represents the outcome of one agent task.
type ResultStatus string

const (
	// ResultCompleted indicates the agent ran to completion.
	ResultCompleted ResultStatus = "completed"
	// ResultFailed indicates the agent ran but failed.
	ResultFailed ResultStatus = "failed"
	// ResultSkippedCircuitOpen indicates the agent was skipped because
	// its circuit breaker was open. No external call was made.
	ResultSkippedCircuitOpen ResultStatus = "skipped_circuit_open"
	// ResultSkippedBudget indicates the agent was skipped because the
	// run budget was exhausted. No external call was made.
	ResultSkippedBudget ResultStatus = "skipped_budget_exhausted"
)

// Valid returns true if the status is a known value.
func (s ResultStatus) Valid() bool {
	switch s {
	case ResultCompleted, ResultFailed, ResultSkippedCircuitOpen, ResultSkippedBudget:
		return true
	default:
		return false
	}
}

// Failed returns true for any non-completed status.
func (s ResultStatus) Failed() bool {
	return s != ResultCompleted
}

// AgentResult is the outcome of one agent task. Skipped tasks still
// produce a result so the aggregate always has one slot per submitted
// task, in submission order.
type AgentResult struct {
	// Agent is the identity of the agent that produced this result.
	Agent string `json:"agent"`
	// Status is the outcome of the task.
	Status ResultStatus `json:"status"`
	// Findings are the issues the agent reported.
	Findings []Finding `json:"findings,omitempty"`
	// Summary is the agent's short description of what it reviewed.
	Summary string `json:"summary,omitempty"`
	// TokensUsed is the total tokens consumed by this task.
	TokensUsed int64 `json:"tokens_used"`
	// Duration is how long the task ran.
	Duration time.Duration `json:"duration"`
	// Attempts is the number of executor attempts made.
	Attempts int `json:"attempts,omitempty"`
	// Error holds the failure message for failed or skipped tasks.
	Error string `json:"error,omitempty"`
}
