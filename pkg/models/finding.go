package models

// Severity classifies how serious a finding is.
type Severity string

const (
	// SeverityWarning indicates a minor issue that should be considered.
	SeverityWarning Severity = "warning"
	// SeverityCritical indicates a serious issue that needs changes.
	SeverityCritical Severity = "critical"
	// SeverityBlocking indicates an issue that must block the change.
	SeverityBlocking Severity = "blocking"
)

// Valid returns true if the severity is a known value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityWarning, SeverityCritical, SeverityBlocking:
		return true
	default:
		return false
	}
}

// Rank returns a numeric ordering for severities, highest is most severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityBlocking:
		return 3
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Finding is a single issue reported by a review agent.
// Findings are immutable once produced; merging may deduplicate them
// but never rewrites their content.
type Finding struct {
	// ID is the unique identifier for this finding.
	ID string `json:"id"`
	// Title is the short description of the issue.
	Title string `json:"title"`
	// Severity is how serious the issue is.
	Severity Severity `json:"severity"`
	// Confidence is the reporting agent's confidence in [0, 1].
	Confidence float64 `json:"confidence"`
	// Evidence cites the code or behavior that supports the finding.
	Evidence string `json:"evidence,omitempty"`
	// Recommendation suggests how to address the issue.
	Recommendation string `json:"recommendation,omitempty"`
	// Agent is the identity of the agent that produced the finding.
	Agent string `json:"agent,omitempty"`
}

// FindingKey is the identity used to deduplicate findings across agents.
type FindingKey struct {
	Title    string
	Severity Severity
}

// Key returns the deduplication identity for this finding.
func (f Finding) Key() FindingKey {
	return FindingKey{Title: f.Title, Severity: f.Severity}
}
