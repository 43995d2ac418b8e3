// Package state provides SQLite-based run history for Revue.
package state

import "io"

// RunStore handles run-history persistence operations.
type RunStore interface {
	CreateRun(r *Run) error
	FinishRun(r *Run) error
	GetRun(id string) (*Run, error)
	ListRecentRuns(limit int) ([]Run, error)
	RecordAgentOutcome(o *AgentOutcome) error
	ListAgentOutcomes(runID string) ([]AgentOutcome, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for run-history persistence.
// This interface allows the CLI to work with any backend without
// depending on the concrete SQLite implementation.
type StateStore interface {
	io.Closer
	Migrator
	RunStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore = (*DB)(nil)
	_ Migrator   = (*DB)(nil)
	_ RunStore   = (*DB)(nil)
)
