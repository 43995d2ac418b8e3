package state

import (
	"database/sql"
	"fmt"
	"time"
)

// Run is one orchestrated review run.
type Run struct {
	// ID is the run's trace identifier.
	ID string
	// InputsHash identifies the reviewed inputs.
	InputsHash string
	// Verdict is the merged decision, empty until the run finishes.
	Verdict string
	// StopReason explains why the run ended.
	StopReason string
	// TokensUsed is the total tokens consumed.
	TokensUsed int64
	// FindingCount is the number of deduplicated findings.
	FindingCount int
	// Duration is the wall-clock time of the run.
	Duration time.Duration
	// StartedAt is when the run started.
	StartedAt time.Time
	// FinishedAt is when the run finished, nil while in flight.
	FinishedAt *time.Time
}

// AgentOutcome is the per-agent row of a run.
type AgentOutcome struct {
	// RunID is the owning run.
	RunID string
	// Agent is the roster name of the agent.
	Agent string
	// Status is the task outcome (completed, failed, skipped_*).
	Status string
	// FindingCount is how many findings the agent reported.
	FindingCount int
	// TokensUsed is the tokens the agent consumed.
	TokensUsed int64
	// Attempts is the number of executor attempts made.
	Attempts int
	// Error is the failure message, empty on success.
	Error string
}

// CreateRun inserts a new run row. The run starts without a verdict;
// FinishRun fills it in.
func (db *DB) CreateRun(r *Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}

	_, err := db.Exec(`
		INSERT INTO runs (id, inputs_hash, verdict, stop_reason, tokens_used, finding_count, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.InputsHash, r.Verdict, r.StopReason, r.TokensUsed, r.FindingCount,
		r.Duration.Milliseconds(), formatTime(r.StartedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun records the final outcome of a run.
func (db *DB) FinishRun(r *Run) error {
	finished := time.Now()
	if r.FinishedAt != nil {
		finished = *r.FinishedAt
	} else {
		r.FinishedAt = &finished
	}

	result, err := db.Exec(`
		UPDATE runs
		SET verdict = ?, stop_reason = ?, tokens_used = ?, finding_count = ?, duration_ms = ?, finished_at = ?
		WHERE id = ?
	`, r.Verdict, r.StopReason, r.TokensUsed, r.FindingCount,
		r.Duration.Milliseconds(), formatTime(finished), r.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: run %s not found", r.ID)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns sql.ErrNoRows if absent.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, inputs_hash, verdict, stop_reason, tokens_used, finding_count, duration_ms, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// ListRecentRuns returns the most recent runs, newest first.
func (db *DB) ListRecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := db.Query(`
		SELECT id, inputs_hash, verdict, stop_reason, tokens_used, finding_count, duration_ms, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRunRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// RecordAgentOutcome upserts one agent's outcome for a run.
func (db *DB) RecordAgentOutcome(o *AgentOutcome) error {
	_, err := db.Exec(`
		INSERT INTO run_agents (run_id, agent, status, finding_count, tokens_used, attempts, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, agent) DO UPDATE SET
			status = excluded.status,
			finding_count = excluded.finding_count,
			tokens_used = excluded.tokens_used,
			attempts = excluded.attempts,
			error = excluded.error
	`, o.RunID, o.Agent, o.Status, o.FindingCount, o.TokensUsed, o.Attempts, o.Error)
	if err != nil {
		return fmt.Errorf("record agent outcome: %w", err)
	}
	return nil
}

// ListAgentOutcomes returns the per-agent outcomes of a run, by agent name.
func (db *DB) ListAgentOutcomes(runID string) ([]AgentOutcome, error) {
	rows, err := db.Query(`
		SELECT run_id, agent, status, finding_count, tokens_used, attempts, error
		FROM run_agents WHERE run_id = ? ORDER BY agent
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list agent outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []AgentOutcome
	for rows.Next() {
		var o AgentOutcome
		if err := rows.Scan(&o.RunID, &o.Agent, &o.Status, &o.FindingCount, &o.TokensUsed, &o.Attempts, &o.Error); err != nil {
			return nil, fmt.Errorf("scan agent outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for run scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row *sql.Row) (*Run, error) {
	return scanRunFrom(row)
}

func scanRunRows(rows *sql.Rows) (*Run, error) {
	return scanRunFrom(rows)
}

func scanRunFrom(s scanner) (*Run, error) {
	var (
		r          Run
		durationMS int64
		startedAt  string
		finishedAt sql.NullString
	)
	if err := s.Scan(&r.ID, &r.InputsHash, &r.Verdict, &r.StopReason, &r.TokensUsed,
		&r.FindingCount, &durationMS, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	r.Duration = time.Duration(durationMS) * time.Millisecond
	started, err := parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	r.StartedAt = started
	r.FinishedAt = parseNullableTime(finishedAt)
	return &r, nil
}
