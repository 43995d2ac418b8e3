package state

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

func TestOpenCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "state.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %s, want %s", db.Path(), path)
	}
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	run := &Run{
		ID:         "run-1",
		InputsHash: "abc123def4567890",
		StartedAt:  time.Now().Add(-time.Minute),
	}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Verdict != "" {
		t.Errorf("in-flight run has verdict %q, want empty", got.Verdict)
	}
	if got.FinishedAt != nil {
		t.Error("in-flight run has a finished_at timestamp")
	}

	run.Verdict = "needs_changes"
	run.StopReason = "completed"
	run.TokensUsed = 4200
	run.FindingCount = 3
	run.Duration = 90 * time.Second
	if err := db.FinishRun(run); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	got, err = db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun after finish failed: %v", err)
	}
	if got.Verdict != "needs_changes" {
		t.Errorf("verdict = %q, want needs_changes", got.Verdict)
	}
	if got.TokensUsed != 4200 {
		t.Errorf("tokens = %d, want 4200", got.TokensUsed)
	}
	if got.Duration != 90*time.Second {
		t.Errorf("duration = %v, want 90s", got.Duration)
	}
	if got.FinishedAt == nil {
		t.Error("finished run is missing finished_at")
	}
}

func TestFinishUnknownRunFails(t *testing.T) {
	db := openTestDB(t)
	if err := db.FinishRun(&Run{ID: "ghost"}); err == nil {
		t.Error("expected an error finishing a run that was never created")
	}
}

func TestGetRunNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetRun("missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("error = %v, want sql.ErrNoRows", err)
	}
}

func TestListRecentRunsNewestFirst(t *testing.T) {
	db := openTestDB(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		run := &Run{ID: id, InputsHash: "h", StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := db.CreateRun(run); err != nil {
			t.Fatalf("CreateRun %s failed: %v", id, err)
		}
	}

	runs, err := db.ListRecentRuns(2)
	if err != nil {
		t.Fatalf("ListRecentRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Errorf("order = [%s, %s], want [new, mid]", runs[0].ID, runs[1].ID)
	}
}

func TestAgentOutcomesUpsert(t *testing.T) {
	db := openTestDB(t)

	if err := db.CreateRun(&Run{ID: "run-1", InputsHash: "h"}); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	first := &AgentOutcome{RunID: "run-1", Agent: "security", Status: "failed", Error: "boom"}
	if err := db.RecordAgentOutcome(first); err != nil {
		t.Fatalf("RecordAgentOutcome failed: %v", err)
	}

	// Re-recording the same agent replaces the row.
	second := &AgentOutcome{RunID: "run-1", Agent: "security", Status: "completed", FindingCount: 2, TokensUsed: 800, Attempts: 2}
	if err := db.RecordAgentOutcome(second); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	outcomes, err := db.ListAgentOutcomes("run-1")
	if err != nil {
		t.Fatalf("ListAgentOutcomes failed: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	if outcomes[0].Status != "completed" || outcomes[0].FindingCount != 2 {
		t.Errorf("outcome = %+v, want the upserted values", outcomes[0])
	}
}

func TestPurgeOldRuns(t *testing.T) {
	db := openTestDB(t)

	stale := &Run{ID: "stale", InputsHash: "h", StartedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &Run{ID: "fresh", InputsHash: "h", StartedAt: time.Now()}
	for _, r := range []*Run{stale, fresh} {
		if err := db.CreateRun(r); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	n, err := db.PurgeOldRuns(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldRuns failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d runs, want 1", n)
	}

	if _, err := db.GetRun("stale"); !errors.Is(err, sql.ErrNoRows) {
		t.Error("stale run still present after purge")
	}
	if _, err := db.GetRun("fresh"); err != nil {
		t.Errorf("fresh run missing after purge: %v", err)
	}
}
