// Package checkpoint persists durable snapshots of run progress so a
// multi-minute review run can resume after interruption without re-doing
// completed work.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/revuehq/revue/internal/budget"
	"github.com/revuehq/revue/pkg/models"
)

// ErrNotFound is returned when no checkpoint exists for an inputs hash.
var ErrNotFound = errors.New("checkpoint not found")

// ResultSummary is the per-agent completion record stored in a checkpoint.
type ResultSummary struct {
	// Status is the agent's result status.
	Status models.ResultStatus `json:"status"`
	// FindingCount is how many findings the agent reported.
	FindingCount int `json:"finding_count"`
	// TokensUsed is the tokens the agent consumed.
	TokensUsed int64 `json:"tokens_used"`
	// Summary is the agent's short result summary.
	Summary string `json:"summary,omitempty"`
	// Findings carries the agent's findings so a resumed run can still
	// merge them without re-running the agent.
	Findings []models.Finding `json:"findings,omitempty"`
}

// Checkpoint is a snapshot of orchestration progress, keyed by a content
// hash of the run inputs. The next checkpoint for the same inputs hash
// supersedes it; it is deleted on successful full-run completion.
type Checkpoint struct {
	// TraceID identifies the run that wrote this checkpoint.
	TraceID string `json:"trace_id"`
	// InputsHash is the stable hash of the run inputs.
	InputsHash string `json:"inputs_hash"`
	// Timestamp is when the checkpoint was written.
	Timestamp time.Time `json:"timestamp"`
	// Completed maps agent identity to its result summary.
	Completed map[string]ResultSummary `json:"completed_agents"`
	// Failed lists agents that failed.
	Failed []string `json:"failed_agents,omitempty"`
	// CurrentAgent is the agent in flight when the checkpoint was taken.
	CurrentAgent string `json:"current_agent,omitempty"`
	// Budget is the budget snapshot at checkpoint time.
	Budget budget.Snapshot `json:"budget_snapshot"`
}

// ComputeInputsHash returns the stable 16-hex-character hash used as a
// checkpoint's primary key. It is order-independent over the agent
// identities, so re-running the same logical work resumes rather than
// restarts.
func ComputeInputsHash(agents []string, content string) string {
	sorted := make([]string, len(agents))
	copy(sorted, agents)
	sort.Strings(sorted)

	h := sha256.New()
	for _, a := range sorted {
		h.Write([]byte(a))
		h.Write([]byte{0})
	}
	h.Write([]byte(content))

	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Store persists checkpoints as one JSON file per in-flight run, named by
// the inputs hash, under a fixed directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store rooted at the given directory. The directory
// is created on first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory checkpoints are stored under.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes the checkpoint atomically: the payload goes to a temporary
// file in the same directory which is then renamed over the target, so a
// crash mid-write can never corrupt or truncate an existing checkpoint.
func (s *Store) Save(cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("checkpoint is nil")
	}
	if cp.InputsHash == "" {
		return fmt.Errorf("checkpoint has no inputs hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	cp.Timestamp = time.Now()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, cp.InputsHash+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmpPath, s.path(cp.InputsHash)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint for the given inputs hash.
func (s *Store) Load(hash string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Exists reports whether a checkpoint exists for the inputs hash.
func (s *Store) Exists(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path(hash))
	return err == nil
}

// Delete removes the checkpoint for the inputs hash. Deleting an absent
// checkpoint is a no-op, not an error.
func (s *Store) Delete(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (s *Store) path(hash string) string {
	return filepath.Join(s.dir, hash+".json")
}
