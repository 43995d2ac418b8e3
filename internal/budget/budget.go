// Package budget tracks cumulative token and wall-clock consumption for a
// run against configured ceilings.
package budget

import (
	"sync"
	"time"
)

// DefaultThresholds are the usage fractions at which warning callbacks fire.
var DefaultThresholds = []float64{0.50, 0.75, 0.90}

// Snapshot is a point-in-time view of budget consumption, derived on
// demand from the tracker's counters.
type Snapshot struct {
	// TokensUsed is the cumulative tokens recorded.
	TokensUsed int64 `json:"tokens_used"`
	// TokensRemaining is MaxTokens - TokensUsed, floored at zero.
	// Negative one means the token ceiling is unlimited.
	TokensRemaining int64 `json:"tokens_remaining"`
	// TimeElapsed is the wall-clock time since the run started.
	TimeElapsed time.Duration `json:"time_elapsed"`
	// TimeRemaining is MaxDuration - TimeElapsed, floored at zero.
	// Negative one means the time ceiling is unlimited.
	TimeRemaining time.Duration `json:"time_remaining"`
	// LastThreshold is the highest warning threshold crossed so far.
	LastThreshold float64 `json:"last_threshold,omitempty"`
}

// Callback is invoked when a warning threshold is crossed.
type Callback func(threshold float64, snap Snapshot)

// Config contains configuration for a Tracker.
type Config struct {
	// MaxTokens is the token ceiling. Zero means unlimited.
	MaxTokens int64
	// MaxDuration is the wall-clock ceiling. Zero means unlimited.
	MaxDuration time.Duration
	// Thresholds are usage fractions (of the token ceiling) at which
	// warning callbacks fire. Defaults to DefaultThresholds.
	Thresholds []float64
}

// Tracker tracks token and wall-clock consumption against two independent
// ceilings from a single monotonic start timestamp. It is safe for use by
// concurrently-running tasks.
type Tracker struct {
	cfg Config

	mu        sync.Mutex
	used      int64
	start     time.Time
	watermark float64
	callbacks []Callback
	exhausted bool

	// now is overridable for tests.
	now func() time.Time
}

// New creates a Tracker. The clock starts immediately.
func New(cfg Config) *Tracker {
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = DefaultThresholds
	}
	t := &Tracker{
		cfg: cfg,
		now: time.Now,
	}
	t.start = t.now()
	return t
}

// OnThreshold registers a callback fired when a warning threshold is
// crossed. Each threshold fires at most once per run. A panicking
// callback is swallowed so a broken observer cannot halt accounting.
func (t *Tracker) OnThreshold(cb Callback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// Record adds consumed tokens and fires any newly-crossed warning
// thresholds. Thresholds only advance, never re-fire.
func (t *Tracker) Record(tokens int64) {
	t.mu.Lock()
	t.used += tokens

	var fired []float64
	if t.cfg.MaxTokens > 0 {
		frac := float64(t.used) / float64(t.cfg.MaxTokens)
		for _, th := range t.cfg.Thresholds {
			if th > t.watermark && frac >= th {
				fired = append(fired, th)
			}
		}
		if len(fired) > 0 {
			t.watermark = fired[len(fired)-1]
		}
	}
	t.updateExhaustedLocked()

	snap := t.snapshotLocked()
	callbacks := make([]Callback, len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.mu.Unlock()

	// Invoke observers outside the lock so accounting stays cheap.
	for _, th := range fired {
		for _, cb := range callbacks {
			invoke(cb, th, snap)
		}
	}
}

// invoke runs a callback, swallowing panics.
func invoke(cb Callback, threshold float64, snap Snapshot) {
	defer func() {
		_ = recover()
	}()
	cb(threshold, snap)
}

// CanAfford is a pure read-only check that the given spend fits under the
// ceilings right now.
func (t *Tracker) CanAfford(tokens int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.exhaustedNowLocked() {
		return false
	}
	if t.cfg.MaxTokens > 0 && t.used+tokens > t.cfg.MaxTokens {
		return false
	}
	return true
}

// IsExhausted reports whether either ceiling has been reached. Once true
// it stays true for the remainder of the run.
func (t *Tracker) IsExhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updateExhaustedLocked()
	return t.exhausted
}

// Snapshot derives the current budget view.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// updateExhaustedLocked latches the exhausted flag. Callers must hold t.mu.
func (t *Tracker) updateExhaustedLocked() {
	if t.exhaustedNowLocked() {
		t.exhausted = true
	}
}

// exhaustedNowLocked checks the ceilings without latching.
func (t *Tracker) exhaustedNowLocked() bool {
	if t.exhausted {
		return true
	}
	if t.cfg.MaxTokens > 0 && t.used >= t.cfg.MaxTokens {
		return true
	}
	if t.cfg.MaxDuration > 0 && t.now().Sub(t.start) >= t.cfg.MaxDuration {
		return true
	}
	return false
}

// snapshotLocked builds a Snapshot. Callers must hold t.mu.
func (t *Tracker) snapshotLocked() Snapshot {
	elapsed := t.now().Sub(t.start)

	snap := Snapshot{
		TokensUsed:      t.used,
		TokensRemaining: -1,
		TimeElapsed:     elapsed,
		TimeRemaining:   -1,
		LastThreshold:   t.watermark,
	}
	if t.cfg.MaxTokens > 0 {
		remaining := t.cfg.MaxTokens - t.used
		if remaining < 0 {
			remaining = 0
		}
		snap.TokensRemaining = remaining
	}
	if t.cfg.MaxDuration > 0 {
		remaining := t.cfg.MaxDuration - elapsed
		if remaining < 0 {
			remaining = 0
		}
		snap.TimeRemaining = remaining
	}
	return snap
}
