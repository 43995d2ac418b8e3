// Package breaker provides per-agent failure isolation so one
// persistently-failing agent cannot starve the others.
package breaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows calls to pass through.
	StateClosed State = iota
	// StateOpen rejects calls immediately.
	StateOpen
	// StateHalfOpen allows probe calls to test recovery.
	StateHalfOpen
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config contains configuration for a Breaker.
type Config struct {
	// FailureThreshold is the number of recent failures that opens the
	// circuit. Default 3.
	FailureThreshold int
	// Window is the sliding window over which failures count.
	// Failures older than the window are pruned. Default 60s.
	Window time.Duration
	// ResetTimeout is how long the circuit stays open before the next
	// CanExecute call moves it to half-open. Default 30s.
	ResetTimeout time.Duration
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit. Default 1.
	SuccessThreshold int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Window:           60 * time.Second,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 1,
	}
}

// Breaker isolates a single agent behind a three-state circuit protocol.
// All state is protected by one mutex; clock reads use Go's monotonic
// time.Time readings so system-time adjustments cannot skew the window.
type Breaker struct {
	cfg Config

	mu                sync.Mutex
	state             State
	failures          []time.Time
	lastFailure       time.Time
	halfOpenSuccesses int

	// now is overridable for tests.
	now func() time.Time
}

// New creates a Breaker with the given configuration. Zero fields take
// their defaults.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}

	return &Breaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// CanExecute reports whether a call may proceed. While open, it flips the
// circuit to half-open once the reset timeout has elapsed since the last
// failure, allowing probe calls through.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
			b.state = StateHalfOpen
			b.halfOpenSuccesses = 0
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful call. Enough consecutive successes
// while half-open close the circuit and clear the failure window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateHalfOpen {
		return
	}

	b.halfOpenSuccesses++
	if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
		b.state = StateClosed
		b.failures = nil
		b.halfOpenSuccesses = 0
	}
}

// RecordFailure records a failed call. Failures are timestamped and
// entries older than the window are pruned, so the count reflects only
// recent failures. Any failure while half-open reopens the circuit
// immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastFailure = now

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.halfOpenSuccesses = 0
		return
	}

	b.failures = append(b.failures, now)
	b.pruneLocked(now)

	if b.state == StateClosed && len(b.failures) >= b.cfg.FailureThreshold {
		b.state = StateOpen
	}
}

// FailureCount returns the number of failures inside the current window.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(b.now())
	return len(b.failures)
}

// pruneLocked drops failure timestamps older than the window.
// Callers must hold b.mu.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}
