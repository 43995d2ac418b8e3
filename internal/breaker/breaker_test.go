package breaker

import (
	"testing"
	"time"
)

// fakeClock lets tests advance time manually.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	b := New(cfg)
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b.now = clock.now
	return b, clock
}

func TestBreakerStartsClosed(t *testing.T) {
	b, _ := newTestBreaker(Config{})

	if b.State() != StateClosed {
		t.Errorf("expected closed, got %v", b.State())
	}
	if !b.CanExecute() {
		t.Error("expected closed breaker to allow execution")
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3})

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected closed below threshold, got %v", b.State())
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open at threshold, got %v", b.State())
	}
	if b.CanExecute() {
		t.Error("expected open breaker to reject execution")
	}
}

func TestBreakerSlidingWindowPrunesOldFailures(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 3, Window: 10 * time.Second})

	b.RecordFailure()
	b.RecordFailure()

	// Old failures age out of the window before the third arrives.
	clock.advance(11 * time.Second)
	b.RecordFailure()

	if b.State() != StateClosed {
		t.Errorf("expected closed after window pruning, got %v", b.State())
	}
	if got := b.FailureCount(); got != 1 {
		t.Errorf("expected 1 recent failure, got %d", got)
	}
}

func TestBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: 5 * time.Second})

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}
	if b.CanExecute() {
		t.Fatal("expected rejection before reset timeout")
	}

	clock.advance(5 * time.Second)
	if !b.CanExecute() {
		t.Fatal("expected probe allowed after reset timeout")
	}
	if b.State() != StateHalfOpen {
		t.Errorf("expected half_open, got %v", b.State())
	}
}

func TestBreakerClosesAfterSuccessThreshold(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: time.Second, SuccessThreshold: 2})

	b.RecordFailure()
	clock.advance(time.Second)
	if !b.CanExecute() {
		t.Fatal("expected probe allowed")
	}

	b.RecordSuccess()
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open after 1 of 2 successes, got %v", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after success threshold, got %v", b.State())
	}
	if got := b.FailureCount(); got != 0 {
		t.Errorf("expected failure window cleared, got %d", got)
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, ResetTimeout: time.Second})

	b.RecordFailure()
	clock.advance(time.Second)
	if !b.CanExecute() {
		t.Fatal("expected probe allowed")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %v", b.State())
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected immediate reopen on half-open failure, got %v", b.State())
	}
	if b.CanExecute() {
		t.Error("expected rejection right after reopen")
	}
}

func TestBreakerSuccessWhileClosedIsNoOp(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2})

	b.RecordSuccess()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()

	// Successes while closed do not reset the failure window.
	if b.State() != StateOpen {
		t.Errorf("expected open after threshold failures, got %v", b.State())
	}
}

func TestBreakerFullCycle(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 3, Window: time.Minute, ResetTimeout: 10 * time.Second, SuccessThreshold: 1})

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	clock.advance(10 * time.Second)
	if !b.CanExecute() {
		t.Fatal("expected probe after reset timeout")
	}
	b.RecordSuccess()

	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %v", b.State())
	}
	if !b.CanExecute() {
		t.Error("expected execution allowed after close")
	}
}
