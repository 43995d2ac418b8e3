package phase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifyTaggedErrors(t *testing.T) {
	if got := Classify(Structural(errors.New("schema mismatch"))); got != ClassStructural {
		t.Errorf("expected structural, got %v", got)
	}
	if got := Classify(Transient(errors.New("connection refused"))); got != ClassTransient {
		t.Errorf("expected transient, got %v", got)
	}
}

func TestClassifyWrappedTag(t *testing.T) {
	err := fmt.Errorf("phase analyze: %w", Transient(errors.New("timeout")))
	if got := Classify(err); got != ClassTransient {
		t.Errorf("expected wrapped tag to be honored, got %v", got)
	}
}

func TestClassifyDeadline(t *testing.T) {
	if got := Classify(context.DeadlineExceeded); got != ClassTransient {
		t.Errorf("expected deadline to be transient, got %v", got)
	}
}

func TestClassifyUntaggedDefaultsStructural(t *testing.T) {
	if got := Classify(errors.New("something unexpected")); got != ClassStructural {
		t.Errorf("expected untagged error to fail fast, got %v", got)
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	p := BackoffPolicy{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   350 * time.Millisecond,
		MaxRetries: 5,
	}

	for attempt, want := range []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		350 * time.Millisecond, // capped
		350 * time.Millisecond,
	} {
		if got := p.Delay(attempt); got != want {
			t.Errorf("attempt %d: expected delay %v, got %v", attempt, want, got)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	p := BackoffPolicy{
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
		MaxRetries: 3,
		Jitter:     5 * time.Millisecond,
	}

	for i := 0; i < 100; i++ {
		d := p.Delay(0)
		if d < 10*time.Millisecond || d >= 15*time.Millisecond {
			t.Fatalf("delay %v outside [10ms, 15ms)", d)
		}
	}
}

func TestBackoffWaitCancellation(t *testing.T) {
	p := BackoffPolicy{BaseDelay: time.Hour, MaxDelay: time.Hour, MaxRetries: 1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Wait(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
