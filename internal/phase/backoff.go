package phase

import (
	"context"
	"math/rand"
	"time"
)

// BackoffPolicy controls retry delays: exponential doubling from a base
// delay, capped at a maximum, with uniform jitter added on top.
type BackoffPolicy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// Jitter is the upper bound of the random delay added to each wait.
	Jitter time.Duration
}

// DefaultBackoffPolicy returns the standard policy: 3 retries (4 total
// attempts), 1s base delay doubling up to 30s, jitter in [0, 500ms).
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		MaxRetries: 3,
		Jitter:     500 * time.Millisecond,
	}
}

// Delay returns the wait before the given retry attempt (0-indexed).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return d
}

// Wait sleeps for the delay of the given attempt, returning early with
// the context's error if it is cancelled.
func (p BackoffPolicy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.Delay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
