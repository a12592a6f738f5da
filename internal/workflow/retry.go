package workflow

import (
	"context"
	"time"
)

// RetryPolicy bounds stage retries: up to MaxAttempts attempts, with a capped
// exponential delay before each retry. The zero value retries nothing.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the backoff before the given 1-indexed attempt:
// min(BaseDelay * 2^(n-2), MaxDelay) for n >= 2, zero for the first attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// AttemptFunc runs one attempt. The attempt number is 1-indexed.
type AttemptFunc func(ctx context.Context, attempt int) error

// Run executes fn until it succeeds, returns a non-retryable error, or
// MaxAttempts is exhausted, waiting the backoff delay between attempts. The
// wait honors ctx so a cancelled workflow stops sleeping immediately; other
// workflows are unaffected since each runs in its own goroutine.
func (p RetryPolicy) Run(ctx context.Context, fn AttemptFunc) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			t := time.NewTimer(p.Delay(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !Retryable(err) {
			return err
		}
	}
	return lastErr
}
