package compensation

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy is exponential backoff with jitter for a CompensateFunc,
// grounded on the teacher's A2A retry.Config/Do pattern
// (runtime/a2a/retry/retry.go), adapted so compensation attempts retry any
// transient failure (compensation never classifies errors as
// non-retryable — the only path for a terminal compensation failure is
// exhausting MaxAttempts).
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            float64
}

// DefaultRetryPolicy mirrors the teacher's DefaultConfig.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// Wrap returns a CompensateFunc that retries fn under p until it succeeds,
// the context is canceled, or attempts are exhausted.
func (p RetryPolicy) Wrap(fn CompensateFunc) CompensateFunc {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return func(ctx context.Context, call Call) (Outcome, error) {
		var lastOutcome Outcome
		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			outcome, err := fn(ctx, call)
			if err == nil && outcome.Success {
				return outcome, nil
			}
			lastOutcome, lastErr = outcome, err

			if attempt >= maxAttempts {
				break
			}
			backoff := p.backoffFor(attempt)
			select {
			case <-ctx.Done():
				return lastOutcome, ctx.Err()
			case <-time.After(backoff):
			}
		}
		return lastOutcome, lastErr
	}
}

func (p RetryPolicy) backoffFor(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if p.MaxBackoff > 0 && backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		jitter := backoff * p.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter doesn't need crypto rand
		backoff += jitter
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}
