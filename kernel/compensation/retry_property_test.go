package compensation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRetryPolicyBackoffProperty mirrors the teacher's
// TestCalculateBackoffProperty (runtime/a2a/retry/retry_test.go): backoff
// must grow with the attempt number and never exceed MaxBackoff.
func TestRetryPolicyBackoffProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("backoff does not exceed MaxBackoff", prop.ForAll(
		func(attempt int) bool {
			p := RetryPolicy{
				InitialBackoff:    100 * time.Millisecond,
				MaxBackoff:        time.Second,
				BackoffMultiplier: 2.0,
				Jitter:            0,
			}
			return p.backoffFor(attempt) <= p.MaxBackoff
		},
		gen.IntRange(1, 100),
	))

	properties.Property("backoff is monotonic without jitter", prop.ForAll(
		func(attempt int) bool {
			p := RetryPolicy{
				InitialBackoff:    10 * time.Millisecond,
				MaxBackoff:        10 * time.Second,
				BackoffMultiplier: 2.0,
				Jitter:            0,
			}
			return p.backoffFor(attempt+1) >= p.backoffFor(attempt)
		},
		gen.IntRange(1, 20),
	))

	properties.Property("backoff is never negative", prop.ForAll(
		func(attempt int, jitter float64) bool {
			p := RetryPolicy{
				InitialBackoff:    time.Millisecond,
				MaxBackoff:        time.Second,
				BackoffMultiplier: 2.0,
				Jitter:            jitter,
			}
			return p.backoffFor(attempt) >= 0
		},
		gen.IntRange(1, 30),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

// TestRetryPolicyWrapProperty mirrors the teacher's TestRetryDoProperty:
// a CompensateFunc wrapped in RetryPolicy either succeeds within
// MaxAttempts or reports exactly MaxAttempts attempts on permanent
// failure, never more.
func TestRetryPolicyWrapProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("immediate success makes exactly one attempt", prop.ForAll(
		func(maxAttempts int) bool {
			attempts := 0
			policy := RetryPolicy{MaxAttempts: maxAttempts, InitialBackoff: 0, MaxBackoff: 0, BackoffMultiplier: 1}
			wrapped := policy.Wrap(func(ctx context.Context, call Call) (Outcome, error) {
				attempts++
				return Outcome{Success: true}, nil
			})

			outcome, err := wrapped(context.Background(), Call{Tool: "x"})
			return err == nil && outcome.Success && attempts == 1
		},
		gen.IntRange(1, 10),
	))

	properties.Property("permanent failure exhausts exactly MaxAttempts", prop.ForAll(
		func(maxAttempts int) bool {
			attempts := 0
			failure := errors.New("permanent")
			policy := RetryPolicy{MaxAttempts: maxAttempts, InitialBackoff: 0, MaxBackoff: 0, BackoffMultiplier: 1}
			wrapped := policy.Wrap(func(ctx context.Context, call Call) (Outcome, error) {
				attempts++
				return Outcome{Success: false}, failure
			})

			_, err := wrapped(context.Background(), Call{Tool: "x"})
			return errors.Is(err, failure) && attempts == maxAttempts
		},
		gen.IntRange(1, 8),
	))

	properties.Property("canceled context stops retrying early", prop.ForAll(
		func(maxAttempts int) bool {
			if maxAttempts < 2 {
				maxAttempts = 2
			}
			ctx, cancel := context.WithCancel(context.Background())
			attempts := 0
			policy := RetryPolicy{MaxAttempts: maxAttempts, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}
			wrapped := policy.Wrap(func(ctx context.Context, call Call) (Outcome, error) {
				attempts++
				if attempts == 1 {
					cancel()
				}
				return Outcome{Success: false}, errors.New("transient")
			})

			_, err := wrapped(ctx, Call{Tool: "x"})
			return errors.Is(err, context.Canceled) && attempts < maxAttempts
		},
		gen.IntRange(2, 6),
	))

	properties.TestingRun(t)
}
