package compensation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryCompensateUnregisteredToolNeverErrors(t *testing.T) {
	r := NewRegistry()
	outcome, err := r.Compensate(context.Background(), Call{Tool: "ghost"})
	require.NoError(t, err)
	require.False(t, outcome.Success)
}

func TestRegistryHasAndCompensate(t *testing.T) {
	r := NewRegistry()
	r.Register("refund", func(ctx context.Context, call Call) (Outcome, error) {
		return Outcome{Success: true, Detail: "refunded"}, nil
	})
	require.True(t, r.Has("refund"))

	outcome, err := r.Compensate(context.Background(), Call{Tool: "refund"})
	require.NoError(t, err)
	require.True(t, outcome.Success)
}

func TestRetryPolicyRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context, call Call) (Outcome, error) {
		attempts++
		if attempts < 3 {
			return Outcome{Success: false}, errors.New("transient")
		}
		return Outcome{Success: true}, nil
	}
	policy := RetryPolicy{MaxAttempts: 5, InitialBackoff: 0, MaxBackoff: 0, BackoffMultiplier: 1}
	wrapped := policy.Wrap(fn)

	outcome, err := wrapped(context.Background(), Call{Tool: "x"})
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.Equal(t, 3, attempts)
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context, call Call) (Outcome, error) {
		attempts++
		return Outcome{Success: false}, errors.New("permanent")
	}
	policy := RetryPolicy{MaxAttempts: 2, InitialBackoff: 0}
	wrapped := policy.Wrap(fn)

	_, err := wrapped(context.Background(), Call{Tool: "x"})
	require.Error(t, err)
	require.Equal(t, 2, attempts)
}

func TestIncidentManagerOpenAndAdvance(t *testing.T) {
	m := NewIncidentManager()
	inc := m.Open("req-1", "delete_file", "reversible", "critical_verification_failure", nil)
	require.Equal(t, IncidentOpen, inc.Status)

	advanced, err := m.Advance(inc.ID, IncidentAcknowledged)
	require.NoError(t, err)
	require.Equal(t, IncidentAcknowledged, advanced.Status)

	_, err = m.Advance(inc.ID, IncidentOpen)
	require.Error(t, err)
}

func TestIncidentManagerGetReturnsClone(t *testing.T) {
	m := NewIncidentManager()
	outcome := Outcome{Success: false, Detail: "failed"}
	inc := m.Open("req-1", "tool", "reversible", "reason", &outcome)

	got, ok := m.Get(inc.ID)
	require.True(t, ok)
	got.CompensationOutcome.Detail = "mutated"

	original, _ := m.Get(inc.ID)
	require.Equal(t, "failed", original.CompensationOutcome.Detail)
}
