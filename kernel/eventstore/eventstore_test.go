package eventstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndChainIntegrity(t *testing.T) {
	s := New(Options{})
	ctx := context.Background()

	correlationID := "corr-1"
	_, err := s.Append(ctx, "req-1", TypeProposed, map[string]any{"tool": "wave"}, correlationID)
	require.NoError(t, err)
	_, err = s.Append(ctx, "req-1", TypeValidated, map[string]any{"valid": true}, correlationID)
	require.NoError(t, err)
	_, err = s.Append(ctx, "req-1", TypeExecuting, nil, correlationID)
	require.NoError(t, err)

	events, err := s.GetByRequestID(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, events, 3)

	result := s.VerifyChain(events)
	require.True(t, result.Valid)
	require.False(t, result.Truncated)
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	s := New(Options{})
	ctx := context.Background()
	_, _ = s.Append(ctx, "req-1", TypeProposed, map[string]any{"a": 1}, "corr-1")
	_, _ = s.Append(ctx, "req-1", TypeValidated, map[string]any{"a": 2}, "corr-1")

	events, err := s.GetByRequestID(ctx, "req-1")
	require.NoError(t, err)
	events[1].Payload = map[string]any{"a": 999} // tamper after the fact

	result := s.VerifyChain(events)
	require.False(t, result.Valid)
	require.Equal(t, events[1].SequenceID, result.FirstInvalidSequence)
}

func TestVerifyChainDetectsDiscontinuity(t *testing.T) {
	s := New(Options{})
	ctx := context.Background()
	_, _ = s.Append(ctx, "req-1", TypeProposed, nil, "corr-1")
	_, _ = s.Append(ctx, "req-1", TypeValidated, nil, "corr-1")

	events, err := s.GetByRequestID(ctx, "req-1")
	require.NoError(t, err)
	events[1].PrevHash = "deadbeef"
	events[1].EventHash = ComputeEventHash(events[1])

	result := s.VerifyChain(events)
	require.False(t, result.Valid)
	require.Equal(t, "chain discontinuity", result.Reason)
}

func TestRingEvictionIsFIFOAndReportsTruncation(t *testing.T) {
	type archived struct {
		events []Event
	}
	var rec archived
	archiver := archiverFunc(func(_ context.Context, e Event) error {
		rec.events = append(rec.events, e)
		return nil
	})

	s := New(Options{Capacity: 3, Archive: archiver})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, "req-1", TypeProposed, map[string]any{"i": i}, "corr-1")
		require.NoError(t, err)
	}

	events, err := s.GetByRequestID(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, uint64(2), s.EvictedCount())
	require.Len(t, rec.events, 2)

	result := s.VerifyChain(events)
	require.True(t, result.Valid)
	require.True(t, result.Truncated)
}

func TestHashDeterministicUnderKeyReordering(t *testing.T) {
	e1 := Event{RequestID: "r", Type: TypeProposed, Payload: map[string]any{"b": 2, "a": 1}}
	e2 := Event{RequestID: "r", Type: TypeProposed, Payload: map[string]any{"a": 1, "b": 2}}
	require.Equal(t, ComputeEventHash(e1), ComputeEventHash(e2))
}

type archiverFunc func(ctx context.Context, e Event) error

func (f archiverFunc) Archive(ctx context.Context, e Event) error { return f(ctx, e) }
