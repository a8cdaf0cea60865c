package retriever

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRoomSource struct {
	memories []Memory
}

func (f fakeRoomSource) FetchRoomMemories(_ context.Context, _ string, _ int) ([]Memory, error) {
	return f.memories, nil
}

type fakeEntitySource struct {
	memories []Memory
	err      error
}

func (f fakeEntitySource) FetchEntityMemories(_ context.Context, _ string, _ []Tier, _ int) ([]Memory, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.memories, nil
}

func TestRetrieveMergesRoomAndEntity(t *testing.T) {
	now := time.Now()
	room := fakeRoomSource{memories: []Memory{
		{ID: "r1", Type: TypeFact, Text: "room fact one", CreatedAt: now},
	}}
	entity := fakeEntitySource{memories: []Memory{
		{ID: "e1", Type: TypeGoal, Text: "entity goal one", CreatedAt: now},
	}}

	r := New(Options{Room: room, Entity: entity})
	results, err := r.Retrieve(context.Background(), Query{RoomID: "room-1", CanonicalEntityID: "entity-1"})
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestRetrieveDedupesIdenticalContent(t *testing.T) {
	room := fakeRoomSource{memories: []Memory{
		{ID: "r1", Type: TypeFact, Text: "same text here", CreatedAt: time.Now()},
	}}
	entity := fakeEntitySource{memories: []Memory{
		{ID: "e1", Type: TypeFact, Text: "same text here", CreatedAt: time.Now()},
	}}

	r := New(Options{Room: room, Entity: entity})
	results, err := r.Retrieve(context.Background(), Query{RoomID: "room-1", CanonicalEntityID: "entity-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestRetrieveFallsBackOnEntityError(t *testing.T) {
	room := fakeRoomSource{memories: []Memory{
		{ID: "r1", Type: TypeFact, Text: "room only", CreatedAt: time.Now()},
	}}
	entity := fakeEntitySource{err: errors.New("entity store down")}

	r := New(Options{Room: room, Entity: entity})
	results, err := r.Retrieve(context.Background(), Query{RoomID: "room-1", CanonicalEntityID: "entity-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestRankOrdersByCompositeScore(t *testing.T) {
	now := time.Now()
	memories := []Memory{
		{ID: "old", Type: TypeObservation, Text: "old observation", CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "new", Type: TypeInstruction, Text: "new instruction", CreatedAt: now},
	}
	ranked := rank(context.Background(), memories, Query{}, nil, now)
	require.Len(t, ranked, 2)
	require.Equal(t, "new", ranked[0].ID)
}

func TestRankGuardrailRevertsOutOfBandWeights(t *testing.T) {
	w := Weights{Trust: 0.99, Recency: 0.2, Relevance: 0.3, Type: 0.2}
	sanitized, fired := sanitizeWeights(w)
	require.True(t, fired)
	require.Equal(t, DefaultWeights, sanitized)
}

func TestOverridePolicyRequiresApprovalForUserSource(t *testing.T) {
	require.False(t, overrideAllowed(TrustOverride{Actor: "a", Source: "user", Reason: "r"}))
	require.True(t, overrideAllowed(TrustOverride{Actor: "a", Source: "user", ApprovedBy: "b", Reason: "r"}))
	require.False(t, overrideAllowed(TrustOverride{Actor: "unknown", Source: "user", ApprovedBy: "b", Reason: "r"}))
}

func TestOverridePolicyRequiresApprovedByForApiAndAutomation(t *testing.T) {
	require.False(t, overrideAllowed(TrustOverride{Actor: "a", Source: "api"}))
	require.True(t, overrideAllowed(TrustOverride{Actor: "a", Source: "api", ApprovedBy: "b"}))
	require.True(t, overrideAllowed(TrustOverride{Actor: "a", Source: "automation", ApprovedBy: "b"}))
}

func TestContentHashDistinguishesAfterTruncationBoundary(t *testing.T) {
	prefix := ""
	for i := 0; i < 210; i++ {
		prefix += "a"
	}
	m1 := Memory{Type: TypeFact, Text: prefix + "tail-one"}
	m2 := Memory{Type: TypeFact, Text: prefix + "tail-two"}
	require.NotEqual(t, contentHash(m1), contentHash(m2))
}

func TestContentHashEmptyTextPassesThroughAlways(t *testing.T) {
	require.Equal(t, "", contentHash(Memory{Type: TypeFact, Text: ""}))
}
