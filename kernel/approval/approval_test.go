package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequestApprovalGranted(t *testing.T) {
	g := NewInMemory(Options{Timeout: time.Second})
	defer g.Dispose()

	var wg sync.WaitGroup
	var result Result
	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		result, err = g.RequestApproval(context.Background(), "delete_file", nil, "reversible", "req-1")
		require.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		return len(g.GetPending()) == 1
	}, time.Second, time.Millisecond)

	pending := g.GetPending()
	require.Len(t, pending, 1)
	ok := g.Resolve(context.Background(), pending[0].ID, DecisionGranted, "operator-1")
	require.True(t, ok)

	wg.Wait()
	require.Equal(t, DecisionGranted, result.Decision)
}

func TestRequestApprovalExpires(t *testing.T) {
	g := NewInMemory(Options{Timeout: 10 * time.Millisecond})
	defer g.Dispose()

	result, err := g.RequestApproval(context.Background(), "delete_file", nil, "reversible", "req-1")
	require.NoError(t, err)
	require.Equal(t, DecisionExpired, result.Decision)
}

func TestResolveUnknownIDReturnsFalse(t *testing.T) {
	g := NewInMemory(Options{})
	defer g.Dispose()
	require.False(t, g.Resolve(context.Background(), "ghost", DecisionGranted, ""))
}

func TestResolveIsAtMostOnce(t *testing.T) {
	g := NewInMemory(Options{Timeout: time.Second})
	defer g.Dispose()

	go g.RequestApproval(context.Background(), "tool", nil, "reversible", "req-1")
	require.Eventually(t, func() bool { return len(g.GetPending()) == 1 }, time.Second, time.Millisecond)

	id := g.GetPending()[0].ID
	require.True(t, g.Resolve(context.Background(), id, DecisionGranted, "op"))
	require.False(t, g.Resolve(context.Background(), id, DecisionDenied, "op"))
}

type fakeStore struct {
	mu       sync.Mutex
	rows     map[string]Request
}

func newFakeStore() *fakeStore { return &fakeStore{rows: make(map[string]Request)} }

func (s *fakeStore) Insert(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[req.ID]; ok {
		return nil
	}
	s.rows[req.ID] = req
	return nil
}

func (s *fakeStore) UpdateDecision(_ context.Context, id string, decision Decision, decidedBy string, decidedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil
	}
	row.Decision = decision
	row.DecidedBy = decidedBy
	row.DecidedAt = decidedAt
	s.rows[id] = row
	return nil
}

func (s *fakeStore) LoadPending(_ context.Context, now time.Time) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, row := range s.rows {
		if row.Decision == DecisionPending && row.ExpiresAt.After(now) {
			out = append(out, row)
		}
	}
	return out, nil
}

func TestPersistentHydratesPendingOnConstruction(t *testing.T) {
	store := newFakeStore()
	store.rows["hydrated-1"] = Request{
		ID: "hydrated-1", Tool: "tool", Decision: DecisionPending,
		RequestedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute),
	}

	p, err := NewPersistent(context.Background(), PersistentOptions{Store: store})
	require.NoError(t, err)
	defer p.Dispose()

	pending := p.GetPending()
	require.Len(t, pending, 1)
	require.Equal(t, "hydrated-1", pending[0].ID)
}

func TestPersistentPersistsDecision(t *testing.T) {
	store := newFakeStore()
	p, err := NewPersistent(context.Background(), PersistentOptions{Store: store, Timeout: time.Second})
	require.NoError(t, err)
	defer p.Dispose()

	go p.RequestApproval(context.Background(), "tool", nil, "reversible", "req-1")
	require.Eventually(t, func() bool { return len(p.GetPending()) == 1 }, time.Second, time.Millisecond)

	id := p.GetPending()[0].ID
	require.True(t, p.Resolve(context.Background(), id, DecisionGranted, "op"))

	row, ok := store.rows[id]
	require.True(t, ok)
	require.Equal(t, DecisionGranted, row.Decision)
}
