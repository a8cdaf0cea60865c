package approval

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/autonomy-kernel/kernel/internal/bus"
	"github.com/autonomy-kernel/kernel/internal/telemetry"
)

// Store is the persistence contract a Persistent gate depends on, concretely
// implemented by adapters/postgres against the autonomy_approvals table of
// SPEC_FULL.md §6.2.
type Store interface {
	// Insert is upsert-on-conflict-do-nothing by id.
	Insert(ctx context.Context, req Request) error
	// UpdateDecision is a single UPDATE recording the resolution.
	UpdateDecision(ctx context.Context, id string, decision Decision, decidedBy string, decidedAt time.Time) error
	// LoadPending returns every row with decision IS NULL AND expires_at > now.
	LoadPending(ctx context.Context, now time.Time) ([]Request, error)
}

// Persistent is a Gate that mirrors every request/resolution to Store while
// preserving InMemory's in-process suspend/resume semantics. Persistence
// I/O failures never block approval flow: they are logged as warnings and
// in-memory semantics proceed unaffected, per SPEC_FULL.md §4.8.
type Persistent struct {
	*InMemory
	store  Store
	logger telemetry.Logger
}

// PersistentOptions configures a Persistent gate.
type PersistentOptions struct {
	Store   Store
	Timeout time.Duration
	Bus     bus.Bus
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// NewPersistent constructs a Persistent gate and runs HydratePending
// synchronously before returning, per SPEC_FULL.md §4.8 ("runs at
// construction time").
func NewPersistent(ctx context.Context, opts PersistentOptions) (*Persistent, error) {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	inMem := NewInMemory(Options{Timeout: opts.Timeout, Bus: opts.Bus, Logger: logger, Metrics: opts.Metrics})
	p := &Persistent{InMemory: inMem, store: opts.Store, logger: logger}
	if err := p.HydratePending(ctx); err != nil {
		logger.Warn(ctx, "approval: hydrate pending failed", "err", err)
	}
	return p, nil
}

// HydratePending re-populates the in-memory pending set from persisted rows
// with decision IS NULL AND expires_at > now, arming a timer for the
// remaining TTL of each.
func (p *Persistent) HydratePending(ctx context.Context) error {
	rows, err := p.store.LoadPending(ctx, p.now())
	if err != nil {
		return err
	}
	for _, req := range rows {
		remaining := req.ExpiresAt.Sub(p.now())
		if remaining <= 0 {
			continue
		}
		entry := &pendingEntry{request: req, resultC: make(chan Result, 1)}
		id := req.ID
		p.mu.Lock()
		p.pending[id] = entry
		p.mu.Unlock()
		entry.timer = time.AfterFunc(remaining, func() {
			p.resolveInternal(context.Background(), id, DecisionExpired, "")
		})
	}
	return nil
}

// RequestApproval persists the request before suspending the caller, same
// as InMemory otherwise.
func (p *Persistent) RequestApproval(ctx context.Context, tool string, params map[string]any, riskClass RiskClass, requestID string) (Result, error) {
	id := uuid.NewString()
	now := p.now()
	req := Request{
		ID:          id,
		Tool:        tool,
		Params:      params,
		RiskClass:   riskClass,
		RequestID:   requestID,
		RequestedAt: now,
		ExpiresAt:   now.Add(p.timeout),
		Decision:    DecisionPending,
	}

	entry := &pendingEntry{request: req, resultC: make(chan Result, 1)}
	p.mu.Lock()
	p.pending[id] = entry
	p.mu.Unlock()

	if err := p.store.Insert(ctx, req); err != nil {
		p.logger.Warn(ctx, "approval: persist request failed", "err", err, "id", id)
	}
	p.publish(ctx, bus.TopicApprovalRequested, req)
	p.metrics.IncCounter("autonomy_approval_requested_total", 1, "tool", tool)

	entry.timer = time.AfterFunc(p.timeout, func() {
		p.resolveInternal(context.Background(), id, DecisionExpired, "")
	})

	select {
	case result := <-entry.resultC:
		return result, nil
	case <-ctx.Done():
		p.resolveInternal(context.Background(), id, DecisionExpired, "")
		return Result{ID: id, Decision: DecisionExpired}, ctx.Err()
	}
}

// Resolve persists the decision in addition to InMemory's resolution. An
// unknown id still persists the out-of-band decision via the store, per
// SPEC_FULL.md §4.8's persistent-variant semantics.
func (p *Persistent) Resolve(ctx context.Context, id string, decision Decision, decidedBy string) bool {
	resolved := p.resolveInternal(ctx, id, decision, decidedBy)
	if err := p.store.UpdateDecision(ctx, id, decision, decidedBy, p.now()); err != nil {
		p.logger.Warn(ctx, "approval: persist decision failed", "err", err, "id", id)
	}
	return resolved
}
