// Package approval implements the ApprovalGate (component C10) of
// SPEC_FULL.md §4.8: requesting operator approval for a gated tool call,
// suspending the caller until a decision or timeout, and exposing pending
// requests for out-of-band resolution.
//
// The suspend/resolve shape is adapted from the teacher's
// interrupt.Controller signal-channel pattern (runtime/agent/interrupt),
// substituting a per-request Go channel for a Temporal workflow signal
// channel since the kernel has no durable-workflow engine.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autonomy-kernel/kernel/internal/bus"
	"github.com/autonomy-kernel/kernel/internal/telemetry"
)

// Decision is the outcome of an approval request.
type Decision string

const (
	DecisionPending Decision = "pending"
	DecisionGranted Decision = "granted"
	DecisionDenied  Decision = "denied"
	DecisionExpired Decision = "expired"
)

// DefaultTimeout is the default approval wait of SPEC_FULL.md §5 (5 minutes).
const DefaultTimeout = 5 * time.Minute

// RiskClass mirrors schema.RiskClass, restated locally to avoid a kernel/
// schema <-> kernel/approval import cycle.
type RiskClass string

// Request is the ApprovalRequest of SPEC_FULL.md §3.
type Request struct {
	ID         string
	Tool       string
	Params     map[string]any
	RiskClass  RiskClass
	RequestID  string
	RequestedAt time.Time
	ExpiresAt   time.Time
	Decision    Decision
	DecidedBy   string
	DecidedAt   time.Time
}

func (r Request) clone() Request { return r }

// Result is returned to the pipeline once a request resolves.
type Result struct {
	ID       string
	Decision Decision
}

// Gate is the ApprovalGate (C10) contract.
type Gate interface {
	// RequestApproval enrolls a new approval request and blocks until it is
	// resolved, the timeout fires, or ctx is canceled.
	RequestApproval(ctx context.Context, tool string, params map[string]any, riskClass RiskClass, requestID string) (Result, error)
	// Resolve records an out-of-band decision for id. Returns false
	// (in-memory variant) if id is unknown; the persistent variant records
	// the decision anyway.
	Resolve(ctx context.Context, id string, decision Decision, decidedBy string) bool
	// GetPending returns every request still awaiting a decision.
	GetPending() []Request
	// GetPendingByID returns request id if it is still pending.
	GetPendingByID(id string) (Request, bool)
	// Dispose releases timers/resources held by the gate.
	Dispose()
}

type pendingEntry struct {
	request Request
	resultC chan Result
	timer   *time.Timer
	done    bool
}

// InMemory is a Gate backed entirely by in-process state; approval history
// does not survive a process restart.
type InMemory struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
	timeout time.Duration
	bus     bus.Bus
	logger  telemetry.Logger
	metrics telemetry.Metrics
	now     func() time.Time
}

// Options configures an InMemory gate.
type Options struct {
	Timeout time.Duration // defaults to DefaultTimeout
	Bus     bus.Bus
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// NewInMemory constructs an InMemory ApprovalGate.
func NewInMemory(opts Options) *InMemory {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &InMemory{
		pending: make(map[string]*pendingEntry),
		timeout: timeout,
		bus:     opts.Bus,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// RequestApproval implements Gate.
func (g *InMemory) RequestApproval(ctx context.Context, tool string, params map[string]any, riskClass RiskClass, requestID string) (Result, error) {
	id := uuid.NewString()
	now := g.now()
	req := Request{
		ID:          id,
		Tool:        tool,
		Params:      params,
		RiskClass:   riskClass,
		RequestID:   requestID,
		RequestedAt: now,
		ExpiresAt:   now.Add(g.timeout),
		Decision:    DecisionPending,
	}

	entry := &pendingEntry{request: req, resultC: make(chan Result, 1)}
	g.mu.Lock()
	g.pending[id] = entry
	g.mu.Unlock()
	g.publish(ctx, bus.TopicApprovalRequested, req)
	g.metrics.IncCounter("autonomy_approval_requested_total", 1, "tool", tool)

	entry.timer = time.AfterFunc(g.timeout, func() {
		g.resolveInternal(context.Background(), id, DecisionExpired, "")
	})

	select {
	case result := <-entry.resultC:
		return result, nil
	case <-ctx.Done():
		g.resolveInternal(context.Background(), id, DecisionExpired, "")
		return Result{ID: id, Decision: DecisionExpired}, ctx.Err()
	}
}

// Resolve implements Gate.
func (g *InMemory) Resolve(ctx context.Context, id string, decision Decision, decidedBy string) bool {
	return g.resolveInternal(ctx, id, decision, decidedBy)
}

func (g *InMemory) resolveInternal(ctx context.Context, id string, decision Decision, decidedBy string) bool {
	g.mu.Lock()
	entry, ok := g.pending[id]
	if !ok || entry.done {
		g.mu.Unlock()
		return false
	}
	entry.done = true
	entry.request.Decision = decision
	entry.request.DecidedBy = decidedBy
	entry.request.DecidedAt = g.now()
	req := entry.request
	delete(g.pending, id)
	g.mu.Unlock()

	if entry.timer != nil {
		entry.timer.Stop()
	}
	g.publish(ctx, bus.TopicApprovalResolved, req)
	g.metrics.IncCounter("autonomy_approval_resolved_total", 1, "decision", string(decision))
	entry.resultC <- Result{ID: id, Decision: decision}
	return true
}

// GetPending implements Gate.
func (g *InMemory) GetPending() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Request, 0, len(g.pending))
	for _, e := range g.pending {
		out = append(out, e.request.clone())
	}
	return out
}

// GetPendingByID implements Gate.
func (g *InMemory) GetPendingByID(id string) (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.pending[id]
	if !ok {
		return Request{}, false
	}
	return e.request.clone(), true
}

// Dispose implements Gate: stops every outstanding timer.
func (g *InMemory) Dispose() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}

func (g *InMemory) publish(ctx context.Context, topic string, req Request) {
	if g.bus == nil {
		return
	}
	_ = g.bus.Publish(ctx, bus.Event{
		Topic: topic,
		Payload: map[string]any{
			"id":         req.ID,
			"tool":       req.Tool,
			"risk_class": string(req.RiskClass),
			"decision":   string(req.Decision),
			"request_id": req.RequestID,
		},
	})
}
