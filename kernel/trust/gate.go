package trust

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/autonomy-kernel/kernel/internal/bus"
	"github.com/autonomy-kernel/kernel/internal/telemetry"
)

// Decision is the MemoryGate's verdict on a piece of content.
type Decision string

const (
	DecisionAllow      Decision = "allow"
	DecisionQuarantine Decision = "quarantine"
	DecisionReject     Decision = "reject"
)

// DisabledSentinel is the TrustScore.Aggregate value that marks a score as
// not computed because the gate is disabled. Decide returns only a Decision
// and a review time, so it never returns this value: a disabled gate allows
// every call and publishes the score its caller passed in.
const DisabledSentinel = -1.0

// Config configures a Gate.
type Config struct {
	WriteThreshold      float64 // default 0.7
	QuarantineThreshold float64 // default 0.3
	MaxQuarantineSize   int     // default 1000
	ReviewAfter         time.Duration
	Disabled            bool
}

func (c Config) withDefaults() Config {
	if c.WriteThreshold == 0 {
		c.WriteThreshold = 0.7
	}
	if c.QuarantineThreshold == 0 {
		c.QuarantineThreshold = 0.3
	}
	if c.MaxQuarantineSize == 0 {
		c.MaxQuarantineSize = 1000
	}
	if c.ReviewAfter == 0 {
		c.ReviewAfter = 24 * time.Hour
	}
	return c
}

// Stats tracks cumulative gate decision counters.
type Stats struct {
	Allowed       uint64
	Quarantined   uint64
	Rejected      uint64
	PendingReview int
}

// QuarantinedItem is a piece of content held pending manual review.
type QuarantinedItem struct {
	ID          string
	Score       Score
	QuarantinedAt time.Time
	ReviewAfter   time.Time
}

// Gate is the MemoryGate (C4) of SPEC_FULL.md §4.3.
type Gate struct {
	cfg     Config
	bus     bus.Bus
	logger  telemetry.Logger
	metrics telemetry.Metrics

	mu       sync.Mutex
	elements map[string]*list.Element // id -> LRU element
	order    *list.List                // front = oldest
	stats    Stats
}

// GateOptions configures a Gate's collaborators.
type GateOptions struct {
	Bus     bus.Bus
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// NewGate constructs a Gate.
func NewGate(cfg Config, opts GateOptions) *Gate {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Gate{
		cfg:      cfg.withDefaults(),
		bus:      opts.Bus,
		logger:   logger,
		metrics:  metrics,
		elements: make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Decide applies the gate's decision rule to score and, for a quarantine
// verdict, enrolls id in the quarantine buffer (evicting the LRU entry if
// the buffer is at capacity).
func (g *Gate) Decide(ctx context.Context, id string, score Score) (Decision, time.Time) {
	if g.cfg.Disabled {
		g.publish(ctx, id, DecisionAllow, score)
		return DecisionAllow, time.Time{}
	}

	switch {
	case score.Aggregate >= g.cfg.WriteThreshold:
		g.mu.Lock()
		g.stats.Allowed++
		g.mu.Unlock()
		g.metrics.IncCounter("autonomy_memory_gate_decisions_total", 1, "decision", "allow")
		g.publish(ctx, id, DecisionAllow, score)
		return DecisionAllow, time.Time{}

	case score.Aggregate >= g.cfg.QuarantineThreshold:
		reviewAfter := defaultNow().Add(g.cfg.ReviewAfter)
		g.enqueue(id, score, reviewAfter)
		g.metrics.IncCounter("autonomy_memory_gate_decisions_total", 1, "decision", "quarantine")
		g.publish(ctx, id, DecisionQuarantine, score)
		return DecisionQuarantine, reviewAfter

	default:
		g.mu.Lock()
		g.stats.Rejected++
		g.mu.Unlock()
		g.metrics.IncCounter("autonomy_memory_gate_decisions_total", 1, "decision", "reject")
		g.publish(ctx, id, DecisionReject, score)
		return DecisionReject, time.Time{}
	}
}

func (g *Gate) enqueue(id string, score Score, reviewAfter time.Time) {
	item := QuarantinedItem{ID: id, Score: score, QuarantinedAt: defaultNow(), ReviewAfter: reviewAfter}

	g.mu.Lock()
	defer g.mu.Unlock()

	if el, ok := g.elements[id]; ok {
		el.Value = item
		g.order.MoveToBack(el)
		return
	}
	if g.order.Len() >= g.cfg.MaxQuarantineSize {
		oldest := g.order.Front()
		if oldest != nil {
			evicted := oldest.Value.(QuarantinedItem)
			delete(g.elements, evicted.ID)
			g.order.Remove(oldest)
		}
	}
	el := g.order.PushBack(item)
	g.elements[id] = el
	g.stats.Quarantined++
	g.metrics.RecordGauge("autonomy_memory_gate_quarantine_size", float64(g.order.Len()))
}

// Review removes id from quarantine, recording the outcome in the
// reliability tracker is the caller's responsibility (via Scorer.Tracker).
// approve=false simply drops the item as rejected.
func (g *Gate) Review(id string, approve bool) (QuarantinedItem, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	el, ok := g.elements[id]
	if !ok {
		return QuarantinedItem{}, false
	}
	item := el.Value.(QuarantinedItem)
	delete(g.elements, id)
	g.order.Remove(el)
	if approve {
		g.stats.Allowed++
	} else {
		g.stats.Rejected++
	}
	g.metrics.RecordGauge("autonomy_memory_gate_quarantine_size", float64(g.order.Len()))
	return item, true
}

// Stats returns a snapshot of cumulative decision counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats
	s.PendingReview = g.order.Len()
	return s
}

// Pending returns every item currently quarantined, oldest first.
func (g *Gate) Pending() []QuarantinedItem {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]QuarantinedItem, 0, g.order.Len())
	for el := g.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(QuarantinedItem))
	}
	return out
}

func (g *Gate) publish(ctx context.Context, id string, decision Decision, score Score) {
	if g.bus == nil {
		return
	}
	_ = g.bus.Publish(ctx, bus.Event{
		Topic: bus.TopicMemoryGateDecision,
		Payload: map[string]any{
			"id":        id,
			"decision":  string(decision),
			"aggregate": score.Aggregate,
		},
	})
}

var defaultNow = time.Now
