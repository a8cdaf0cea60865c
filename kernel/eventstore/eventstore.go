// Package eventstore implements the tamper-evident, hash-chained append-only
// event log (component C1) described in SPEC_FULL.md §4.1. Every kernel
// stage appends an Event; verifyChain lets a caller confirm the chain was
// not tampered with, even across a bounded ring's eviction.
package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autonomy-kernel/kernel/internal/telemetry"
)

// Type enumerates the ExecutionEvent.type values of SPEC_FULL.md §3.
type Type string

const (
	TypeProposed                    Type = "proposed"
	TypeValidated                    Type = "validated"
	TypeApprovalRequested           Type = "approval:requested"
	TypeApprovalResolved            Type = "approval:resolved"
	TypeExecuting                    Type = "executing"
	TypeExecuted                     Type = "executed"
	TypeVerified                     Type = "verified"
	TypeCompensated                  Type = "compensated"
	TypeCompensationIncidentOpened  Type = "compensation:incident:opened"
	TypeInvariantsChecked            Type = "invariants:checked"
	TypeDecisionLogged               Type = "decision:logged"
	TypeFailed                       Type = "failed"
)

// Event is the ExecutionEvent of SPEC_FULL.md §3.
type Event struct {
	SequenceID    uint64
	RequestID     string
	CorrelationID string
	Type          Type
	Payload       map[string]any
	Timestamp     time.Time
	PrevHash      string
	EventHash     string
}

// ChainVerification is the result of verifyChain.
type ChainVerification struct {
	Valid                bool
	FirstInvalidSequence uint64
	Reason               string
	Truncated            bool
}

// Store is the C1 contract of SPEC_FULL.md §4.1.
type Store interface {
	// Append computes prevHash from the global chain tail, stamps the event
	// with a new sequenceID and eventHash, stores it, and returns the
	// sequenceID. Append never fails for a well-formed event.
	Append(ctx context.Context, requestID string, typ Type, payload map[string]any, correlationID string) (uint64, error)
	// GetByRequestID returns every retained event for requestID, ordered by
	// SequenceID ascending.
	GetByRequestID(ctx context.Context, requestID string) ([]Event, error)
	// GetByCorrelationID returns every retained event sharing correlationID,
	// ordered by SequenceID ascending.
	GetByCorrelationID(ctx context.Context, correlationID string) ([]Event, error)
	// VerifyChain re-canonicalizes and re-hashes each event and checks chain
	// continuity (event[k].PrevHash == event[k-1].EventHash). A gap at the
	// front of the slice is treated as a permitted truncation, not a
	// corruption, per SPEC_FULL.md §4.1.
	VerifyChain(events []Event) ChainVerification
}

// Options configures an InMemory store.
type Options struct {
	// Capacity bounds the ring. Defaults to 10000 per SPEC_FULL.md §4.1.
	Capacity int
	// Archive is optionally notified, in eviction order, of every event
	// dropped from the ring so long-term audit storage can retain it.
	Archive Archiver
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// Archiver persists events that are about to be evicted from the ring.
// Implementations must not block indefinitely; Append calls Archive
// synchronously immediately before eviction.
type Archiver interface {
	Archive(ctx context.Context, evicted Event) error
}

// InMemory is a bounded, FIFO-evicting ring buffer implementation of Store.
type InMemory struct {
	mu       sync.Mutex
	capacity int
	events   []Event
	head     int // index of oldest retained event within events (ring semantics via slice+offset)
	count    int
	nextSeq  uint64
	tailHash string
	evicted  uint64
	archive  Archiver
	logger   telemetry.Logger
	metrics  telemetry.Metrics
}

// New constructs a bounded in-memory EventStore.
func New(opts Options) *InMemory {
	cap := opts.Capacity
	if cap <= 0 {
		cap = 10000
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
		capacity: cap,
		events:   make([]Event, 0, cap),
		archive:  opts.Archive,
		logger:   logger,
		metrics:  metrics,
	}
}

// Append implements Store.
func (s *InMemory) Append(ctx context.Context, requestID string, typ Type, payload map[string]any, correlationID string) (uint64, error) {
	s.mu.Lock()
	seq := s.nextSeq
	s.nextSeq++
	ts := now()
	evt := Event{
		SequenceID:    seq,
		RequestID:     requestID,
		CorrelationID: correlationID,
		Type:          typ,
		Payload:       payload,
		Timestamp:     ts,
		PrevHash:      s.tailHash,
	}
	evt.EventHash = ComputeEventHash(evt)
	s.tailHash = evt.EventHash

	if len(s.events) >= s.capacity {
		evicted := s.events[0]
		s.events = s.events[1:]
		s.evicted++
		if s.archive != nil {
			// Archive synchronously before dropping; failures are logged but
			// never block eviction (the ring is an audit trail, not the
			// archive's durability mechanism).
			if err := s.archive.Archive(ctx, evicted); err != nil {
				s.logger.Warn(ctx, "eventstore: archive evicted event failed", "err", err, "sequence_id", evicted.SequenceID)
			}
		}
	}
	s.events = append(s.events, evt)
	s.mu.Unlock()

	s.metrics.IncCounter("autonomy_eventstore_appends_total", 1, "type", string(typ))
	return seq, nil
}

// GetByRequestID implements Store.
func (s *InMemory) GetByRequestID(_ context.Context, requestID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetByCorrelationID implements Store.
func (s *InMemory) GetByCorrelationID(_ context.Context, correlationID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out, nil
}

// VerifyChain implements Store.
func (s *InMemory) VerifyChain(events []Event) ChainVerification {
	if len(events) == 0 {
		return ChainVerification{Valid: true}
	}
	for i, e := range events {
		if ComputeEventHash(e) != e.EventHash {
			return ChainVerification{Valid: false, FirstInvalidSequence: e.SequenceID, Reason: "event content hash mismatch"}
		}
		if i == 0 {
			continue // first event's PrevHash may be any value (truncation-tolerant).
		}
		if e.PrevHash != events[i-1].EventHash {
			return ChainVerification{Valid: false, FirstInvalidSequence: e.SequenceID, Reason: "chain discontinuity"}
		}
	}
	s.mu.Lock()
	truncated := s.evicted > 0
	s.mu.Unlock()
	return ChainVerification{Valid: true, Truncated: truncated}
}

// EvictedCount returns the number of events dropped from the ring so far.
func (s *InMemory) EvictedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

// NewRequestID generates a fresh request id for callers that need one
// outside a pipeline (e.g. tests, CLI tools).
func NewRequestID() string { return uuid.NewString() }

// now is a seam for deterministic tests; production code always calls time.Now.
var now = defaultNow

func defaultNow() time.Time { return time.Now().UTC() }
