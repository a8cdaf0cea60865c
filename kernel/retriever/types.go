// Package retriever implements the TrustAwareRetriever (component C5) of
// SPEC_FULL.md §4.4: fetching candidate memories from room and entity
// sources, deduplicating, ranking, and applying trust overrides.
package retriever

import (
	"context"
	"time"
)

// MemoryType enumerates the typeBoost table of SPEC_FULL.md §4.4.
type MemoryType string

const (
	TypeInstruction MemoryType = "instruction"
	TypeSystem      MemoryType = "system"
	TypeFact        MemoryType = "fact"
	TypeGoal        MemoryType = "goal"
	TypePreference  MemoryType = "preference"
	TypeObservation MemoryType = "observation"
	TypeAction      MemoryType = "action"
)

// Tier distinguishes entity-scoped memory horizons.
type Tier string

const (
	TierMidTerm  Tier = "mid-term"
	TierLongTerm Tier = "long-term"
)

// Memory is the TypedMemory of SPEC_FULL.md §3.
type Memory struct {
	ID                string
	RoomID            string
	CanonicalEntityID string
	Type              MemoryType
	Tier              Tier
	Text              string
	Embedding         []float64
	CreatedAt         time.Time
	Metadata          map[string]any // may carry "trust", "similarity"
}

// RoomSource fetches time-ordered memories for a room.
type RoomSource interface {
	FetchRoomMemories(ctx context.Context, roomID string, limit int) ([]Memory, error)
}

// EmbeddingSearcher performs semantic search when a query embedding is
// present. Implementations may be used against either the room or the
// entity source.
type EmbeddingSearcher interface {
	SearchByEmbedding(ctx context.Context, embedding []float64, limit int) ([]Memory, error)
}

// EntitySource fetches entity-scoped memories across mid-term/long-term
// tiers. Errors from this collaborator never propagate to the caller; the
// retriever falls back to room-only results and logs.
type EntitySource interface {
	FetchEntityMemories(ctx context.Context, canonicalEntityID string, tiers []Tier, limit int) ([]Memory, error)
}

// Weights configures the ranking composite score.
type Weights struct {
	Trust     float64
	Recency   float64
	Relevance float64
	Type      float64
}

// TypeBoosts maps MemoryType to its default boost multiplier.
var TypeBoosts = map[MemoryType]float64{
	TypeInstruction: 1.0,
	TypeSystem:      1.0,
	TypeFact:        0.9,
	TypeGoal:        0.85,
	TypePreference:  0.8,
	TypeObservation: 0.6,
	TypeAction:      0.7,
}

// DefaultWeights is the Scorer's equal-ish default, per SPEC_FULL.md §4.4.
var DefaultWeights = Weights{Trust: 0.3, Recency: 0.2, Relevance: 0.3, Type: 0.2}

// TrustOverride optionally rewrites a memory's effective trust at query
// time, subject to the policy in SPEC_FULL.md §4.4.
type TrustOverride struct {
	Actor      string
	Source     string // "user" | "api" | "automation"
	ApprovedBy string
	Reason     string
	Value      float64
}

// Query is a retrieval request.
type Query struct {
	RoomID            string
	CanonicalEntityID string
	Embedding         []float64
	MaxResults        int
	Weights           *Weights // nil -> DefaultWeights
	TypeBoosts        map[MemoryType]float64 // nil -> TypeBoosts
	Override          *TrustOverride
}

// AuditEvent describes a rank-guardrail firing or trust override decision.
// The retriever does not construct it: it publishes those audits as bus
// events with map payloads.
type AuditEvent struct {
	Kind   string // "rank-guardrail" | "trust-override"
	Detail map[string]any
}
