package retriever

import (
	"context"
	"time"

	"github.com/autonomy-kernel/kernel/internal/bus"
	"github.com/autonomy-kernel/kernel/internal/telemetry"
)

const defaultFetchLimit = 100

// Retriever is the TrustAwareRetriever (C5) of SPEC_FULL.md §4.4.
type Retriever struct {
	room      RoomSource
	roomSem   EmbeddingSearcher // optional, preferred over room when query has an embedding
	entity    EntitySource
	entitySem EmbeddingSearcher // optional, preferred on the entity side when query has an embedding
	bus       bus.Bus
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	now       func() time.Time
}

// Options configures a Retriever's collaborators.
type Options struct {
	Room             RoomSource
	RoomEmbedding    EmbeddingSearcher
	Entity           EntitySource
	EntityEmbedding  EmbeddingSearcher
	Bus              bus.Bus
	Logger           telemetry.Logger
	Metrics          telemetry.Metrics
}

// New constructs a Retriever. Room is required; Entity and the embedding
// searchers are optional per SPEC_FULL.md §4.4.
func New(opts Options) *Retriever {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Retriever{
		room:      opts.Room,
		roomSem:   opts.RoomEmbedding,
		entity:    opts.Entity,
		entitySem: opts.EntityEmbedding,
		bus:       opts.Bus,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Retrieve fetches, deduplicates, and ranks memories for q, per the two-phase
// flow of SPEC_FULL.md §4.4: room phase always runs; an entity phase runs
// additionally when q.CanonicalEntityID is set. Entity-source errors never
// propagate — the retriever logs and falls back to room-only results.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]Memory, error) {
	roomMemories, err := r.fetchRoom(ctx, q)
	if err != nil {
		return nil, err
	}

	var entityMemories []Memory
	if q.CanonicalEntityID != "" && r.entity != nil {
		entityMemories = r.fetchEntity(ctx, q)
	}

	merged := dedupe(roomMemories, entityMemories)
	ranked := rank(ctx, merged, q, r.bus, r.now())
	return ranked, nil
}

func (r *Retriever) fetchRoom(ctx context.Context, q Query) ([]Memory, error) {
	limit := fetchLimit(q)
	if len(q.Embedding) > 0 && r.roomSem != nil {
		return r.roomSem.SearchByEmbedding(ctx, q.Embedding, limit)
	}
	if r.room == nil {
		return nil, nil
	}
	return r.room.FetchRoomMemories(ctx, q.RoomID, limit)
}

func (r *Retriever) fetchEntity(ctx context.Context, q Query) []Memory {
	limit := fetchLimit(q)
	if len(q.Embedding) > 0 && r.entitySem != nil {
		memories, err := r.entitySem.SearchByEmbedding(ctx, q.Embedding, limit)
		if err != nil {
			r.logger.Warn(ctx, "retriever: entity embedding search failed, falling back to room-only", "err", err)
			return nil
		}
		return memories
	}
	memories, err := r.entity.FetchEntityMemories(ctx, q.CanonicalEntityID, []Tier{TierMidTerm, TierLongTerm}, limit)
	if err != nil {
		r.logger.Warn(ctx, "retriever: entity memory fetch failed, falling back to room-only", "err", err)
		return nil
	}
	return memories
}

func fetchLimit(q Query) int {
	if q.MaxResults > 0 && q.MaxResults < defaultFetchLimit {
		return defaultFetchLimit
	}
	if q.MaxResults > maxResultsCap {
		return maxResultsCap
	}
	if q.MaxResults > 0 {
		return q.MaxResults
	}
	return defaultFetchLimit
}
