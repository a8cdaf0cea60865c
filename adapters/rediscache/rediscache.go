// Package rediscache implements a distributed backing store over
// github.com/redis/go-redis/v9 for two concerns that are otherwise
// single-process-only in the kernel: TrustAwareRetriever's content-hash
// dedup (kernel/retriever) and MemoryGate's quarantine buffer
// (kernel/trust), so a multi-instance kernel deployment shares both across
// processes.
//
// Grounded on the teacher corpus's options-struct-wraps-a-redis.Client
// shape (features/stream/pulse/clients/pulse.Client), substituting plain
// go-redis commands for goa.design/pulse streaming since the kernel has no
// stream-processing dependency of its own.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures a Cache.
type Options struct {
	// Redis is the connection the cache is backed by. Required.
	Redis *redis.Client
	// KeyPrefix namespaces every key this cache writes. Defaults to
	// "autonomy-kernel:".
	KeyPrefix string
	// ContentHashTTL bounds how long a seen content hash is remembered.
	// Defaults to 24h.
	ContentHashTTL time.Duration
}

// Cache wraps a Redis connection and exposes the subset of operations the
// kernel's cross-process dedup and quarantine-mirroring concerns need.
type Cache struct {
	redis          *redis.Client
	prefix         string
	contentHashTTL time.Duration
}

// New constructs a Cache. Returns an error if opts.Redis is nil.
func New(opts Options) (*Cache, error) {
	if opts.Redis == nil {
		return nil, errors.New("rediscache: redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "autonomy-kernel:"
	}
	ttl := opts.ContentHashTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{redis: opts.Redis, prefix: prefix, contentHashTTL: ttl}, nil
}

// Close releases resources owned by the Cache. The caller typically owns
// the Redis connection's lifecycle independently.
func (c *Cache) Close(ctx context.Context) error {
	return nil
}

func (c *Cache) contentHashKey(hash string) string {
	return c.prefix + "dedup:" + hash
}

// SeenContentHash atomically records hash as seen and reports whether it
// had already been recorded by another process, backing
// kernel/retriever's in-process dedup with a cross-process equivalent.
func (c *Cache) SeenContentHash(ctx context.Context, hash string) (bool, error) {
	ok, err := c.redis.SetNX(ctx, c.contentHashKey(hash), 1, c.contentHashTTL).Result()
	if err != nil {
		return false, fmt.Errorf("rediscache: record content hash: %w", err)
	}
	return !ok, nil // SetNX returns true when the key was newly set, i.e. not previously seen
}

func (c *Cache) quarantineZSetKey() string {
	return c.prefix + "quarantine:order"
}

func (c *Cache) quarantineItemKey(id string) string {
	return c.prefix + "quarantine:item:" + id
}

// QuarantineRecord mirrors trust.QuarantinedItem for cross-process storage.
type QuarantineRecord struct {
	ID            string    `json:"id"`
	Score         float64   `json:"score"`
	QuarantinedAt time.Time `json:"quarantined_at"`
	ReviewAfter   time.Time `json:"review_after"`
}

// PutQuarantined mirrors a quarantine decision into Redis, keyed by
// quarantine time so cross-process eviction can still observe LRU order
// via ZRANGEBYSCORE.
func (c *Cache) PutQuarantined(ctx context.Context, rec QuarantineRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rediscache: marshal quarantine record: %w", err)
	}
	pipe := c.redis.TxPipeline()
	pipe.ZAdd(ctx, c.quarantineZSetKey(), redis.Z{Score: float64(rec.QuarantinedAt.UnixNano()), Member: rec.ID})
	pipe.Set(ctx, c.quarantineItemKey(rec.ID), payload, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rediscache: put quarantined: %w", err)
	}
	return nil
}

// RemoveQuarantined removes id from both the ordering set and item store,
// mirroring a Review() resolution or an LRU eviction.
func (c *Cache) RemoveQuarantined(ctx context.Context, id string) error {
	pipe := c.redis.TxPipeline()
	pipe.ZRem(ctx, c.quarantineZSetKey(), id)
	pipe.Del(ctx, c.quarantineItemKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rediscache: remove quarantined: %w", err)
	}
	return nil
}

// OldestQuarantined returns up to limit of the longest-quarantined records,
// mirroring the in-memory LRU's eviction-candidate ordering.
func (c *Cache) OldestQuarantined(ctx context.Context, limit int64) ([]QuarantineRecord, error) {
	ids, err := c.redis.ZRange(ctx, c.quarantineZSetKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("rediscache: list quarantined: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.quarantineItemKey(id)
	}
	values, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("rediscache: fetch quarantined items: %w", err)
	}

	var out []QuarantineRecord
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec QuarantineRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("rediscache: unmarshal quarantine record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// QuarantineSize returns the number of currently quarantined items across
// every process sharing this Cache.
func (c *Cache) QuarantineSize(ctx context.Context) (int64, error) {
	n, err := c.redis.ZCard(ctx, c.quarantineZSetKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("rediscache: quarantine size: %w", err)
	}
	return n, nil
}
