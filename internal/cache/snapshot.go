// Package cache provides a Redis-backed cache for materialized version
// snapshots, so repeated diff and merge requests skip decompression.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"spaceforge/api/internal/space"
)

// SnapshotCache caches materialized snapshots keyed by space and version.
// Versions are immutable, so entries never go stale; TTL only bounds memory.
type SnapshotCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSnapshotCache connects to Redis and verifies the connection.
func NewSnapshotCache(redisURL string, ttl time.Duration) (*SnapshotCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewSnapshotCacheWithClient(client, ttl), nil
}

// NewSnapshotCacheWithClient wraps an existing Redis client.
func NewSnapshotCacheWithClient(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SnapshotCache{
		client: client,
		prefix: "snapshot:",
		ttl:    ttl,
	}
}

func (c *SnapshotCache) key(spaceID, versionID string) string {
	return c.prefix + spaceID + ":" + versionID
}

// Get returns the cached snapshot, or nil on a miss. Cache errors are
// returned so callers can log them, but a miss is not an error.
func (c *SnapshotCache) Get(ctx context.Context, spaceID, versionID string) (*space.Snapshot, error) {
	raw, err := c.client.Get(ctx, c.key(spaceID, versionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	var snap space.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decode cached snapshot: %w", err)
	}
	return &snap, nil
}

// Put stores a materialized snapshot with the configured TTL.
func (c *SnapshotCache) Put(ctx context.Context, spaceID, versionID string, snap *space.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key(spaceID, versionID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Invalidate drops the cached entry for a version, used after deletes.
func (c *SnapshotCache) Invalidate(ctx context.Context, spaceID, versionID string) error {
	if err := c.client.Del(ctx, c.key(spaceID, versionID)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *SnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
