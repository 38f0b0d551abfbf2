package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"pulseboard/internal/dashboard/models"
)

const keyPrefix = "pulseboard:snapshot:"

type mirrorEntry struct {
	Snapshot *models.MetricsSnapshot `json:"snapshot"`
	StoredAt time.Time               `json:"stored_at"`
}

// RedisMirror layers a Redis copy under an in-memory cache. Writes go
// through to Redis; reads fall back to Redis only on an in-memory miss, so a
// restarted instance can serve a recent snapshot before its first fetch
// completes. Redis failures degrade silently to memory-only behavior.
type RedisMirror struct {
	local  SnapshotCache
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisMirror wraps the local cache with a Redis write-through mirror.
// Entries expire after ttl; a mirror entry older than the orchestrator's
// cacheDuration is ignored by the freshness check anyway.
func NewRedisMirror(local SnapshotCache, client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisMirror {
	return &RedisMirror{local: local, client: client, ttl: ttl, logger: logger}
}

// Get prefers the local cache and falls back to the Redis mirror.
func (c *RedisMirror) Get(ctx context.Context, scope models.Scope) (*models.MetricsSnapshot, time.Time, bool) {
	if snapshot, storedAt, ok := c.local.Get(ctx, scope); ok {
		return snapshot, storedAt, true
	}

	raw, err := c.client.Get(ctx, keyPrefix+scope.String()).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("snapshot mirror read failed", "scope", scope.String(), "error", err)
		}
		return nil, time.Time{}, false
	}

	var e mirrorEntry
	if err := json.Unmarshal(raw, &e); err != nil || e.Snapshot == nil {
		return nil, time.Time{}, false
	}

	// Warm the local cache so subsequent reads stay in-process. The mirror
	// entry's storage time rides along: warming must not restart the
	// freshness window of an already-aged snapshot.
	c.local.PutAt(ctx, scope, e.Snapshot, e.StoredAt)
	return e.Snapshot, e.StoredAt, true
}

// Put writes to the local cache and mirrors to Redis.
func (c *RedisMirror) Put(ctx context.Context, scope models.Scope, snapshot *models.MetricsSnapshot) {
	c.PutAt(ctx, scope, snapshot, time.Now().UTC())
}

// PutAt writes to the local cache and mirrors to Redis, keeping the given
// storage time.
func (c *RedisMirror) PutAt(ctx context.Context, scope models.Scope, snapshot *models.MetricsSnapshot, storedAt time.Time) {
	c.local.PutAt(ctx, scope, snapshot, storedAt)

	raw, err := json.Marshal(mirrorEntry{Snapshot: snapshot, StoredAt: storedAt})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+scope.String(), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("snapshot mirror write failed", "scope", scope.String(), "error", err)
	}
}
