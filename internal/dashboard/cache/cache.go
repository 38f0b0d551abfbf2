// Package cache holds the last successful snapshot per scope together with
// its freshness timestamp. The orchestrator consults it for the
// stale-while-error policy.
package cache

import (
	"context"
	"sync"
	"time"

	"pulseboard/internal/dashboard/models"
)

// SnapshotCache stores the last good snapshot per scope. There is no
// eviction beyond replacement by the next successful fetch; the population
// is bounded by the number of concurrently open dashboards.
type SnapshotCache interface {
	// Get returns the cached snapshot and the time it was stored.
	Get(ctx context.Context, scope models.Scope) (*models.MetricsSnapshot, time.Time, bool)

	// Put stores a snapshot for a scope, replacing any prior entry.
	Put(ctx context.Context, scope models.Scope, snapshot *models.MetricsSnapshot)

	// PutAt stores a snapshot preserving an existing storage timestamp.
	// Rehydration paths use it so a copied entry keeps its original age;
	// the freshness window must never restart on a copy.
	PutAt(ctx context.Context, scope models.Scope, snapshot *models.MetricsSnapshot, storedAt time.Time)
}

type entry struct {
	snapshot *models.MetricsSnapshot
	storedAt time.Time
}

// InMemory is the authoritative in-process snapshot cache.
type InMemory struct {
	mu      sync.RWMutex
	entries map[models.Scope]entry
	now     func() time.Time
}

// NewInMemory creates an empty in-memory snapshot cache.
func NewInMemory() *InMemory {
	return &InMemory{
		entries: make(map[models.Scope]entry),
		now:     time.Now,
	}
}

// Get returns the cached snapshot for the scope, if any.
func (c *InMemory) Get(_ context.Context, scope models.Scope) (*models.MetricsSnapshot, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[scope]
	if !ok {
		return nil, time.Time{}, false
	}
	return e.snapshot, e.storedAt, true
}

// Put replaces the cached snapshot for the scope.
func (c *InMemory) Put(ctx context.Context, scope models.Scope, snapshot *models.MetricsSnapshot) {
	c.PutAt(ctx, scope, snapshot, c.now())
}

// PutAt replaces the cached snapshot keeping the given storage time.
func (c *InMemory) PutAt(_ context.Context, scope models.Scope, snapshot *models.MetricsSnapshot, storedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[scope] = entry{snapshot: snapshot, storedAt: storedAt}
}
