// Package orchestrator owns the fetch lifecycle for dashboard metric
// snapshots: deduplication of concurrent triggers, cancellation of superseded
// sessions, bounded retry with fixed delay, stale-while-error cache fallback,
// periodic refresh, and reaction to external change events.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pulseboard/internal/dashboard/cache"
	"pulseboard/internal/dashboard/events"
	dashmetrics "pulseboard/internal/dashboard/metrics"
	"pulseboard/internal/dashboard/models"
	"pulseboard/internal/dashboard/query"
	"pulseboard/internal/dashboard/tracer"
	dErrors "pulseboard/pkg/domain-errors"
	"pulseboard/pkg/platform/circuit"
)

// watchedTables are the tables whose row-level changes invalidate a
// dashboard snapshot.
var watchedTables = []string{"tenants", "tenant_associations", "feature_flags", "leads", "projects"}

// Config tunes the fetch lifecycle.
type Config struct {
	// MaxRetries bounds transient-failure retries per session.
	MaxRetries int
	// RetryDelay is the fixed delay between attempts.
	RetryDelay time.Duration
	// RefreshInterval drives the periodic re-fetch timer.
	RefreshInterval time.Duration
	// CacheDuration is how long a cached snapshot may mask an error.
	CacheDuration time.Duration
	// QueryTimeout bounds a single aggregate query so a hung call cannot
	// hold the per-scope busy flag indefinitely.
	QueryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = time.Minute
	}
	if c.CacheDuration <= 0 {
		c.CacheDuration = 5 * time.Minute
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 30 * time.Second
	}
	return c
}

// Orchestrator manages one scopeActor per open scope. Scopes are independent:
// no operation on one scope blocks or cancels another.
type Orchestrator struct {
	query   query.MetricsQuery
	cache   cache.SnapshotCache
	source  events.ChangeEventSource
	breaker *circuit.Breaker
	cfg     Config
	logger  *slog.Logger
	metrics *dashmetrics.Metrics
	tracer  tracer.Tracer

	mu     sync.Mutex
	scopes map[models.Scope]*scopeActor
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m *dashmetrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithTracer(t tracer.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithBreaker guards the metrics query with a circuit breaker. While open,
// fetches short-circuit to the cache fallback path without hitting the
// backend.
func WithBreaker(b *circuit.Breaker) Option {
	return func(o *Orchestrator) { o.breaker = b }
}

// New creates an orchestrator over the given query, cache, and event source.
func New(q query.MetricsQuery, c cache.SnapshotCache, source events.ChangeEventSource, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		query:  q,
		cache:  c,
		source: source,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
		tracer: tracer.NewNoop(),
		scopes: make(map[models.Scope]*scopeActor),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open activates a scope: subscribes to change events, starts the periodic
// refresh timer, and triggers the initial fetch. Opening an already-open
// scope is a no-op.
func (o *Orchestrator) Open(ctx context.Context, scope models.Scope) error {
	o.mu.Lock()
	if _, exists := o.scopes[scope]; exists {
		o.mu.Unlock()
		return nil
	}

	lifecycleCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &scopeActor{
		o:               o,
		scope:           scope,
		lifecycleCtx:    lifecycleCtx,
		lifecycleCancel: cancel,
	}
	o.scopes[scope] = a
	o.mu.Unlock()

	sub, err := o.source.Subscribe(ctx, events.Filter{
		Tables:   watchedTables,
		TenantID: scope.TenantID,
	}, func(events.ChangeEvent) {
		a.trigger(triggerChangeEvent, false)
	})
	if err != nil {
		o.Close(scope)
		return dErrors.Wrap(err, dErrors.CodeInternal, "subscribe to change events")
	}
	a.mu.Lock()
	if a.closed {
		// Close raced the subscribe call; the actor is already torn down
		// and nothing will unsubscribe later.
		a.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	a.sub = sub
	a.mu.Unlock()

	go a.runTimer()
	a.trigger(triggerActivation, false)
	return nil
}

// Close deactivates a scope: cancels any active fetch session, stops the
// timer, and unsubscribes from the event source. No state mutation happens
// after Close returns.
func (o *Orchestrator) Close(scope models.Scope) {
	o.mu.Lock()
	a, exists := o.scopes[scope]
	if exists {
		delete(o.scopes, scope)
	}
	o.mu.Unlock()
	if !exists {
		return
	}
	a.close()
}

// CloseAll deactivates every open scope. Called on shutdown.
func (o *Orchestrator) CloseAll() {
	o.mu.Lock()
	actors := make([]*scopeActor, 0, len(o.scopes))
	for scope, a := range o.scopes {
		actors = append(actors, a)
		delete(o.scopes, scope)
	}
	o.mu.Unlock()
	for _, a := range actors {
		a.close()
	}
}

// Refresh manually triggers a fetch for an open scope, resetting the retry
// budget. Returns false if the scope is not open.
func (o *Orchestrator) Refresh(scope models.Scope) bool {
	o.mu.Lock()
	a, exists := o.scopes[scope]
	o.mu.Unlock()
	if !exists {
		return false
	}
	a.trigger(triggerManualRefresh, true)
	return true
}

// State returns the observable fetch state for a scope.
func (o *Orchestrator) State(scope models.Scope) (models.State, bool) {
	o.mu.Lock()
	a, exists := o.scopes[scope]
	o.mu.Unlock()
	if !exists {
		return models.State{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state, true
}

func (o *Orchestrator) observeFetch(result string) {
	if o.metrics != nil {
		o.metrics.ObserveFetch(result)
	}
}

func (o *Orchestrator) observeCacheServed(reason string) {
	if o.metrics != nil {
		o.metrics.ObserveCacheServed(reason)
	}
}
