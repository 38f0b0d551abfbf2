package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulseboard/internal/dashboard/events"
	"pulseboard/internal/dashboard/models"
	"pulseboard/internal/dashboard/tracer"
	dErrors "pulseboard/pkg/domain-errors"
)

// Trigger reasons, recorded on spans and logs.
const (
	triggerActivation    = "activation"
	triggerInterval      = "interval"
	triggerChangeEvent   = "change_event"
	triggerManualRefresh = "manual_refresh"
)

// fetchSession is the bookkeeping for one fetch cycle. At most one session is
// active per scope at any instant; starting a new one cancels the prior one.
// The session identity (not arrival time) fences state updates: a superseded
// session's result is discarded even if it resolves after a newer session
// completed.
type fetchSession struct {
	id        uuid.UUID
	attempt   int
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// scopeActor serializes all fetch state for one scope. Cross-scope operations
// share nothing beyond the orchestrator's scope registry.
type scopeActor struct {
	o     *Orchestrator
	scope models.Scope

	lifecycleCtx    context.Context
	lifecycleCancel context.CancelFunc

	mu      sync.Mutex
	state   models.State
	session *fetchSession // non-nil means a fetch is in flight (busy flag)
	sub     events.Subscription
	closed  bool
}

// trigger funnels every fetch source (activation, timer, change event,
// manual refresh) into the same dedup/cancel path. A trigger arriving while
// a session is in flight cancels it and starts a fresh session.
func (a *scopeActor) trigger(reason string, clearError bool) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	if a.session != nil {
		a.session.cancel()
		a.o.observeFetch("superseded")
	}

	sessionCtx, cancel := context.WithCancel(a.lifecycleCtx)
	sess := &fetchSession{
		id:        uuid.New(),
		startedAt: time.Now(),
		ctx:       sessionCtx,
		cancel:    cancel,
	}
	a.session = sess
	a.state.Loading = true
	if clearError {
		a.state.Error = ""
		a.state.Classification = ""
	}
	a.mu.Unlock()

	if a.o.metrics != nil {
		a.o.metrics.InFlight.Inc()
	}
	go a.run(sess, reason)
}

// run drives one fetch session to completion: query, classify, retry
// transient failures up to the budget, then apply or degrade. Cancellation
// (supersession or teardown) exits without touching actor state.
func (a *scopeActor) run(sess *fetchSession, reason string) {
	defer func() {
		if a.o.metrics != nil {
			a.o.metrics.InFlight.Dec()
		}
	}()

	ctx, span := a.o.tracer.Start(sess.ctx, "dashboard.fetch",
		tracer.Attribute{Key: "scope", Value: a.scope.String()},
		tracer.Attribute{Key: "session_id", Value: sess.id.String()},
		tracer.Attribute{Key: "trigger", Value: reason},
	)
	var finalErr error
	defer func() { span.End(finalErr) }()

	for {
		if a.o.breaker != nil && a.o.breaker.IsOpen() {
			span.AddEvent("breaker_open")
			a.degrade(sess, dErrors.New(dErrors.CodeTransient, "metrics backend unavailable"), "breaker_open")
			return
		}

		queryCtx, cancel := context.WithTimeout(ctx, a.o.cfg.QueryTimeout)
		snapshot, err := a.o.query.Aggregates(queryCtx, a.scope)
		cancel()

		if err == nil {
			if a.o.breaker != nil {
				a.o.breaker.RecordSuccess()
			}
			a.apply(sess, snapshot)
			return
		}

		// A superseded or torn-down session must not mutate anything, not
		// even to record its failure.
		if sess.ctx.Err() != nil {
			return
		}

		finalErr = err
		code := dErrors.CodeOf(err)
		if code.Retryable() {
			// The breaker tracks backend health, so only transport-level
			// failures count against it. An authorization failure means the
			// backend answered fine.
			if a.o.breaker != nil && a.o.breaker.RecordFailure() {
				if a.o.metrics != nil {
					a.o.metrics.BreakerTripped.Inc()
				}
				a.o.logger.Warn("metrics query breaker opened", "scope", a.scope.String())
			}
			if sess.attempt < a.o.cfg.MaxRetries {
				sess.attempt++
				if a.o.metrics != nil {
					a.o.metrics.Retries.Inc()
				}
				span.AddEvent("retry", tracer.Attribute{Key: "error", Value: err.Error()})
				select {
				case <-time.After(a.o.cfg.RetryDelay):
					continue
				case <-sess.ctx.Done():
					return
				}
			}
		}

		// Non-retryable failures short-circuit here without consuming the
		// retry budget; retrying them cannot succeed.
		a.degrade(sess, err, "stale_while_error")
		return
	}
}

// apply installs a successful snapshot, unless this session was superseded
// or the scope was closed while the query was in flight.
func (a *scopeActor) apply(sess *fetchSession, snapshot *models.MetricsSnapshot) {
	a.mu.Lock()
	if a.closed || a.session != sess {
		a.mu.Unlock()
		return
	}
	a.session = nil
	a.state = models.State{
		Data:        snapshot,
		LastUpdated: snapshot.CapturedAt,
	}
	a.mu.Unlock()

	a.o.cache.Put(a.lifecycleCtx, a.scope, snapshot)
	a.o.observeFetch("success")
	if a.o.metrics != nil {
		a.o.metrics.ObserveFetchDuration(sess.startedAt)
	}
}

// degrade ends a failed session. If a cached snapshot younger than
// cacheDuration exists, the error is suppressed and the cache keeps being
// served (stale-while-error); otherwise the classified error becomes
// observable.
func (a *scopeActor) degrade(sess *fetchSession, err error, cacheReason string) {
	snapshot, storedAt, ok := a.o.cache.Get(a.lifecycleCtx, a.scope)
	fresh := ok && time.Since(storedAt) < a.o.cfg.CacheDuration

	a.mu.Lock()
	if a.closed || a.session != sess {
		a.mu.Unlock()
		return
	}
	a.session = nil
	if fresh {
		a.state = models.State{
			Data:        snapshot,
			LastUpdated: storedAt,
		}
	} else {
		a.state.Loading = false
		a.state.Error = err.Error()
		a.state.Classification = dErrors.CodeOf(err)
	}
	a.mu.Unlock()

	if fresh {
		a.o.observeCacheServed(cacheReason)
	}
	a.o.observeFetch("degraded")
	a.o.logger.Warn("dashboard fetch degraded",
		"scope", a.scope.String(),
		"attempts", sess.attempt+1,
		"served_cache", fresh,
		"error", err,
	)
}

// runTimer drives the periodic refresh. Ticks are skipped while the
// observable state carries an error: the backend is known broken and no
// fresh cache is masking it, so hammering it buys nothing. Manual refresh
// remains available to exit that state.
func (a *scopeActor) runTimer() {
	ticker := time.NewTicker(a.o.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.lifecycleCtx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			broken := a.state.Error != ""
			a.mu.Unlock()
			if broken {
				continue
			}
			a.trigger(triggerInterval, false)
		}
	}
}

// close tears the actor down: cancels any in-flight session via the
// lifecycle context, stops the timer, and unsubscribes from change events.
func (a *scopeActor) close() {
	a.mu.Lock()
	a.closed = true
	a.session = nil
	sub := a.sub
	a.sub = nil
	a.mu.Unlock()

	a.lifecycleCancel()
	if sub != nil {
		_ = sub.Close()
	}
}
