package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/mock/gomock"

	"pulseboard/internal/dashboard/cache"
	"pulseboard/internal/dashboard/events"
	"pulseboard/internal/dashboard/models"
	"pulseboard/internal/dashboard/query/mocks"
	dErrors "pulseboard/pkg/domain-errors"
	"pulseboard/pkg/platform/circuit"
)

// fakeQuery scripts Aggregates responses per call index.
type fakeQuery struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, ctx context.Context) (*models.MetricsSnapshot, error)
}

func (q *fakeQuery) Aggregates(ctx context.Context, _ models.Scope) (*models.MetricsSnapshot, error) {
	q.mu.Lock()
	q.calls++
	call := q.calls
	fn := q.fn
	q.mu.Unlock()
	return fn(call, ctx)
}

func (q *fakeQuery) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func snap(n int) *models.MetricsSnapshot {
	return &models.MetricsSnapshot{LeadsCount: n, CapturedAt: time.Now()}
}

func transientErr() error {
	return dErrors.New(dErrors.CodeTransient, "backend flake")
}

func testConfig() Config {
	return Config{
		MaxRetries:      3,
		RetryDelay:      5 * time.Millisecond,
		RefreshInterval: time.Hour, // keep the timer out of the way
		CacheDuration:   time.Minute,
		QueryTimeout:    time.Second,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(t *testing.T, q *fakeQuery, cfg Config, opts ...Option) (*Orchestrator, *events.Bus, models.Scope) {
	t.Helper()
	bus := events.NewBus()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	o := New(q, cache.NewInMemory(), bus, cfg, opts...)
	t.Cleanup(o.CloseAll)
	scope := models.Scope{TenantID: uuid.New(), UserID: uuid.New()}
	return o, bus, scope
}

func waitForState(t *testing.T, o *Orchestrator, scope models.Scope, cond func(models.State) bool) models.State {
	t.Helper()
	var last models.State
	require.Eventually(t, func() bool {
		state, ok := o.State(scope)
		if !ok {
			return false
		}
		last = state
		return cond(state)
	}, 2*time.Second, 2*time.Millisecond)
	return last
}

func TestInitialFetchPopulatesState(t *testing.T) {
	q := &fakeQuery{fn: func(call int, _ context.Context) (*models.MetricsSnapshot, error) {
		return snap(call), nil
	}}
	o, _, scope := newTestOrchestrator(t, q, testConfig())

	require.NoError(t, o.Open(context.Background(), scope))

	state := waitForState(t, o, scope, func(s models.State) bool { return s.Data != nil && !s.Loading })
	assert.Equal(t, 1, state.Data.LeadsCount)
	assert.Empty(t, state.Error)
	assert.Equal(t, state.Data.CapturedAt, state.LastUpdated)
}

// A permanently failing backend consumes the full retry budget, no more and
// no fewer, before the error becomes observable.
func TestTransientFailureRetryBound(t *testing.T) {
	q := &fakeQuery{fn: func(int, context.Context) (*models.MetricsSnapshot, error) {
		return nil, transientErr()
	}}
	o, _, scope := newTestOrchestrator(t, q, testConfig())

	require.NoError(t, o.Open(context.Background(), scope))

	state := waitForState(t, o, scope, func(s models.State) bool { return s.Error != "" })
	assert.Equal(t, dErrors.CodeTransient, state.Classification)
	assert.False(t, state.Loading)
	assert.Equal(t, 4, q.callCount()) // initial attempt + MaxRetries

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 4, q.callCount())
}

func TestNonTransientFailureShortCircuits(t *testing.T) {
	q := &fakeQuery{fn: func(int, context.Context) (*models.MetricsSnapshot, error) {
		return nil, dErrors.New(dErrors.CodeNotAuthorized, "kpi access denied")
	}}
	o, _, scope := newTestOrchestrator(t, q, testConfig())

	require.NoError(t, o.Open(context.Background(), scope))

	state := waitForState(t, o, scope, func(s models.State) bool { return s.Error != "" })
	assert.Equal(t, dErrors.CodeNotAuthorized, state.Classification)
	assert.Equal(t, 1, q.callCount()) // no retries burned on a hopeless error
}

// A transient failure within cacheDuration of a good snapshot keeps serving
// that snapshot with no observable error.
func TestStaleWhileError(t *testing.T) {
	q := &fakeQuery{fn: func(call int, _ context.Context) (*models.MetricsSnapshot, error) {
		if call == 1 {
			return snap(1), nil
		}
		return nil, transientErr()
	}}
	o, _, scope := newTestOrchestrator(t, q, testConfig())

	require.NoError(t, o.Open(context.Background(), scope))
	waitForState(t, o, scope, func(s models.State) bool { return s.Data != nil })

	require.True(t, o.Refresh(scope))
	require.Eventually(t, func() bool { return q.callCount() == 5 }, 2*time.Second, 2*time.Millisecond)

	state := waitForState(t, o, scope, func(s models.State) bool { return !s.Loading })
	assert.Empty(t, state.Error)
	require.NotNil(t, state.Data)
	assert.Equal(t, 1, state.Data.LeadsCount)
}

func TestErrorSurfacesAfterCacheExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.CacheDuration = time.Millisecond
	q := &fakeQuery{fn: func(call int, _ context.Context) (*models.MetricsSnapshot, error) {
		if call == 1 {
			return snap(1), nil
		}
		return nil, transientErr()
	}}
	o, _, scope := newTestOrchestrator(t, q, cfg)

	require.NoError(t, o.Open(context.Background(), scope))
	waitForState(t, o, scope, func(s models.State) bool { return s.Data != nil })

	time.Sleep(5 * time.Millisecond) // let the cache entry age past cacheDuration
	require.True(t, o.Refresh(scope))

	state := waitForState(t, o, scope, func(s models.State) bool { return s.Error != "" })
	assert.Equal(t, dErrors.CodeTransient, state.Classification)
}

// Every trigger funnels through the same dedup path: starting a new session
// cancels the prior one before the new query is issued, and only the last
// session's result is applied, even when a superseded session resolves late.
func TestSupersededSessionsAreFencedOut(t *testing.T) {
	release := make(chan struct{})
	var (
		mu   sync.Mutex
		seen []context.Context
	)
	q := &fakeQuery{}
	q.fn = func(call int, ctx context.Context) (*models.MetricsSnapshot, error) {
		mu.Lock()
		for _, prior := range seen {
			// The dedup rule cancels the prior session before starting a
			// new one.
			assert.Error(t, prior.Err(), "prior session still live when call %d started", call)
		}
		seen = append(seen, ctx)
		mu.Unlock()

		<-release
		if ctx.Err() != nil {
			// Simulates a transport that noticed the cancellation.
			return nil, ctx.Err()
		}
		return snap(call), nil
	}
	o, _, scope := newTestOrchestrator(t, q, testConfig())

	require.NoError(t, o.Open(context.Background(), scope))
	require.Eventually(t, func() bool { return q.callCount() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 4; i++ {
		require.True(t, o.Refresh(scope))
	}
	require.Eventually(t, func() bool { return q.callCount() == 5 }, time.Second, time.Millisecond)

	close(release)

	state := waitForState(t, o, scope, func(s models.State) bool { return s.Data != nil })
	assert.Equal(t, 5, state.Data.LeadsCount) // last session started wins
	time.Sleep(20 * time.Millisecond)
	state, ok := o.State(scope)
	require.True(t, ok)
	assert.Equal(t, 5, state.Data.LeadsCount)
}

// A late success from a session that was already superseded must not
// overwrite the newer session's snapshot.
func TestLateResultFromSupersededSessionDiscarded(t *testing.T) {
	releaseFirst := make(chan struct{})
	q := &fakeQuery{}
	q.fn = func(call int, ctx context.Context) (*models.MetricsSnapshot, error) {
		if call == 1 {
			<-releaseFirst
			// Ignores cancellation entirely, like a transport without
			// abort support.
			return snap(100), nil
		}
		return snap(call), nil
	}
	o, _, scope := newTestOrchestrator(t, q, testConfig())

	require.NoError(t, o.Open(context.Background(), scope))
	require.Eventually(t, func() bool { return q.callCount() == 1 }, time.Second, time.Millisecond)

	require.True(t, o.Refresh(scope))
	state := waitForState(t, o, scope, func(s models.State) bool { return s.Data != nil })
	require.Equal(t, 2, state.Data.LeadsCount)

	close(releaseFirst)
	time.Sleep(20 * time.Millisecond)

	state, ok := o.State(scope)
	require.True(t, ok)
	assert.Equal(t, 2, state.Data.LeadsCount, "stale session result must be discarded")
}

func TestFailsTwiceThenSucceeds(t *testing.T) {
	q := &fakeQuery{fn: func(call int, _ context.Context) (*models.MetricsSnapshot, error) {
		if call <= 2 {
			return nil, transientErr()
		}
		return snap(call), nil
	}}
	o, _, scope := newTestOrchestrator(t, q, testConfig())

	require.NoError(t, o.Open(context.Background(), scope))

	state := waitForState(t, o, scope, func(s models.State) bool { return s.Data != nil })
	assert.Equal(t, 3, state.Data.LeadsCount)
	assert.Empty(t, state.Error)
	assert.Equal(t, 3, q.callCount())
}

// Teardown mid-retry-delay: no further query calls, no state mutation, and
// the scope is gone from the registry.
func TestCloseDuringRetryDelay(t *testing.T) {
	cfg := testConfig()
	cfg.RetryDelay = 10 * time.Second
	q := &fakeQuery{fn: func(int, context.Context) (*models.MetricsSnapshot, error) {
		return nil, transientErr()
	}}
	o, _, scope := newTestOrchestrator(t, q, cfg)

	require.NoError(t, o.Open(context.Background(), scope))
	require.Eventually(t, func() bool { return q.callCount() == 1 }, time.Second, time.Millisecond)

	o.Close(scope)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 1, q.callCount())
	_, ok := o.State(scope)
	assert.False(t, ok)
}

func TestChangeEventTriggersRefetch(t *testing.T) {
	q := &fakeQuery{fn: func(call int, _ context.Context) (*models.MetricsSnapshot, error) {
		return snap(call), nil
	}}
	o, bus, scope := newTestOrchestrator(t, q, testConfig())

	require.NoError(t, o.Open(context.Background(), scope))
	waitForState(t, o, scope, func(s models.State) bool { return s.Data != nil })

	bus.Publish(events.ChangeEvent{Table: "tenant_associations", TenantID: scope.TenantID, Op: "update"})
	require.Eventually(t, func() bool { return q.callCount() == 2 }, time.Second, time.Millisecond)

	// Another tenant's change is not our concern.
	bus.Publish(events.ChangeEvent{Table: "tenant_associations", TenantID: uuid.New(), Op: "update"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, q.callCount())
}

// While the observable state carries an error (known-broken backend, no
// fresh cache), the periodic timer stops hammering the backend; a manual
// refresh still goes through and resets the retry budget.
func TestTimerSkippedWhileBrokenButManualRefreshWorks(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	cfg.RefreshInterval = 10 * time.Millisecond
	q := &fakeQuery{fn: func(int, context.Context) (*models.MetricsSnapshot, error) {
		return nil, transientErr()
	}}
	o, _, scope := newTestOrchestrator(t, q, cfg)

	require.NoError(t, o.Open(context.Background(), scope))
	waitForState(t, o, scope, func(s models.State) bool { return s.Error != "" })

	// Let any session that a tick started just before the error became
	// observable drain.
	time.Sleep(30 * time.Millisecond)
	settled := q.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, q.callCount(), "timer must not fire while broken")

	require.True(t, o.Refresh(scope))
	require.Eventually(t, func() bool { return q.callCount() > settled }, time.Second, time.Millisecond)
}

func TestPeriodicTimerRefetches(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshInterval = 10 * time.Millisecond
	q := &fakeQuery{fn: func(call int, _ context.Context) (*models.MetricsSnapshot, error) {
		return snap(call), nil
	}}
	o, _, scope := newTestOrchestrator(t, q, cfg)

	require.NoError(t, o.Open(context.Background(), scope))

	require.Eventually(t, func() bool { return q.callCount() >= 3 }, 2*time.Second, 2*time.Millisecond)
}

// An open breaker short-circuits the fetch to the cache fallback without
// touching the backend.
func TestBreakerOpenShortCircuitsToCache(t *testing.T) {
	q := &fakeQuery{fn: func(int, context.Context) (*models.MetricsSnapshot, error) {
		t.Error("query must not be called while breaker is open")
		return nil, transientErr()
	}}
	breaker := circuit.New("test", circuit.WithFailureThreshold(1))
	breaker.RecordFailure()
	require.True(t, breaker.IsOpen())

	bus := events.NewBus()
	snapshots := cache.NewInMemory()
	o := New(q, snapshots, bus, testConfig(), WithLogger(discardLogger()), WithBreaker(breaker))
	t.Cleanup(o.CloseAll)

	scope := models.Scope{TenantID: uuid.New(), UserID: uuid.New()}
	cached := snap(42)
	snapshots.Put(context.Background(), scope, cached)

	require.NoError(t, o.Open(context.Background(), scope))

	state := waitForState(t, o, scope, func(s models.State) bool { return s.Data != nil && !s.Loading })
	assert.Equal(t, 42, state.Data.LeadsCount)
	assert.Empty(t, state.Error)
	assert.Equal(t, 0, q.callCount())
}

func TestBreakerOpensAfterConsecutiveTransientFailures(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	q := &fakeQuery{fn: func(int, context.Context) (*models.MetricsSnapshot, error) {
		return nil, transientErr()
	}}
	breaker := circuit.New("test", circuit.WithFailureThreshold(1))
	o, _, scope := newTestOrchestrator(t, q, cfg, WithBreaker(breaker))

	require.NoError(t, o.Open(context.Background(), scope))
	waitForState(t, o, scope, func(s models.State) bool { return s.Error != "" })

	// First failure tripped the breaker; the retry short-circuited.
	assert.True(t, breaker.IsOpen())
	assert.Equal(t, 1, q.callCount())
}

func TestScopesAreIndependent(t *testing.T) {
	q := &fakeQuery{fn: func(call int, _ context.Context) (*models.MetricsSnapshot, error) {
		return snap(call), nil
	}}
	o, _, scopeA := newTestOrchestrator(t, q, testConfig())
	scopeB := models.Scope{TenantID: uuid.New(), UserID: uuid.New()}

	require.NoError(t, o.Open(context.Background(), scopeA))
	require.NoError(t, o.Open(context.Background(), scopeB))

	waitForState(t, o, scopeA, func(s models.State) bool { return s.Data != nil })
	waitForState(t, o, scopeB, func(s models.State) bool { return s.Data != nil })

	o.Close(scopeA)
	_, okA := o.State(scopeA)
	_, okB := o.State(scopeB)
	assert.False(t, okA)
	assert.True(t, okB)
}

type trackingSub struct {
	closed atomic.Bool
}

func (s *trackingSub) Close() error {
	s.closed.Store(true)
	return nil
}

// hookedSource runs a callback inside Subscribe, between actor registration
// and subscription installation.
type hookedSource struct {
	sub         *trackingSub
	onSubscribe func()
}

func (s *hookedSource) Subscribe(context.Context, events.Filter, events.Handler) (events.Subscription, error) {
	if s.onSubscribe != nil {
		s.onSubscribe()
	}
	return s.sub, nil
}

// A Close arriving while Open is still subscribing must not leak the
// subscription: the torn-down actor can never unsubscribe it later.
func TestCloseDuringSubscribeReleasesSubscription(t *testing.T) {
	q := &fakeQuery{fn: func(call int, _ context.Context) (*models.MetricsSnapshot, error) {
		return snap(call), nil
	}}
	src := &hookedSource{sub: &trackingSub{}}
	o := New(q, cache.NewInMemory(), src, testConfig(), WithLogger(discardLogger()))
	t.Cleanup(o.CloseAll)

	scope := models.Scope{TenantID: uuid.New(), UserID: uuid.New()}
	src.onSubscribe = func() { o.Close(scope) }

	require.NoError(t, o.Open(context.Background(), scope))

	assert.True(t, src.sub.closed.Load(), "subscription must be released")
	_, ok := o.State(scope)
	assert.False(t, ok)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, q.callCount(), "no fetch may start for the closed scope")
}

// The query receives the opened scope and a context bounded by the
// configured query timeout.
func TestQueryReceivesScopeAndDeadline(t *testing.T) {
	ctrl := gomock.NewController(t)
	q := mocks.NewMockMetricsQuery(ctrl)

	scope := models.Scope{TenantID: uuid.New(), UserID: uuid.New()}
	done := make(chan struct{})
	q.EXPECT().Aggregates(gomock.Any(), scope).DoAndReturn(
		func(ctx context.Context, _ models.Scope) (*models.MetricsSnapshot, error) {
			defer close(done)
			if _, ok := ctx.Deadline(); !ok {
				t.Error("query context must carry the configured timeout")
			}
			return snap(1), nil
		})

	o := New(q, cache.NewInMemory(), events.NewBus(), testConfig(), WithLogger(discardLogger()))
	t.Cleanup(o.CloseAll)

	require.NoError(t, o.Open(context.Background(), scope))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("query was never invoked")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	q := &fakeQuery{fn: func(call int, _ context.Context) (*models.MetricsSnapshot, error) {
		return snap(call), nil
	}}
	o, _, scope := newTestOrchestrator(t, q, testConfig())

	require.NoError(t, o.Open(context.Background(), scope))
	waitForState(t, o, scope, func(s models.State) bool { return s.Data != nil })
	require.NoError(t, o.Open(context.Background(), scope))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, q.callCount())
}
