package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Fetches        *prometheus.CounterVec
	Retries        prometheus.Counter
	CacheServed    *prometheus.CounterVec
	InFlight       prometheus.Gauge
	FetchDuration  prometheus.Histogram
	BreakerTripped prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Fetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseboard_dashboard_fetches_total",
			Help: "Total fetch sessions, labeled by result (success, degraded, superseded)",
		}, []string{"result"}),
		Retries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulseboard_dashboard_fetch_retries_total",
			Help: "Total retry attempts across all fetch sessions",
		}),
		CacheServed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseboard_dashboard_cache_served_total",
			Help: "Snapshots served from cache, labeled by reason (stale_while_error, breaker_open)",
		}, []string{"reason"}),
		InFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pulseboard_dashboard_fetches_in_flight",
			Help: "Fetch sessions currently in flight across all scopes",
		}),
		FetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulseboard_dashboard_fetch_duration_seconds",
			Help:    "Duration of successful fetch sessions",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		BreakerTripped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulseboard_dashboard_breaker_trips_total",
			Help: "Times the metrics query circuit breaker opened",
		}),
	}
}

func (m *Metrics) ObserveFetch(result string) {
	m.Fetches.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveFetchDuration(start time.Time) {
	m.FetchDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveCacheServed(reason string) {
	m.CacheServed.WithLabelValues(reason).Inc()
}
