package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Resolutions *prometheus.CounterVec
	Repairs     *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseboard_association_resolutions_total",
			Help: "Total association resolutions, labeled by classification (granted when empty)",
		}, []string{"classification"}),
		Repairs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulseboard_association_repairs_total",
			Help: "Total association repair attempts, labeled by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveResolution(classification string) {
	if classification == "" {
		classification = "granted"
	}
	m.Resolutions.WithLabelValues(classification).Inc()
}

func (m *Metrics) ObserveRepair(outcome string) {
	m.Repairs.WithLabelValues(outcome).Inc()
}
