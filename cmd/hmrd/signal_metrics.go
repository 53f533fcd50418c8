package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// reloadMetrics holds Prometheus metrics for SIGHUP-driven config reload.
type reloadMetrics struct {
	reloadTotal          *prometheus.CounterVec
	reloadDuration       *prometheus.HistogramVec
	lastSuccessTimestamp *prometheus.GaugeVec
	lastFailureTimestamp *prometheus.GaugeVec
}

func newReloadMetrics(reg prometheus.Registerer) *reloadMetrics {
	factory := promauto.With(reg)
	const (
		namespace = "hmr"
		subsystem = "config"
	)
	return &reloadMetrics{
		reloadTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reload_total",
				Help:      "Total number of configuration reload attempts, by source and outcome.",
			},
			[]string{"source", "status"},
		),
		reloadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reload_duration_seconds",
				Help:      "Duration of configuration reload operations.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"source"},
		),
		lastSuccessTimestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reload_last_success_timestamp_seconds",
				Help:      "Unix timestamp of the last successful configuration reload.",
			},
			[]string{"source"},
		),
		lastFailureTimestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reload_last_failure_timestamp_seconds",
				Help:      "Unix timestamp of the last failed configuration reload.",
			},
			[]string{"source"},
		),
	}
}

func (m *reloadMetrics) recordSuccess(source string, duration float64, ts float64) {
	m.reloadTotal.WithLabelValues(source, "success").Inc()
	m.reloadDuration.WithLabelValues(source).Observe(duration)
	m.lastSuccessTimestamp.WithLabelValues(source).Set(ts)
}

func (m *reloadMetrics) recordFailure(source string, duration float64, ts float64) {
	m.reloadTotal.WithLabelValues(source, "failure").Inc()
	m.reloadDuration.WithLabelValues(source).Observe(duration)
	m.lastFailureTimestamp.WithLabelValues(source).Set(ts)
}
