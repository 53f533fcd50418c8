package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RetryMetrics tracks retry/backoff behavior for operations that use
// internal/resilience.WithRetry. One instance is shared across every
// call site that wants its attempts broken out by operation name.
type RetryMetrics struct {
	AttemptsTotal      *prometheus.CounterVec
	DurationSeconds    *prometheus.HistogramVec
	BackoffSeconds     *prometheus.HistogramVec
	FinalAttemptsTotal *prometheus.CounterVec
}

// NewRetryMetrics registers the retry metric family under the given
// Prometheus registerer. Pass prometheus.DefaultRegisterer to wire it
// into the process-wide registry, or a private registry in tests.
func NewRetryMetrics(reg prometheus.Registerer) *RetryMetrics {
	factory := promauto.With(reg)
	return &RetryMetrics{
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "attempts_total",
				Help:      "Total retry attempts by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		DurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "duration_seconds",
				Help:      "Total wall-clock time spent retrying an operation to completion",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		BackoffSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "backoff_seconds",
				Help:      "Delay waited before each retry attempt",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"operation"},
		),
		FinalAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "final_attempts_total",
				Help:      "Attempts operations took to reach a terminal outcome (success, failure or cancelled), summed per operation",
			},
			[]string{"operation"},
		),
	}
}

// RecordAttempt records one attempt of operation, labeled by outcome
// (success, failure, cancelled). errorType is accepted but not used as
// a label.
func (m *RetryMetrics) RecordAttempt(operation, outcome, errorType string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(operation, outcome).Inc()
	m.DurationSeconds.WithLabelValues(operation).Observe(durationSeconds)
	_ = errorType // retained for call-site symmetry; cardinality kept low on the counter itself
}

// RecordFinalAttempt records the attempt count an operation took to
// reach its terminal outcome.
func (m *RetryMetrics) RecordFinalAttempt(operation, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.FinalAttemptsTotal.WithLabelValues(operation).Add(float64(attempts))
	_ = outcome
}

// RecordBackoff records the delay waited before a retry attempt.
func (m *RetryMetrics) RecordBackoff(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.BackoffSeconds.WithLabelValues(operation).Observe(seconds)
}
