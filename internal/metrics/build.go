package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BuildMetrics tracks the file-watcher to build-pipeline flow: queue
// depth, admission throttling and build durations used to feed the
// duration predictor.
type BuildMetrics struct {
	QueueDepth       *prometheus.GaugeVec
	AdmittedTotal     prometheus.Counter
	RejectedTotal     prometheus.Counter
	BuildDuration     *prometheus.HistogramVec
	DebouncedEvents   prometheus.Counter
	InFlightBuilds    prometheus.Gauge
}

func newBuildMetrics(reg prometheus.Registerer) *BuildMetrics {
	factory := promauto.With(reg)
	return &BuildMetrics{
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "queue_depth",
			Help:      "Pending build requests per priority level",
		}, []string{"priority"}),
		AdmittedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "admitted_total",
			Help:      "Build requests admitted past the rate limiter and concurrency gate",
		}),
		RejectedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "rejected_total",
			Help:      "Build requests rejected by the admission gate",
		}),
		BuildDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "duration_seconds",
			Help:      "Build duration per module, feeding the duration predictor",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"module"}),
		DebouncedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "debounced_events_total",
			Help:      "File system events coalesced by the watcher's debounce window",
		}),
		InFlightBuilds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "in_flight",
			Help:      "Builds currently executing under the concurrency gate",
		}),
	}
}
