package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SchedulerMetrics tracks frame budget consumption by the reload scheduler.
type SchedulerMetrics struct {
	FrameDuration     prometheus.Histogram
	FrameBudgetExceed prometheus.Counter
	FrameBudgetRatio  prometheus.Gauge
	ModulesPerFrame   prometheus.Histogram
	FramesTotal       *prometheus.CounterVec
	ResumedFrames     prometheus.Counter
}

func newSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	factory := promauto.With(reg)
	return &SchedulerMetrics{
		FrameDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "frame_duration_seconds",
			Help:      "Wall-clock time spent servicing reload work within one scheduler frame",
			Buckets:   []float64{0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.033, 0.066},
		}),
		FrameBudgetExceed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "frame_budget_exceeded_total",
			Help:      "Frames where reload work ran past its allotted budget and was cut off",
		}),
		FrameBudgetRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "frame_budget_ratio",
			Help:      "Current adaptive budget expressed as a fraction of the configured frame budget",
		}),
		ModulesPerFrame: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "modules_reloaded_per_frame",
			Help:      "Number of modules fully reloaded within a single frame",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		FramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "frames_total",
			Help:      "Scheduler frames processed, labeled by whether reload work was pending",
		}, []string{"had_work"}),
		ResumedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "resumed_frames_total",
			Help:      "Frames that resumed a reload left incomplete by the previous frame",
		}),
	}
}
