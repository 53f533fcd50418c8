package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RegistryMetrics tracks module registry and loader activity.
type RegistryMetrics struct {
	ModulesLoaded     prometheus.Gauge
	LoadsTotal        *prometheus.CounterVec
	LoadDuration      prometheus.Histogram
	CodeImageRefcount prometheus.Gauge
	SignatureRejects  prometheus.Counter
}

func newRegistryMetrics(reg prometheus.Registerer) *RegistryMetrics {
	factory := promauto.With(reg)
	return &RegistryMetrics{
		ModulesLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "modules_loaded",
			Help:      "Modules currently registered",
		}),
		LoadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "loads_total",
			Help:      "Code image loads by outcome",
		}, []string{"outcome"}),
		LoadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "load_duration_seconds",
			Help:      "Time spent reading and verifying a code image",
			Buckets:   prometheus.DefBuckets,
		}),
		CodeImageRefcount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "code_images_live",
			Help:      "Code images currently held by at least one reference",
		}),
		SignatureRejects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "signature_rejections_total",
			Help:      "Code images rejected for failing signature verification",
		}),
	}
}
