package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WALMetrics tracks write-ahead log append and replay throughput.
type WALMetrics struct {
	AppendsTotal    prometheus.Counter
	AppendBytes     prometheus.Histogram
	SyncDuration    prometheus.Histogram
	LastLSN         prometheus.Gauge
	ReplayedRecords prometheus.Counter
}

func newWALMetrics(reg prometheus.Registerer) *WALMetrics {
	factory := promauto.With(reg)
	return &WALMetrics{
		AppendsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "appends_total",
			Help:      "Records appended to the write-ahead log",
		}),
		AppendBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "append_bytes",
			Help:      "Size in bytes of each appended WAL record",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "sync_duration_seconds",
			Help:      "Time spent flushing a WAL record to durable storage",
			Buckets:   prometheus.DefBuckets,
		}),
		LastLSN: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "last_lsn",
			Help:      "Most recently assigned log sequence number",
		}),
		ReplayedRecords: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "replayed_records_total",
			Help:      "Records replayed during crash recovery",
		}),
	}
}
