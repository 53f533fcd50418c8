package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TxnMetrics tracks transaction manager outcomes: commits, aborts,
// conflicts and the two-phase commit timing.
type TxnMetrics struct {
	CommitsTotal    *prometheus.CounterVec
	ConflictsTotal  *prometheus.CounterVec
	CommitDuration  prometheus.Histogram
	ActiveTxns      prometheus.Gauge
	DeadlocksTotal  prometheus.Counter
	RollbacksTotal  *prometheus.CounterVec
}

func newTxnMetrics(reg prometheus.Registerer) *TxnMetrics {
	factory := promauto.With(reg)
	return &TxnMetrics{
		CommitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "txn",
			Name:      "commits_total",
			Help:      "Transactions that reached a terminal state, labeled by outcome",
		}, []string{"outcome"}),
		ConflictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "txn",
			Name:      "conflicts_total",
			Help:      "Conflicts detected during prepare, labeled by kind",
		}, []string{"kind"}),
		CommitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "txn",
			Name:      "commit_duration_seconds",
			Help:      "Time from Begin to a terminal Commit or Abort",
			Buckets:   prometheus.DefBuckets,
		}),
		ActiveTxns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "txn",
			Name:      "active",
			Help:      "Transactions currently open",
		}),
		DeadlocksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "txn",
			Name:      "deadlocks_detected_total",
			Help:      "Lock-wait cycles broken by the deadlock detector",
		}),
		RollbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "txn",
			Name:      "rollbacks_total",
			Help:      "Rollbacks to a WAL checkpoint, labeled by reason",
		}, []string{"reason"}),
	}
}
