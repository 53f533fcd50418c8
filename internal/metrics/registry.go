// Package metrics exposes the Prometheus metric families emitted by the
// HMR runtime: scheduler frame timing, module registry state, transaction
// outcomes, WAL throughput and build pipeline throughput. Each category is
// built lazily behind a sync.Once so tests can construct a Registry against
// a private prometheus.Registry without colliding with the process-wide
// default one.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hmr"

// Registry is the process-wide home for every metric family the runtime
// emits. Categories are built on first access and cached.
type Registry struct {
	reg prometheus.Registerer

	once struct {
		scheduler     sync.Once
		registryStats sync.Once
		txn           sync.Once
		wal           sync.Once
		build         sync.Once
		retry         sync.Once
		events        sync.Once
	}

	scheduler     *SchedulerMetrics
	registryStats *RegistryMetrics
	txn           *TxnMetrics
	wal           *WALMetrics
	build         *BuildMetrics
	retry         *RetryMetrics
	events        *EventsMetrics
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide Registry, backed by
// prometheus.DefaultRegisterer. It is created once and reused.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRegistry
}

// NewRegistry creates a Registry bound to the given registerer. Pass a
// fresh prometheus.NewRegistry() in tests to avoid duplicate registration
// panics across test cases.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return &Registry{reg: reg}
}

// Scheduler returns the frame/budget metric family.
func (r *Registry) Scheduler() *SchedulerMetrics {
	r.once.scheduler.Do(func() { r.scheduler = newSchedulerMetrics(r.reg) })
	return r.scheduler
}

// ModuleRegistry returns the registry/loader metric family.
func (r *Registry) ModuleRegistry() *RegistryMetrics {
	r.once.registryStats.Do(func() { r.registryStats = newRegistryMetrics(r.reg) })
	return r.registryStats
}

// Txn returns the transaction manager metric family.
func (r *Registry) Txn() *TxnMetrics {
	r.once.txn.Do(func() { r.txn = newTxnMetrics(r.reg) })
	return r.txn
}

// WAL returns the write-ahead log metric family.
func (r *Registry) WAL() *WALMetrics {
	r.once.wal.Do(func() { r.wal = newWALMetrics(r.reg) })
	return r.wal
}

// Build returns the build pipeline metric family.
func (r *Registry) Build() *BuildMetrics {
	r.once.build.Do(func() { r.build = newBuildMetrics(r.reg) })
	return r.build
}

// Retry returns the shared retry/backoff metric family, suitable for
// passing to resilience.RetryPolicy.Metrics.
func (r *Registry) Retry() *RetryMetrics {
	r.once.retry.Do(func() { r.retry = NewRetryMetrics(r.reg) })
	return r.retry
}

// Events returns the observer channel's metric family.
func (r *Registry) Events() *EventsMetrics {
	r.once.events.Do(func() { r.events = newEventsMetrics(r.reg) })
	return r.events
}
