package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventsMetrics tracks the observer channel's throughput: the core is
// unaware of who listens, but it still needs to know whether publishing
// is keeping up.
type EventsMetrics struct {
	PublishedTotal  *prometheus.CounterVec
	DroppedTotal    *prometheus.CounterVec
	SubscribersGauge prometheus.Gauge
	QueueDepth      prometheus.Gauge
}

func newEventsMetrics(reg prometheus.Registerer) *EventsMetrics {
	factory := promauto.With(reg)
	return &EventsMetrics{
		PublishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published to the observer channel, labeled by type",
		}, []string{"type"}),
		DroppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because the bus dispatch queue was full or a subscriber rejected them, labeled by type",
		}, []string{"type"}),
		SubscribersGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Current number of active observer subscribers",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "bus_queue_depth",
			Help:      "Pending events in the bus's internal dispatch queue",
		}),
	}
}
