package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hotreload/hmr/internal/metrics"
)

// Bus fans a single published Event out to every current Subscriber. A
// slow or dead subscriber never blocks the publisher: delivery to each
// subscriber happens through that subscriber's own Send, which is
// expected to be non-blocking (ChannelSubscriber's default Send drops
// rather than blocks). A Send error is logged and counted as a dropped
// event; the subscriber stays registered until Unsubscribe.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber

	queue   chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool

	sequence atomic.Int64

	logger  *slog.Logger
	metrics *metrics.EventsMetrics
}

// NewBus creates a Bus with the given dispatch queue depth.
func NewBus(queueDepth int, logger *slog.Logger, m *metrics.EventsMetrics) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Bus{
		subscribers: make(map[string]Subscriber),
		queue:       make(chan Event, queueDepth),
		done:        make(chan struct{}),
		logger:      logger,
		metrics:     m,
	}
}

// Start begins the dispatch loop. Safe to call once; subsequent calls
// are no-ops.
func (b *Bus) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	b.wg.Add(1)
	go b.run(ctx)
}

func (b *Bus) run(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.queue:
			b.dispatch(ev)
		case <-ctx.Done():
			b.drainOnStop()
			return
		case <-b.done:
			b.drainOnStop()
			return
		}
	}
}

func (b *Bus) drainOnStop() {
	for {
		select {
		case ev := <-b.queue:
			b.dispatch(ev)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.Send(ev); err != nil {
			b.logger.Warn("events: dropping event for subscriber", "subscriber_id", s.ID(), "error", err)
			if b.metrics != nil {
				b.metrics.DroppedTotal.WithLabelValues(string(ev.Type)).Inc()
			}
		}
	}
}

// Subscribe registers sub to receive every future published event.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	b.subscribers[sub.ID()] = sub
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.SubscribersGauge.Set(float64(b.Subscribers()))
	}
}

// Unsubscribe removes sub from the bus.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.SubscribersGauge.Set(float64(b.Subscribers()))
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Publish enqueues ev for dispatch, assigning it the next sequence
// number. Publish never blocks: if the bus's own dispatch queue (not
// any one subscriber's) is full, which indicates dispatch itself is
// falling behind, the event is dropped, counted, and Publish returns nil.
func (b *Bus) Publish(ev Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	ev.Sequence = b.sequence.Add(1)

	select {
	case b.queue <- ev:
	default:
		b.logger.Warn("events: dispatch queue full, dropping event", "type", ev.Type)
		if b.metrics != nil {
			b.metrics.DroppedTotal.WithLabelValues(string(ev.Type)).Inc()
		}
		return nil
	}

	if b.metrics != nil {
		b.metrics.PublishedTotal.WithLabelValues(string(ev.Type)).Inc()
		b.metrics.QueueDepth.Set(float64(len(b.queue)))
	}
	return nil
}

// Stop drains the queue and stops the dispatch loop.
func (b *Bus) Stop() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	close(b.done)
	b.wg.Wait()
}
