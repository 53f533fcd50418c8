package hmr

import (
	"github.com/google/uuid"

	"github.com/hotreload/hmr/internal/events"
)

// Observe registers a new subscriber on the observer channel (§6) and
// returns a handle whose Events() channel delivers every future
// ReloadStarted/ReloadCompleted/.../TransactionAborted event. Call
// Unsubscribe when done to free the bus's per-subscriber bookkeeping.
func (r *Runtime) Observe(bufferSize int) *events.ChannelSubscriber {
	sub := events.NewChannelSubscriber(uuid.NewString(), bufferSize)
	r.bus.Subscribe(sub)
	return sub
}

// Unsubscribe removes a subscriber previously returned by Observe.
func (r *Runtime) Unsubscribe(sub *events.ChannelSubscriber) {
	r.bus.Unsubscribe(sub.ID())
	_ = sub.Close()
}
