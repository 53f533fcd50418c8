package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversPublishedEventToSubscriber(t *testing.T) {
	bus := NewBus(16, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	sub := NewChannelSubscriber("sub-1", 4)
	bus.Subscribe(sub)
	require.Equal(t, 1, bus.Subscribers())

	require.NoError(t, bus.Publish(New(TypeReloadStarted, "module-1", nil)))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, TypeReloadStarted, ev.Type)
		assert.Equal(t, "module-1", ev.Subject)
		assert.Equal(t, int64(1), ev.Sequence)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusPublishAfterStopReturnsErrBusClosed(t *testing.T) {
	bus := NewBus(4, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx)
	bus.Stop()
	cancel()

	err := bus.Publish(New(TypeBuildStarted, "target-a", nil))
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(16, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	sub := NewChannelSubscriber("sub-2", 4)
	bus.Subscribe(sub)
	bus.Unsubscribe(sub.ID())
	assert.Equal(t, 0, bus.Subscribers())

	require.NoError(t, bus.Publish(New(TypeBuildStarted, "target-b", nil)))

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event delivered after unsubscribe: %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
