package events

import "errors"

var (
	// ErrBusClosed is returned by Publish after Stop has been called.
	ErrBusClosed = errors.New("events: bus is closed")

	// ErrSubscriberBackpressure is returned by a Subscriber.Send
	// implementation when its own buffer is full.
	ErrSubscriberBackpressure = errors.New("events: subscriber buffer full")
)
