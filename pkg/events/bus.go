package events

import "context"

// Bus is the bounded, single-writer-per-session event channel between
// the reply loop and whatever adapter consumes it (§5 backpressure:
// default capacity 100; producers await capacity).
type Bus struct {
	ch chan Event
}

// NewBus creates a Bus with the given capacity, defaulting to
// DefaultChannelCapacity when capacity <= 0.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	return &Bus{ch: make(chan Event, capacity)}
}

// Emit blocks until there is capacity or ctx is cancelled. A cancelled
// ctx drops the event rather than deadlocking the reply loop.
func (b *Bus) Emit(ctx context.Context, e Event) error {
	select {
	case b.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events exposes the receive side for a consumer (e.g. StreamWriter.Pump).
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close signals no further events will be emitted. Callers must ensure
// Emit is never called again afterward.
func (b *Bus) Close() {
	close(b.ch)
}

// Multiplexer forwards sub-agent Notification events into a parent
// Bus, tagging each with the spawning tool call's request id (§4.8).
type Multiplexer struct {
	parent    *Bus
	requestID string
}

func NewMultiplexer(parent *Bus, requestID string) *Multiplexer {
	return &Multiplexer{parent: parent, requestID: requestID}
}

func (m *Multiplexer) Forward(ctx context.Context, text string) error {
	return m.parent.Emit(ctx, Notification(m.requestID, text))
}
