// Package events provides the in-process event bus for lifecycle
// notifications, wrapping the kelindar/event dispatcher.
package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher for lifecycle event broadcasting.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(StateChangedEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event dispatches on the concrete type, so route through a
	// type switch to call the generic Publish with the right type.
	switch e := ev.(type) {
	case StateChangedEvent:
		event.Publish(b.dispatcher, e)
	case ChangeDetectedEvent:
		event.Publish(b.dispatcher, e)
	case SignalReceivedEvent:
		event.Publish(b.dispatcher, e)
	case DrainStartedEvent:
		event.Publish(b.dispatcher, e)
	case RebindAttemptedEvent:
		event.Publish(b.dispatcher, e)
	case SwapAttemptedEvent:
		event.Publish(b.dispatcher, e)
	case WorkerTerminatedEvent:
		event.Publish(b.dispatcher, e)
	case WorkerProcessEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes a typed handler function. The handler's parameter
// type determines which events it receives. Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e StateChangedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(StateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ChangeDetectedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SignalReceivedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DrainStartedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RebindAttemptedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SwapAttemptedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(WorkerTerminatedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(WorkerProcessEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// No-op unsubscribe for unrecognized handler types.
		return func() {}
	}
}

// SubscribeToChannel bridges kelindar/event callback subscriptions to a
// channel, for SSE handlers that need a select loop. Events are dropped
// rather than blocking when the channel is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}
