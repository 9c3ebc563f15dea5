// Package outbox is how keyshop use cases tell background workers that a
// purchase settled, fell short, or that a pool was restocked. Publishing never
// blocks the purchase path on a worker.
package outbox

import "context"

// Event names itself for routing, e.g. "purchase.settled".
type Event interface {
	EventName() string
}

// Attributed events expose identifiers such as the charge id or product that
// workers attach to every log line they write for the event.
type Attributed interface {
	EventAttributes() map[string]string
}

type Handler func(ctx context.Context, e Event) error

// Publisher hands an event to the bus. It returns once the event is queued.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber routes events by name to handlers.
type Subscriber interface {
	Subscribe(eventName string, h Handler)
}
