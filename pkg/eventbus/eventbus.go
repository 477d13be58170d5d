// Package eventbus defines the publish/subscribe contract used to fan out
// Pix lifecycle events.
package eventbus

import (
	"context"
)

// Event is anything with a stable type name.
type Event interface {
	Type() string
}

// HandlerFunc handles one event.
type HandlerFunc func(ctx context.Context, e Event) error

// Factory returns an empty event ready to be decoded into.
type Factory func() Event

// Registry maps event type names to factories so transports can decode payloads.
type Registry map[string]Factory

// Bus publishes events and dispatches them to registered handlers.
type Bus interface {
	Emit(ctx context.Context, event Event) error
	Register(eventType string, handler HandlerFunc)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }
func (Nop) Register(string, HandlerFunc)      {}

var _ Bus = Nop{}
