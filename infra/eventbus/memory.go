package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/amirasaad/pixflow/pkg/eventbus"
)

// DefaultRetention is how many emitted events a memory bus keeps for Published.
const DefaultRetention = 1024

// MemoryEventBus dispatches events synchronously to in-process handlers.
// Handler errors are logged and never returned to the emitter.
type MemoryEventBus struct {
	handlers  map[string][]eventbus.HandlerFunc
	mu        sync.RWMutex
	logger    *slog.Logger
	published []eventbus.Event
	retention int
}

// MemoryOption configures a MemoryEventBus.
type MemoryOption func(*MemoryEventBus)

// WithRetention keeps at most n emitted events; older ones are dropped.
// Zero disables the log entirely.
func WithRetention(n int) MemoryOption {
	return func(b *MemoryEventBus) {
		if n >= 0 {
			b.retention = n
		}
	}
}

// NewWithMemory creates an in-memory event bus.
func NewWithMemory(logger *slog.Logger, opts ...MemoryOption) *MemoryEventBus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &MemoryEventBus{
		handlers:  make(map[string][]eventbus.HandlerFunc),
		logger:    logger.With("bus", "memory"),
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds a handler for eventType.
func (b *MemoryEventBus) Register(eventType string, handler eventbus.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Emit dispatches the event to all handlers registered for its type.
func (b *MemoryEventBus) Emit(ctx context.Context, event eventbus.Event) error {
	eventType := event.Type()

	b.mu.Lock()
	b.record(event)
	handlers := append([]eventbus.HandlerFunc(nil), b.handlers[eventType]...)
	b.mu.Unlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("panic recovered in event handler", "type", eventType, "panic", r)
				}
			}()
			if err := handler(ctx, event); err != nil {
				b.logger.Error("event handler failed", "type", eventType, "error", err)
			}
		}()
	}
	return nil
}

// record appends to the bounded log. Callers hold mu.
func (b *MemoryEventBus) record(event eventbus.Event) {
	if b.retention == 0 {
		return
	}
	if len(b.published) >= b.retention {
		n := copy(b.published, b.published[len(b.published)-b.retention+1:])
		clear(b.published[n:])
		b.published = b.published[:n]
	}
	b.published = append(b.published, event)
}

// Published returns a copy of the retained events, oldest first. Useful in tests.
func (b *MemoryEventBus) Published() []eventbus.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]eventbus.Event(nil), b.published...)
}

// ClearPublished forgets emitted events.
func (b *MemoryEventBus) ClearPublished() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = nil
}

var _ eventbus.Bus = (*MemoryEventBus)(nil)
