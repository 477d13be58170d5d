package pix

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/amirasaad/pixflow/pkg/eventbus"
	"golang.org/x/sync/singleflight"
)

// KeyExtractor derives an idempotency key from an event. An empty key
// disables the check for that event.
type KeyExtractor func(eventbus.Event) string

// Tracker bounds. Redeliveries arrive within minutes, so a day of keys is
// plenty; the cap keeps a burst from growing the set without limit.
const (
	DefaultIdempotencyTTL     = 24 * time.Hour
	DefaultIdempotencyMaxKeys = 100_000
)

type seenKey struct {
	key string
	at  time.Time
}

// IdempotencyTracker remembers which keys were handled successfully, for at
// most ttl and at most maxKeys keys, forgetting the oldest first.
type IdempotencyTracker struct {
	mu        sync.Mutex
	processed map[string]time.Time
	order     []seenKey
	ttl       time.Duration
	maxKeys   int
	now       func() time.Time
	inflight  singleflight.Group
}

// NewIdempotencyTracker creates an empty tracker with the default bounds.
func NewIdempotencyTracker() *IdempotencyTracker {
	return NewBoundedIdempotencyTracker(DefaultIdempotencyTTL, DefaultIdempotencyMaxKeys, time.Now)
}

// NewBoundedIdempotencyTracker creates a tracker with explicit bounds and clock.
func NewBoundedIdempotencyTracker(ttl time.Duration, maxKeys int, now func() time.Time) *IdempotencyTracker {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if maxKeys <= 0 {
		maxKeys = DefaultIdempotencyMaxKeys
	}
	if now == nil {
		now = time.Now
	}
	return &IdempotencyTracker{
		processed: make(map[string]time.Time),
		ttl:       ttl,
		maxKeys:   maxKeys,
		now:       now,
	}
}

// Seen reports whether key was handled within the ttl.
func (t *IdempotencyTracker) Seen(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.processed[key]
	return ok && t.now().Sub(at) < t.ttl
}

// Len returns the number of remembered keys.
func (t *IdempotencyTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.processed)
}

func (t *IdempotencyTracker) mark(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.processed[key] = now
	t.order = append(t.order, seenKey{key: key, at: now})
	t.evict(now)
}

// evict drops expired keys and then the oldest ones above maxKeys. Callers hold mu.
func (t *IdempotencyTracker) evict(now time.Time) {
	drop := 0
	for drop < len(t.order) {
		head := t.order[drop]
		if now.Sub(head.at) < t.ttl && len(t.processed) <= t.maxKeys {
			break
		}
		// A re-marked key has a newer entry further back.
		if at, ok := t.processed[head.key]; ok && at.Equal(head.at) {
			delete(t.processed, head.key)
		}
		drop++
	}
	if drop > 0 {
		t.order = append(t.order[:0:0], t.order[drop:]...)
	}
}

// WithIdempotency skips events whose key was already handled. Concurrent
// deliveries of one key share a single handler call; a failed call leaves the
// key unmarked so the bus can redeliver.
func WithIdempotency(
	handler eventbus.HandlerFunc,
	tracker *IdempotencyTracker,
	keyOf KeyExtractor,
	name string,
	logger *slog.Logger,
) eventbus.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, e eventbus.Event) error {
		key := keyOf(e)
		if key == "" {
			return handler(ctx, e)
		}
		if tracker.Seen(key) {
			logger.Debug("Event already handled",
				"handler", name, "event_type", e.Type(), "idempotency_key", key)
			return nil
		}
		_, err, _ := tracker.inflight.Do(key, func() (any, error) {
			if tracker.Seen(key) {
				return nil, nil
			}
			if err := handler(ctx, e); err != nil {
				return nil, err
			}
			tracker.mark(key)
			return nil, nil
		})
		return err
	}
}
