// Package eventbus implements the crawler-scoped pub/sub the core spec
// uses to drive migration, abort and checkpoint signals. Modeled on the
// teacher's internal/distributed node-status bookkeeping (mutex-guarded
// map, slog component logger) but deliberately scoped to a single
// crawler instance rather than a process-wide singleton — this repo
// carries no multi-process coordination (see the module's Non-goals),
// so the bus only needs to fan a signal out to in-process subscribers.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
)

// EventType identifies a lifecycle signal a crawler reacts to.
type EventType string

const (
	// EventMigrating fires when the host is about to be replaced
	// (e.g. a platform migration); subscribers should checkpoint and
	// pause rather than keep issuing new fetches.
	EventMigrating EventType = "MIGRATING"
	// EventAborting fires on a request to stop the crawl entirely.
	EventAborting EventType = "ABORTING"
	// EventPersistState fires on a periodic or explicit checkpoint
	// request.
	EventPersistState EventType = "PERSIST_STATE"
)

// Handler reacts to an emitted event. Handlers run synchronously, in
// subscription order, on the emitting goroutine.
type Handler func(ctx context.Context, evt EventType)

// Bus is a scoped, in-process publish/subscribe hub. The zero value is
// not usable; construct with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Handler
	logger      *slog.Logger
	closed      bool
}

// New constructs an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[EventType][]Handler),
		logger:      logger.With("component", "eventbus"),
	}
}

// Subscribe registers h to run whenever evt is emitted. A no-op after
// Close.
func (b *Bus) Subscribe(evt EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.subscribers[evt] = append(b.subscribers[evt], h)
}

// Emit runs every handler subscribed to evt, in subscription order. A
// no-op after Close.
func (b *Bus) Emit(ctx context.Context, evt EventType) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := append([]Handler(nil), b.subscribers[evt]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}
	b.logger.Debug("emitting event", "event", evt, "subscribers", len(handlers))
	for _, h := range handlers {
		h(ctx, evt)
	}
}

// Close tears the bus down: subsequent Subscribe/Emit calls are no-ops.
// The crawler calls this from its own Close so the bus never outlives
// the crawler instance that installed it.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscribers = nil
}
