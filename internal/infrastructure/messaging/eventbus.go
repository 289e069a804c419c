// Package messaging delivers membership events to subscribers, inside one
// process or across instances through Redis Pub/Sub.
package messaging

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
)

var (
	// ErrEventBusClosed is returned by Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	errNilEvent   = errors.New("event cannot be nil")
	errNilHandler = errors.New("handler cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers off the publishing goroutine.
	AsyncMode bool

	// WorkerPoolSize bounds how many handlers run at once in async mode.
	WorkerPoolSize int

	Logger *slog.Logger
}

// DefaultInMemoryEventBusConfig returns an async bus with ten workers.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 10,
	}
}

// InMemoryEventBus implements shared.EventBus for a single process.
// Handler errors and panics are logged and never reach the publisher.
type InMemoryEventBus struct {
	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	closed   bool

	async   bool
	slots   chan struct{}
	pending sync.WaitGroup
	logger  *slog.Logger
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)

// NewInMemoryEventBus creates a bus from config.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = DefaultInMemoryEventBusConfig().WorkerPoolSize
	}

	return &InMemoryEventBus{
		byType: make(map[shared.EventType][]shared.EventHandler),
		async:  config.AsyncMode,
		slots:  make(chan struct{}, config.WorkerPoolSize),
		logger: config.Logger.With("component", "event_bus"),
	}
}

// Subscribe registers handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.register(handler, func() {
		b.byType[eventType] = append(b.byType[eventType], handler)
	})
}

// SubscribeAll registers handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.register(handler, func() {
		b.wildcard = append(b.wildcard, handler)
	})
}

func (b *InMemoryEventBus) register(handler shared.EventHandler, add func()) error {
	if handler == nil {
		return errNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// Publish hands event to its type's handlers, then to the catch-all ones.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	targets := append(append([]shared.EventHandler(nil), b.byType[event.EventType()]...), b.wildcard...)
	if b.async {
		// Registered under the read lock so Close cannot start waiting first.
		b.pending.Add(len(targets))
	}
	b.mu.RUnlock()

	for _, handler := range targets {
		if !b.async {
			b.deliver(event, handler)
			continue
		}
		go func() {
			defer b.pending.Done()
			b.slots <- struct{}{}
			defer func() { <-b.slots }()
			b.deliver(event, handler)
		}()
	}
	return nil
}

func (b *InMemoryEventBus) deliver(event shared.Event, handler shared.EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event_type", event.EventType(), "aggregate_id", event.AggregateID(), "panic", r)
		}
	}()

	if err := handler(event); err != nil {
		b.logger.Error("event handler failed", "event_type", event.EventType(), "aggregate_id", event.AggregateID(), "error", err)
	}
}

// Close rejects further use and waits for in-flight async handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.pending.Wait()
	return nil
}
