package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of a control-plane event.
type Type string

// Event types published by the control-plane subsystems.
const (
	// Health gate lifecycle.
	TypeGateOpened   Type = "gate.opened"
	TypeGateHalfOpen Type = "gate.half_open"
	TypeGateClosed   Type = "gate.closed"

	// Transaction lifecycle.
	TypeTransactionStarted    Type = "transaction.started"
	TypeTransactionCommitted  Type = "transaction.committed"
	TypeTransactionRolledBack Type = "transaction.rolled_back"

	// Metrics lifecycle.
	TypeMetricsCollected  Type = "metrics.collected"
	TypeAnomaliesDetected Type = "metrics.anomalies_detected"
	TypeMetricsAggregated Type = "metrics.aggregated"

	// Routing lifecycle.
	TypeRoutingUpdated      Type = "routing.updated"
	TypeRoutingUpdateFailed Type = "routing.update_failed"
)

// Event is a single control-plane event.
type Event struct {
	// ID uniquely identifies this event instance.
	ID string

	// Type is the event kind.
	Type Type

	// Timestamp is when the event was published.
	Timestamp time.Time

	// Payload carries event-specific data. The concrete type depends on
	// the publisher (e.g. *txn.Transaction for transaction events).
	Payload any
}

// Config contains configuration for the Bus.
type Config struct {
	// BufferSize is the per-subscriber channel capacity.
	// Default: 64.
	BufferSize int

	// Logger is used to report dropped events. Defaults to slog.Default().
	Logger *slog.Logger
}

// Bus dispatches events to subscribers without blocking publishers.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string]*subscription
	bufferSize int
	dropped    atomic.Int64
	logger     *slog.Logger
}

type subscription struct {
	id    string
	types map[Type]bool
	ch    chan Event
}

// NewBus creates a new event bus.
func NewBus(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Bus{
		subs:       make(map[string]*subscription),
		bufferSize: cfg.BufferSize,
		logger:     cfg.Logger.With("component", "events"),
	}
}

// Subscribe registers a subscriber for the given event types. If no types
// are given, the subscriber receives every event. The returned cancel
// function removes the subscription and closes the channel.
func (b *Bus) Subscribe(types ...Type) (<-chan Event, func()) {
	sub := &subscription{
		id: uuid.NewString(),
		ch: make(chan Event, b.bufferSize),
	}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[sub.id]; ok {
			delete(b.subs, sub.id)
			close(s.ch)
		}
	}

	return sub.ch, cancel
}

// Publish dispatches an event to all matching subscribers. Publish never
// blocks: if a subscriber's buffer is full the event is dropped for that
// subscriber and the drop counter is incremented.
func (b *Bus) Publish(t Type, payload any) {
	evt := Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[t] {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
			b.logger.Warn("event dropped for slow subscriber",
				"event_type", string(t),
				"subscriber", sub.id,
			)
		}
	}
}

// DroppedCount returns the total number of events dropped across all
// subscribers since the bus was created.
func (b *Bus) DroppedCount() int64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}

// Close removes every subscription and closes its channel. Publishing
// after Close is a no-op. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
