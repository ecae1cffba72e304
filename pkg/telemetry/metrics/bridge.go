package metrics

import (
	"log/slog"
	"sync"

	"tiller-hq/tiller/pkg/events"
	"tiller-hq/tiller/pkg/gate"
	"tiller-hq/tiller/pkg/metrics"
	"tiller-hq/tiller/pkg/optimizer"
	"tiller-hq/tiller/pkg/txn"
)

// BridgeConfig contains configuration for the event bridge.
type BridgeConfig struct {
	// Collector receives the recorded values. Required.
	Collector *Collector

	// Bus is the event source. Required.
	Bus *events.Bus

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// Bridge subscribes to the event bus and translates lifecycle events into
// prometheus metric updates. It is the only place in the control plane
// where event payloads meet the metric surface.
type Bridge struct {
	collector *Collector
	bus       *events.Bus
	logger    *slog.Logger

	mu        sync.Mutex
	cancel    func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewBridge creates a bridge. Start must be called to begin consuming.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		collector: cfg.Collector,
		bus:       cfg.Bus,
		logger:    logger.With("component", "metrics_bridge"),
	}
}

// Start subscribes to the bus and consumes events until Stop is called.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done != nil {
		return
	}

	ch, cancel := b.bus.Subscribe(
		events.TypeGateOpened,
		events.TypeGateHalfOpen,
		events.TypeGateClosed,
		events.TypeTransactionCommitted,
		events.TypeTransactionRolledBack,
		events.TypeMetricsCollected,
		events.TypeAnomaliesDetected,
		events.TypeMetricsAggregated,
		events.TypeRoutingUpdated,
		events.TypeRoutingUpdateFailed,
	)
	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		for ev := range ch {
			b.handle(ev)
		}
	}()
}

// Stop unsubscribes and waits for the consumer goroutine to drain.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()
	if done == nil {
		return
	}
	b.closeOnce.Do(func() {
		cancel()
		<-done
	})
}

// handle translates a single event into metric updates. Events with
// unexpected payload types are logged and dropped.
func (b *Bridge) handle(ev events.Event) {
	switch ev.Type {
	case events.TypeGateOpened, events.TypeGateHalfOpen, events.TypeGateClosed:
		change, ok := ev.Payload.(gate.StateChange)
		if !ok {
			b.dropped(ev)
			return
		}
		b.collector.RecordGateState(change.To)

	case events.TypeTransactionCommitted, events.TypeTransactionRolledBack:
		record, ok := ev.Payload.(*txn.Transaction)
		if !ok {
			b.dropped(ev)
			return
		}
		b.collector.RecordTransaction(string(record.Status), len(record.Changes))

	case events.TypeMetricsCollected:
		b.collector.RecordCollection()

	case events.TypeAnomaliesDetected:
		batch, ok := ev.Payload.([]metrics.Anomaly)
		if !ok {
			b.dropped(ev)
			return
		}
		for _, a := range batch {
			b.collector.RecordAnomaly(string(a.Severity))
		}

	case events.TypeMetricsAggregated:
		b.collector.RecordAggregation()

	case events.TypeRoutingUpdated, events.TypeRoutingUpdateFailed:
		result, ok := ev.Payload.(*optimizer.CycleResult)
		if !ok {
			b.dropped(ev)
			return
		}
		outcome := "updated"
		switch {
		case result.Err != "":
			outcome = "failed"
		case result.Aborted:
			outcome = "aborted"
		}
		duration := result.FinishedAt.Sub(result.StartedAt).Seconds()
		b.collector.RecordCycle(outcome, len(result.Applied), len(result.RulesCreated), duration)
	}
}

func (b *Bridge) dropped(ev events.Event) {
	b.logger.Warn("unexpected event payload", "type", string(ev.Type))
}
