package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"tiller-hq/tiller/pkg/gate"
)

// Config contains configuration for the metrics collector.
type Config struct {
	// Namespace prefixes all metric names. Default: "tiller".
	Namespace string

	// CycleDurationBuckets are the histogram buckets for optimizer
	// cycle durations in seconds. Defaults cover 10ms to 30s.
	CycleDurationBuckets []float64

	// Registry is the prometheus registry to register with. A fresh
	// registry is created when nil.
	Registry *prometheus.Registry
}

// Collector owns the control plane's prometheus metrics. Values are
// recorded through the event-bus Bridge; components never touch
// prometheus directly.
type Collector struct {
	registry *prometheus.Registry

	// Gate metrics
	gateState       prometheus.Gauge
	gateTransitions *prometheus.CounterVec

	// Transaction metrics
	transactionsTotal  *prometheus.CounterVec
	transactionChanges prometheus.Histogram

	// Collection metrics
	collectionsTotal  prometheus.Counter
	anomaliesTotal    *prometheus.CounterVec
	aggregationsTotal prometheus.Counter

	// Optimizer metrics
	cyclesTotal        *prometheus.CounterVec
	weightChangesTotal prometheus.Counter
	rulesCreatedTotal  prometheus.Counter
	cycleDuration      prometheus.Histogram
}

// NewCollector creates and registers the control plane metric set.
func NewCollector(cfg Config) *Collector {
	if cfg.Namespace == "" {
		cfg.Namespace = "tiller"
	}
	if len(cfg.CycleDurationBuckets) == 0 {
		cfg.CycleDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,

		gateState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "gate_state",
			Help:      "Health gate state (0=closed, 1=half-open, 2=open)",
		}),
		gateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "gate_transitions_total",
			Help:      "Health gate state transitions",
		}, []string{"to"}),

		transactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "transactions_total",
			Help:      "Completed configuration transactions by outcome",
		}, []string{"status"}),
		transactionChanges: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "transaction_changes",
			Help:      "Recorded changes per committed transaction",
			Buckets:   []float64{1, 2, 5, 10, 25, 50},
		}),

		collectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "metric_collections_total",
			Help:      "Completed metric collection passes",
		}),
		anomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "anomalies_total",
			Help:      "Detected metric anomalies by severity",
		}, []string{"severity"}),
		aggregationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "aggregations_total",
			Help:      "Completed hourly aggregation passes",
		}),

		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "routing_cycles_total",
			Help:      "Optimization cycles by outcome",
		}, []string{"outcome"}),
		weightChangesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "weight_changes_total",
			Help:      "Server weight changes applied to the proxy",
		}),
		rulesCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "routing_rules_created_total",
			Help:      "Routing rules created on the proxy",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "routing_cycle_duration_seconds",
			Help:      "Wall-clock duration of optimization cycles",
			Buckets:   cfg.CycleDurationBuckets,
		}),
	}

	registry.MustRegister(
		c.gateState,
		c.gateTransitions,
		c.transactionsTotal,
		c.transactionChanges,
		c.collectionsTotal,
		c.anomaliesTotal,
		c.aggregationsTotal,
		c.cyclesTotal,
		c.weightChangesTotal,
		c.rulesCreatedTotal,
		c.cycleDuration,
	)

	return c
}

// Registry returns the underlying prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordGateState sets the gate state gauge and counts the transition.
func (c *Collector) RecordGateState(to gate.State) {
	switch to {
	case gate.StateClosed:
		c.gateState.Set(0)
	case gate.StateHalfOpen:
		c.gateState.Set(1)
	case gate.StateOpen:
		c.gateState.Set(2)
	}
	c.gateTransitions.WithLabelValues(to.String()).Inc()
}

// RecordTransaction counts a completed transaction and, for commits,
// observes its change count.
func (c *Collector) RecordTransaction(status string, changes int) {
	c.transactionsTotal.WithLabelValues(status).Inc()
	if status == "committed" {
		c.transactionChanges.Observe(float64(changes))
	}
}

// RecordCollection counts a completed collection pass.
func (c *Collector) RecordCollection() {
	c.collectionsTotal.Inc()
}

// RecordAnomaly counts a detected anomaly.
func (c *Collector) RecordAnomaly(severity string) {
	c.anomaliesTotal.WithLabelValues(severity).Inc()
}

// RecordAggregation counts a completed aggregation pass.
func (c *Collector) RecordAggregation() {
	c.aggregationsTotal.Inc()
}

// RecordCycle counts an optimization cycle and its effects.
func (c *Collector) RecordCycle(outcome string, weightChanges, rulesCreated int, durationSeconds float64) {
	c.cyclesTotal.WithLabelValues(outcome).Inc()
	c.weightChangesTotal.Add(float64(weightChanges))
	c.rulesCreatedTotal.Add(float64(rulesCreated))
	c.cycleDuration.Observe(durationSeconds)
}
