package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"tiller-hq/tiller/pkg/dataplane"
	"tiller-hq/tiller/pkg/events"
	"tiller-hq/tiller/pkg/gate"
	"tiller-hq/tiller/pkg/metrics/store"
)

// ErrCollectionInProgress is returned by CollectOnce when another
// collection pass is still running. The scheduler skips the tick
// rather than queueing it.
var ErrCollectionInProgress = errors.New("metrics: collection already in progress")

// Config configures the metrics engine.
type Config struct {
	// Client is the data-plane API client. Required.
	Client *dataplane.Client

	// Gate wraps client calls when set, so a dead proxy trips the
	// breaker instead of burning collection cycles on timeouts.
	Gate *gate.Gate

	// Bus receives collected/anomalies-detected/aggregated events.
	// Optional.
	Bus *events.Bus

	// Store persists snapshots, aggregates, and traffic patterns.
	// Nil disables persistence.
	Store store.Backend

	// Logger is the structured logger. Defaults to slog.Default.
	Logger *slog.Logger

	// CollectionInterval is how often to poll runtime statistics.
	// Default: 10 seconds.
	CollectionInterval time.Duration

	// HistorySize bounds the global snapshot ring and each per-scope
	// series ring. Default: 720 (two hours at a 10 second interval).
	HistorySize int

	// AnomalyLogSize bounds the anomaly log. Default: 200.
	AnomalyLogSize int

	// BaselineMinSamples is the minimum series length before a
	// baseline is computed. Default: 5.
	BaselineMinSamples int

	// AnomalyThreshold is the z-score magnitude that flags a value.
	// Default: 2.5.
	AnomalyThreshold float64

	// NoiseFloor is the minimum baseline stddev for a metric to be
	// scored at all. Flat series below it never produce anomalies.
	// Default: 0.01.
	NoiseFloor float64

	// AnomalyDetection enables scoring at startup. It can be toggled
	// at runtime. Default: true (set DisableAnomalyDetection to
	// start disabled).
	DisableAnomalyDetection bool

	// AggregationSchedule is the cron spec for hourly rollups.
	// Default: "0 * * * *" (top of every hour).
	AggregationSchedule string

	// PruneTail is how much fine-grained persisted history survives
	// pruning after each aggregation. Default: 10 minutes.
	PruneTail time.Duration

	// now is the clock source, for tests.
	now func() time.Time
}

// EngineStats are diagnostic counters for the collection scheduler.
type EngineStats struct {
	Collections     int64
	Errors          int64
	SkippedOverlaps int64
	LastCollectedAt time.Time
	LastError       string
}

// Engine polls proxy statistics, maintains rolling history and
// baselines, detects anomalies, and rolls history up into persisted
// hourly aggregates.
type Engine struct {
	client *dataplane.Client
	gate   *gate.Gate
	bus    *events.Bus
	store  store.Backend
	logger *slog.Logger
	cfg    Config
	now    func() time.Time

	// collecting guards against overlapping collection passes.
	collecting atomic.Bool

	// detection toggles anomaly scoring at runtime.
	detection atomic.Bool

	collections     atomic.Int64
	collectErrors   atomic.Int64
	skippedOverlaps atomic.Int64

	// mu guards everything below.
	mu              sync.RWMutex
	snapshots       *snapshotRing
	series          map[string]*seriesRing
	baselines       map[string]Baseline
	anomalies       *anomalyLog
	patterns        trafficPatterns
	lastErr         error
	lastCollectedAt time.Time
	lastAggregated  time.Time

	cron    *cron.Cron
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New creates a metrics engine. The client is required.
func New(cfg Config) (*Engine, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("metrics: client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CollectionInterval <= 0 {
		cfg.CollectionInterval = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 720
	}
	if cfg.AnomalyLogSize <= 0 {
		cfg.AnomalyLogSize = 200
	}
	if cfg.BaselineMinSamples <= 0 {
		cfg.BaselineMinSamples = 5
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = 2.5
	}
	if cfg.NoiseFloor <= 0 {
		cfg.NoiseFloor = 0.01
	}
	if cfg.AggregationSchedule == "" {
		cfg.AggregationSchedule = "0 * * * *"
	}
	if cfg.PruneTail <= 0 {
		cfg.PruneTail = 10 * time.Minute
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	e := &Engine{
		client:    cfg.Client,
		gate:      cfg.Gate,
		bus:       cfg.Bus,
		store:     cfg.Store,
		logger:    cfg.Logger.With("component", "metrics"),
		cfg:       cfg,
		now:       cfg.now,
		snapshots: newSnapshotRing(cfg.HistorySize),
		series:    make(map[string]*seriesRing),
		baselines: make(map[string]Baseline),
		anomalies: newAnomalyLog(cfg.AnomalyLogSize),
		done:      make(chan struct{}),
	}
	e.detection.Store(!cfg.DisableAnomalyDetection)
	e.mu.Lock()
	e.lastAggregated = e.now()
	e.mu.Unlock()
	return e, nil
}

// Start loads persisted traffic patterns, then launches the collection
// loop and the aggregation schedule.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("metrics: engine already started")
	}
	e.started = true
	e.mu.Unlock()

	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		state, err := e.store.LoadPatterns(ctx)
		cancel()
		if err != nil {
			e.logger.Warn("failed to load traffic patterns", "error", err)
		} else if state != nil {
			e.mu.Lock()
			e.patterns.load(state)
			e.mu.Unlock()
			e.logger.Info("loaded traffic patterns", "updated_at", state.UpdatedAt)
		}
	}

	e.cron = cron.New()
	if _, err := e.cron.AddFunc(e.cfg.AggregationSchedule, e.runAggregation); err != nil {
		return fmt.Errorf("metrics: invalid aggregation schedule %q: %w", e.cfg.AggregationSchedule, err)
	}
	e.cron.Start()

	e.wg.Add(1)
	go e.collectLoop()

	e.logger.Info("metrics engine started",
		"collection_interval", e.cfg.CollectionInterval,
		"aggregation_schedule", e.cfg.AggregationSchedule,
		"persistence", e.store != nil)
	return nil
}

// Stop halts the schedules and waits for an in-flight pass to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()

	close(e.done)
	if e.cron != nil {
		cronCtx := e.cron.Stop()
		<-cronCtx.Done()
	}
	e.wg.Wait()
	e.logger.Info("metrics engine stopped")
}

func (e *Engine) collectLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.CollectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CollectionInterval)
			_, err := e.CollectOnce(ctx)
			cancel()
			if errors.Is(err, ErrCollectionInProgress) {
				e.logger.Debug("collection tick skipped, previous pass still running")
			}
		case <-e.done:
			return
		}
	}
}

func (e *Engine) runAggregation() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := e.Aggregate(ctx); err != nil {
		e.logger.Error("aggregation failed", "error", err)
	}
}

// CollectOnce runs a single collection pass. Any single step (stats,
// info, process metrics) may fail independently; a failed step yields
// nil for that step without aborting the pass. The pass fails outright
// only when every step fails.
func (e *Engine) CollectOnce(ctx context.Context) (*Snapshot, error) {
	if !e.collecting.CompareAndSwap(false, true) {
		e.skippedOverlaps.Add(1)
		return nil, ErrCollectionInProgress
	}
	defer e.collecting.Store(false)

	now := e.now()
	snap := &Snapshot{
		ID:        uuid.NewString(),
		Timestamp: now,
	}

	var stepErrs []error

	statsOK := false
	rows, err := e.fetchStats(ctx)
	if err != nil {
		e.logger.Warn("stats collection step failed", "error", err)
		stepErrs = append(stepErrs, fmt.Errorf("stats: %w", err))
	} else {
		snap.Rows = rows
		snap.Summary = summarize(rows)
		statsOK = true
	}

	info, err := e.fetchInfo(ctx)
	if err != nil {
		e.logger.Warn("info collection step failed", "error", err)
		stepErrs = append(stepErrs, fmt.Errorf("info: %w", err))
	} else {
		snap.Runtime = info
	}

	proc, err := e.fetchProcessMetrics(ctx)
	if err != nil {
		e.logger.Warn("process metrics collection step failed", "error", err)
		stepErrs = append(stepErrs, fmt.Errorf("process: %w", err))
	} else {
		snap.Process = proc
	}

	if len(stepErrs) == 3 {
		err := errors.Join(stepErrs...)
		e.collectErrors.Add(1)
		e.mu.Lock()
		e.lastErr = err
		e.mu.Unlock()
		return nil, err
	}
	if len(stepErrs) > 0 {
		e.collectErrors.Add(1)
		e.mu.Lock()
		e.lastErr = errors.Join(stepErrs...)
		e.mu.Unlock()
	}

	batch := e.ingest(snap, statsOK)
	e.collections.Add(1)

	if e.bus != nil {
		e.bus.Publish(events.TypeMetricsCollected, snap)
		if len(batch) > 0 {
			e.bus.Publish(events.TypeAnomaliesDetected, batch)
		}
	}
	for _, a := range batch {
		e.logger.Warn("anomaly detected",
			"scope", a.Scope,
			"metric", a.Metric,
			"value", a.Value,
			"baseline_mean", a.BaselineMean,
			"z_score", a.ZScore,
			"severity", a.Severity,
			"direction", a.Direction)
	}

	if e.store != nil {
		if err := e.store.SaveSnapshot(ctx, snap.Record()); err != nil {
			e.logger.Warn("failed to persist snapshot", "error", err)
		}
	}

	return snap, nil
}

// ingest appends the snapshot to the rings, scores the latest values
// against baselines built from prior samples, and recomputes baselines
// with the new sample included. Returns the detected anomaly batch.
// statsOK reports whether the stats step produced the snapshot summary;
// without it the zero summary must not feed the traffic patterns.
func (e *Engine) ingest(snap *Snapshot, statsOK bool) []Anomaly {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastCollectedAt = snap.Timestamp
	e.snapshots.append(snap)

	scopes := make(map[string]map[string]float64)
	for _, row := range snap.Rows {
		key, ok := rowScope(row)
		if !ok {
			continue
		}
		scopes[key] = rowValues(row)
	}

	var batch []Anomaly
	if e.detection.Load() && len(e.baselines) > 0 {
		batch = detectAnomalies(e.baselines, scopes, e.cfg.AnomalyThreshold, e.cfg.NoiseFloor, snap.Timestamp)
		if len(batch) > 0 {
			e.anomalies.append(batch)
		}
	}

	for key, values := range scopes {
		ring := e.series[key]
		if ring == nil {
			ring = newSeriesRing(e.cfg.HistorySize)
			e.series[key] = ring
		}
		ring.append(Sample{Timestamp: snap.Timestamp, Values: values})
	}

	e.baselines = recomputeBaselines(e.series, e.cfg.BaselineMinSamples, snap.Timestamp)
	if statsOK {
		e.patterns.observe(snap.Timestamp, snap.Summary.RequestRate)
	}

	return batch
}

func (e *Engine) fetchStats(ctx context.Context) ([]dataplane.StatRow, error) {
	if e.gate == nil {
		return e.client.GetStats(ctx)
	}
	return gate.Call(e.gate, ctx, "runtime stats", func(ctx context.Context) ([]dataplane.StatRow, error) {
		return e.client.GetStats(ctx)
	})
}

func (e *Engine) fetchInfo(ctx context.Context) (*dataplane.RuntimeInfo, error) {
	if e.gate == nil {
		return e.client.GetInfo(ctx)
	}
	return gate.Call(e.gate, ctx, "runtime info", func(ctx context.Context) (*dataplane.RuntimeInfo, error) {
		return e.client.GetInfo(ctx)
	})
}

func (e *Engine) fetchProcessMetrics(ctx context.Context) (*dataplane.ProcessMetrics, error) {
	if e.gate == nil {
		return e.client.GetProcessMetrics(ctx)
	}
	return gate.Call(e.gate, ctx, "process metrics", func(ctx context.Context) (*dataplane.ProcessMetrics, error) {
		return e.client.GetProcessMetrics(ctx)
	})
}

// Aggregate rolls every snapshot collected since the last aggregation
// up into one record, persists it, publishes an aggregated event, and
// prunes persisted raw snapshots down to the configured tail. Returns
// nil without error when no snapshots fell in the period.
func (e *Engine) Aggregate(ctx context.Context) (*store.Aggregate, error) {
	now := e.now()

	e.mu.Lock()
	start := e.lastAggregated
	snaps := e.snapshots.between(start, now)
	patterns := e.patterns.snapshot()
	e.mu.Unlock()

	agg := buildAggregate(snaps, start, now)
	if agg == nil {
		e.logger.Debug("aggregation skipped, no snapshots in period", "period_start", start)
		e.setLastAggregated(now)
		return nil, nil
	}

	if e.store != nil {
		// The watermark advances only once the aggregate is durable, so
		// a transient store failure leaves the window to be retried on
		// the next tick.
		if err := e.store.SaveAggregate(ctx, agg); err != nil {
			return nil, fmt.Errorf("metrics: failed to persist aggregate: %w", err)
		}
		if err := e.store.SavePatterns(ctx, patterns); err != nil {
			e.logger.Warn("failed to persist traffic patterns", "error", err)
		}
		pruned, err := e.store.PruneSnapshots(ctx, now.Add(-e.cfg.PruneTail))
		if err != nil {
			e.logger.Warn("failed to prune snapshots", "error", err)
		} else if pruned > 0 {
			e.logger.Debug("pruned persisted snapshots", "removed", pruned)
		}
	}

	e.setLastAggregated(now)

	if e.bus != nil {
		e.bus.Publish(events.TypeMetricsAggregated, agg)
	}

	e.logger.Info("aggregated metrics",
		"period_start", agg.PeriodStart,
		"period_end", agg.PeriodEnd,
		"samples", agg.SampleCount,
		"backends", len(agg.Backends),
		"servers", len(agg.Servers))
	return agg, nil
}

func (e *Engine) setLastAggregated(now time.Time) {
	e.mu.Lock()
	e.lastAggregated = now
	e.mu.Unlock()
}

// Current returns the most recent snapshot, or nil before the first
// collection.
func (e *Engine) Current() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshots.latest()
}

// Snapshots returns up to limit of the most recent snapshots, oldest
// first. A limit of zero or less returns everything retained.
func (e *Engine) Snapshots(limit int) []*Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshots.slice(limit)
}

// Series returns up to limit of the most recent samples for one scope
// key, oldest first.
func (e *Engine) Series(scope string, limit int) []Sample {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ring := e.series[scope]
	if ring == nil {
		return nil
	}
	return ring.slice(limit)
}

// Baseline returns the current baseline for a scope and metric.
func (e *Engine) Baseline(scope, metric string) (Baseline, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.baselines[baselineKey(scope, metric)]
	return b, ok
}

// Anomalies returns up to limit detected anomalies, most recent first.
func (e *Engine) Anomalies(limit int) []Anomaly {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.anomalies.slice(limit)
}

// Insights derives a per-backend health report from the most recent
// snapshot.
func (e *Engine) Insights() []PerformanceInsight {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return computeInsights(e.snapshots.latest())
}

// Patterns returns a copy of the traffic pattern accumulators.
func (e *Engine) Patterns() *store.PatternState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.patterns.snapshot()
}

// ExpectedRate returns the historical mean request rate for the given
// moment based on accumulated traffic patterns.
func (e *Engine) ExpectedRate(ts time.Time) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.patterns.expectedRate(ts)
}

// SetAnomalyDetection toggles anomaly scoring. Takes effect on the
// next collection pass.
func (e *Engine) SetAnomalyDetection(enabled bool) {
	e.detection.Store(enabled)
	e.logger.Info("anomaly detection toggled", "enabled", enabled)
}

// AnomalyDetectionEnabled reports whether scoring is active.
func (e *Engine) AnomalyDetectionEnabled() bool {
	return e.detection.Load()
}

// SetAnomalyThreshold replaces the z-score magnitude that flags a value.
// Non-positive values are ignored. Takes effect on the next collection pass.
func (e *Engine) SetAnomalyThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}
	e.mu.Lock()
	e.cfg.AnomalyThreshold = threshold
	e.mu.Unlock()
	e.logger.Info("anomaly threshold updated", "threshold", threshold)
}

// AnomalyThreshold returns the active z-score threshold.
func (e *Engine) AnomalyThreshold() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.AnomalyThreshold
}

// Stats returns diagnostic counters for the scheduler.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := EngineStats{
		Collections:     e.collections.Load(),
		Errors:          e.collectErrors.Load(),
		SkippedOverlaps: e.skippedOverlaps.Load(),
		LastCollectedAt: e.lastCollectedAt,
	}
	if e.lastErr != nil {
		stats.LastError = e.lastErr.Error()
	}
	return stats
}
