package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tiller-hq/tiller/pkg/dataplane"
	"tiller-hq/tiller/pkg/events"
	"tiller-hq/tiller/pkg/gate"
	"tiller-hq/tiller/pkg/metrics"
	"tiller-hq/tiller/pkg/txn"
)

// ErrCycleInProgress is returned by RunOnce when another cycle is
// still running. The scheduler skips the tick rather than queueing it.
var ErrCycleInProgress = errors.New("optimizer: cycle already in progress")

// ErrNoSnapshot is returned when no metrics snapshot has been
// collected yet.
var ErrNoSnapshot = errors.New("optimizer: no metrics snapshot available")

// Config configures the routing optimizer.
type Config struct {
	// Client is the data-plane API client. Required.
	Client *dataplane.Client

	// Gate wraps per-server writes when set, so repeated proxy
	// failures inside cycles trip the breaker.
	Gate *gate.Gate

	// Coordinator applies each cycle's changes transactionally.
	// Required.
	Coordinator *txn.Coordinator

	// Cache mirrors the proxy configuration; current weights and
	// known rules are read from it. Required.
	Cache *txn.ConfigCache

	// Engine supplies the metrics snapshots cycles score against.
	// Required.
	Engine *metrics.Engine

	// Bus receives routing updated/update-failed events. Optional.
	Bus *events.Bus

	// Logger is the structured logger. Defaults to slog.Default.
	Logger *slog.Logger

	// Interval is how often to run an optimization cycle.
	// Default: 60 seconds.
	Interval time.Duration

	// WeightSplit balances performance against load when scoring.
	// Default: 0.7 performance, 0.3 load.
	WeightSplit WeightSplit

	// BaseWeight is the per-server scaling anchor for target weights.
	// Default: 100.
	BaseWeight int

	// MaterialityThreshold is the minimum weight delta before a
	// change is applied. Default: 5.
	MaterialityThreshold int

	// ContentRules are the path match rules to ensure exist.
	ContentRules []dataplane.MatchRule

	// OriginRules are the origin routing rules to ensure exist.
	OriginRules []dataplane.OriginRule

	// EnableContentRouting and EnableOriginRouting turn rule
	// management on. Both can be toggled at runtime.
	EnableContentRouting bool
	EnableOriginRouting  bool

	// ValidateBeforeCommit runs the proxy's configuration dry-run
	// before each cycle's commit.
	ValidateBeforeCommit bool

	// HistorySize bounds the cycle history ring. Default: 50.
	HistorySize int

	// now is the clock source, for tests.
	now func() time.Time
}

// WeightChange is one applied weight adjustment.
type WeightChange struct {
	Backend string `json:"backend"`
	Server  string `json:"server"`
	From    int    `json:"from"`
	To      int    `json:"to"`
}

// CycleResult is one optimization cycle's outcome, kept in the bounded
// cycle history and published with routing events.
type CycleResult struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// ServersScored is how many healthy servers were scored.
	ServersScored int `json:"servers_scored"`

	// Applied lists the weight changes that survived the materiality
	// filter and were written to the proxy.
	Applied []WeightChange `json:"applied,omitempty"`

	// SkippedServers lists servers whose individual updates failed and
	// were skipped without aborting the batch.
	SkippedServers []string `json:"skipped_servers,omitempty"`

	// RulesCreated lists names of content/origin rules created.
	RulesCreated []string `json:"rules_created,omitempty"`

	// Aborted is true when the cycle opened a transaction and
	// explicitly aborted it because no change survived.
	Aborted bool `json:"aborted"`

	// Err holds the cycle-level failure, empty on success.
	Err string `json:"err,omitempty"`
}

// Optimizer periodically recomputes and applies per-server traffic
// weights and ensures routing rules exist.
type Optimizer struct {
	client *dataplane.Client
	gate   *gate.Gate
	coord  *txn.Coordinator
	cache  *txn.ConfigCache
	engine *metrics.Engine
	bus    *events.Bus
	logger *slog.Logger
	cfg    Config
	now    func() time.Time

	// running guards against overlapping cycles.
	running atomic.Bool

	contentRouting atomic.Bool
	originRouting  atomic.Bool

	// mu guards the fields below.
	mu      sync.RWMutex
	split   WeightSplit
	history []*CycleResult

	force   chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New creates a routing optimizer.
func New(cfg Config) (*Optimizer, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("optimizer: client is required")
	}
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("optimizer: coordinator is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("optimizer: cache is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("optimizer: metrics engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.WeightSplit == (WeightSplit{}) {
		cfg.WeightSplit = DefaultWeightSplit
	}
	if cfg.BaseWeight <= 0 {
		cfg.BaseWeight = 100
	}
	if cfg.MaterialityThreshold <= 0 {
		cfg.MaterialityThreshold = 5
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	o := &Optimizer{
		client: cfg.Client,
		gate:   cfg.Gate,
		coord:  cfg.Coordinator,
		cache:  cfg.Cache,
		engine: cfg.Engine,
		bus:    cfg.Bus,
		logger: cfg.Logger.With("component", "optimizer"),
		cfg:    cfg,
		now:    cfg.now,
		split:  cfg.WeightSplit,
		force:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	o.contentRouting.Store(cfg.EnableContentRouting)
	o.originRouting.Store(cfg.EnableOriginRouting)
	return o, nil
}

// Start launches the cycle scheduler.
func (o *Optimizer) Start() error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("optimizer: already started")
	}
	o.started = true
	o.mu.Unlock()

	o.wg.Add(1)
	go o.loop()

	o.logger.Info("routing optimizer started",
		"interval", o.cfg.Interval,
		"materiality_threshold", o.cfg.MaterialityThreshold,
		"content_routing", o.contentRouting.Load(),
		"origin_routing", o.originRouting.Load())
	return nil
}

// Stop halts the scheduler and waits for an in-flight cycle to finish.
func (o *Optimizer) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	o.mu.Unlock()

	close(o.done)
	o.wg.Wait()
	o.logger.Info("routing optimizer stopped")
}

func (o *Optimizer) loop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.runScheduled()
		case <-o.force:
			o.runScheduled()
		case <-o.done:
			return
		}
	}
}

func (o *Optimizer) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Interval)
	defer cancel()

	_, err := o.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		o.logger.Debug("optimization tick skipped, previous cycle still running")
	case errors.Is(err, ErrNoSnapshot):
		o.logger.Debug("optimization tick skipped, no metrics snapshot yet")
	}
}

// RunOnce executes one optimization cycle: score servers, filter for
// material deltas, apply the survivors plus any missing routing rules
// in one transaction, and record the outcome. Per-server update
// failures are logged and skipped; a cycle with nothing to apply opens
// its transaction and explicitly aborts it.
func (o *Optimizer) RunOnce(ctx context.Context) (*CycleResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer o.running.Store(false)

	result := &CycleResult{StartedAt: o.now()}

	snap := o.engine.Current()
	if snap == nil || len(snap.Rows) == 0 {
		return nil, ErrNoSnapshot
	}

	readings := o.buildReadings(snap)
	decisions := ComputeOptimalWeights(readings, o.weightSplit(), o.cfg.BaseWeight)
	result.ServersScored = len(decisions)

	var material []Decision
	for _, d := range decisions {
		if d.Delta() >= o.cfg.MaterialityThreshold {
			material = append(material, d)
		}
	}

	pendingContent, pendingOrigin := o.pendingRules()

	err := o.coord.WithTransaction(ctx, txn.Options{
		Description:          "routing optimization cycle",
		ValidateBeforeCommit: o.cfg.ValidateBeforeCommit,
	}, func(tx *txn.Tx) error {
		applied := o.applyWeights(ctx, tx, material, result)
		created := o.applyRules(ctx, tx, pendingContent, pendingOrigin, result)
		if applied == 0 && created == 0 {
			return txn.ErrAbort
		}
		return nil
	})

	result.FinishedAt = o.now()
	if err != nil {
		result.Err = err.Error()
	} else if len(result.Applied) == 0 && len(result.RulesCreated) == 0 {
		result.Aborted = true
	}

	o.appendHistory(result)

	if err != nil {
		o.logger.Error("optimization cycle failed", "error", err)
		if o.bus != nil {
			o.bus.Publish(events.TypeRoutingUpdateFailed, result)
		}
		return result, err
	}

	o.logger.Info("optimization cycle finished",
		"servers_scored", result.ServersScored,
		"weight_changes", len(result.Applied),
		"rules_created", len(result.RulesCreated),
		"skipped", len(result.SkippedServers),
		"aborted", result.Aborted)
	if o.bus != nil {
		o.bus.Publish(events.TypeRoutingUpdated, result)
	}
	return result, nil
}

// buildReadings joins the snapshot's server rows with current weights
// from the configuration cache.
func (o *Optimizer) buildReadings(snap *metrics.Snapshot) []ServerReading {
	weights := make(map[string]int)
	for _, b := range o.cache.Backends() {
		for _, s := range b.Servers {
			weights[b.Name+"/"+s.Name] = s.Weight
		}
	}

	var readings []ServerReading
	for _, row := range snap.Rows {
		if row.Type != "server" {
			continue
		}
		readings = append(readings, ServerReading{
			Backend:            row.BackendName,
			Server:             row.Name,
			ResponseTimeMs:     row.ResponseTimeMs,
			ErrorRatePercent:   row.ErrorRatePercent(),
			CurrentConnections: row.CurrentConnections,
			CurrentWeight:      weights[row.BackendName+"/"+row.Name],
			Healthy:            row.IsUp(),
		})
	}
	return readings
}

// proxyCall routes a proxy write through the gate when one is
// configured, so failing writes count toward the breaker.
func (o *Optimizer) proxyCall(ctx context.Context, label string, op func(ctx context.Context) error) error {
	if o.gate == nil {
		return op(ctx)
	}
	return o.gate.Execute(ctx, label, op)
}

// applyWeights writes material weight changes inside the transaction.
// The backend lock is taken once per touched backend; a backend whose
// lock cannot be acquired is skipped whole.
func (o *Optimizer) applyWeights(ctx context.Context, tx *txn.Tx, material []Decision, result *CycleResult) int {
	locked := make(map[string]bool)
	applied := 0

	for _, d := range material {
		ok, seen := locked[d.Backend]
		if !seen {
			err := tx.AcquireLock("backend/" + d.Backend)
			ok = err == nil
			locked[d.Backend] = ok
			if err != nil {
				o.logger.Warn("backend locked by another transaction, skipping its changes",
					"backend", d.Backend, "error", err)
			}
		}
		if !ok {
			result.SkippedServers = append(result.SkippedServers, d.Backend+"/"+d.Server)
			continue
		}

		err := o.proxyCall(ctx, "update server weight", func(ctx context.Context) error {
			return o.client.UpdateServerWeight(ctx, d.Backend, d.Server, d.TargetWeight, tx.ID())
		})
		if err != nil {
			o.logger.Warn("weight update failed, skipping server",
				"backend", d.Backend, "server", d.Server, "error", err)
			result.SkippedServers = append(result.SkippedServers, d.Backend+"/"+d.Server)
			continue
		}

		tx.RecordChange(txn.Change{
			Kind:   txn.ChangeServerWeight,
			Target: d.Backend + "/" + d.Server,
			Before: d.CurrentWeight,
			After:  d.TargetWeight,
		})
		result.Applied = append(result.Applied, WeightChange{
			Backend: d.Backend,
			Server:  d.Server,
			From:    d.CurrentWeight,
			To:      d.TargetWeight,
		})
		applied++
	}
	return applied
}

// applyRules creates missing content and origin rules inside the
// transaction. Creation is idempotent by rule name; existing rules are
// left untouched.
func (o *Optimizer) applyRules(ctx context.Context, tx *txn.Tx, content []dataplane.MatchRule, origin []dataplane.OriginRule, result *CycleResult) int {
	created := 0

	for _, rule := range content {
		err := o.proxyCall(ctx, "create content rule", func(ctx context.Context) error {
			return o.client.CreateMatchRule(ctx, rule, tx.ID())
		})
		if err != nil {
			o.logger.Warn("content rule creation failed, skipping",
				"rule", rule.Name, "error", err)
			continue
		}
		tx.RecordChange(txn.Change{
			Kind:   txn.ChangeCreateContentRule,
			Target: rule.Name,
			After:  rule,
		})
		result.RulesCreated = append(result.RulesCreated, rule.Name)
		created++
	}

	for _, rule := range origin {
		err := o.proxyCall(ctx, "create origin rule", func(ctx context.Context) error {
			return o.client.CreateOriginRule(ctx, rule, tx.ID())
		})
		if err != nil {
			o.logger.Warn("origin rule creation failed, skipping",
				"rule", rule.Name, "error", err)
			continue
		}
		tx.RecordChange(txn.Change{
			Kind:   txn.ChangeCreateOriginRule,
			Target: rule.Name,
			After:  rule,
		})
		result.RulesCreated = append(result.RulesCreated, rule.Name)
		created++
	}
	return created
}

// pendingRules returns the configured rules not yet present in the
// cache, honoring the routing toggles.
func (o *Optimizer) pendingRules() ([]dataplane.MatchRule, []dataplane.OriginRule) {
	var content []dataplane.MatchRule
	if o.contentRouting.Load() {
		for _, rule := range o.cfg.ContentRules {
			if !o.cache.HasRule(rule.Name) {
				content = append(content, rule)
			}
		}
	}

	var origin []dataplane.OriginRule
	if o.originRouting.Load() {
		for _, rule := range o.cfg.OriginRules {
			if !o.cache.HasRule(rule.Name) {
				origin = append(origin, rule)
			}
		}
	}
	return content, origin
}

func (o *Optimizer) appendHistory(r *CycleResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.history = append(o.history, r)
	if over := len(o.history) - o.cfg.HistorySize; over > 0 {
		o.history = append(o.history[:0:0], o.history[over:]...)
	}
}

// History returns up to limit cycle results, most recent first. A
// limit of zero or less returns everything retained.
func (o *Optimizer) History(limit int) []*CycleResult {
	o.mu.RLock()
	defer o.mu.RUnlock()

	n := len(o.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*CycleResult, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, o.history[i])
	}
	return out
}

func (o *Optimizer) weightSplit() WeightSplit {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.split
}

// SetWeightSplit adjusts the performance/load split. Takes effect on
// the next cycle. Non-positive values fall back to the defaults.
func (o *Optimizer) SetWeightSplit(performance, load float64) {
	if performance <= 0 || load <= 0 {
		performance = DefaultWeightSplit.Performance
		load = DefaultWeightSplit.Load
	}

	o.mu.Lock()
	o.split = WeightSplit{Performance: performance, Load: load}
	o.mu.Unlock()

	o.logger.Info("weight split updated", "performance", performance, "load", load)
}

// SetContentRouting toggles content rule management. Takes effect on
// the next cycle.
func (o *Optimizer) SetContentRouting(enabled bool) {
	o.contentRouting.Store(enabled)
	o.logger.Info("content routing toggled", "enabled", enabled)
}

// SetOriginRouting toggles origin rule management. Takes effect on the
// next cycle.
func (o *Optimizer) SetOriginRouting(enabled bool) {
	o.originRouting.Store(enabled)
	o.logger.Info("origin routing toggled", "enabled", enabled)
}

// ContentRoutingEnabled reports the content routing toggle.
func (o *Optimizer) ContentRoutingEnabled() bool {
	return o.contentRouting.Load()
}

// OriginRoutingEnabled reports the origin routing toggle.
func (o *Optimizer) OriginRoutingEnabled() bool {
	return o.originRouting.Load()
}

// ForceCycle requests an immediate out-of-schedule cycle. The request
// is dropped if one is already pending or the optimizer is stopped.
func (o *Optimizer) ForceCycle() {
	select {
	case o.force <- struct{}{}:
	default:
	}
}
