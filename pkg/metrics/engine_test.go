package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tiller-hq/tiller/internal/dataplanetest"
	"tiller-hq/tiller/pkg/dataplane"
	"tiller-hq/tiller/pkg/events"
	"tiller-hq/tiller/pkg/metrics/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// statRows builds a stable fleet: one frontend, one backend with two
// servers. Server web-1's response time is parameterized so tests can
// drive baselines and anomalies.
func statRows(web1ResponseTime float64) []dataplane.StatRow {
	return []dataplane.StatRow{
		{
			Type:               "frontend",
			Name:               "fe",
			Status:             "OPEN",
			CurrentConnections: 100,
			TotalConnections:   1000,
			RequestRate:        50,
			Responses2xx:       950,
			Responses4xx:       30,
			Responses5xx:       20,
		},
		{
			Type:               "backend",
			Name:               "web",
			Status:             "UP",
			CurrentConnections: 40,
		},
		{
			Type:               "server",
			Name:               "web-1",
			BackendName:        "web",
			Status:             "UP",
			CurrentConnections: 20,
			ResponseTimeMs:     web1ResponseTime,
		},
		{
			Type:               "server",
			Name:               "web-2",
			BackendName:        "web",
			Status:             "UP",
			CurrentConnections: 20,
			ResponseTimeMs:     120,
		},
	}
}

type engineFixture struct {
	mock   *dataplanetest.Server
	engine *Engine
	clock  *fakeClock
	bus    *events.Bus
}

func newEngineFixture(t *testing.T, cfg Config) *engineFixture {
	t.Helper()

	mock := dataplanetest.New()
	t.Cleanup(mock.Close)
	mock.SetStats(statRows(100))
	mock.SetProcessMetrics(dataplane.ProcessMetrics{
		CPUPercent:  12.5,
		MemoryBytes: 256 << 20,
	})

	client, err := dataplane.New(dataplane.Config{
		BaseURL:  mock.URL(),
		Username: "admin",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("dataplane.New() error = %v", err)
	}
	t.Cleanup(client.Close)

	clock := newFakeClock(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	bus := events.NewBus(events.Config{BufferSize: 64})

	cfg.Client = client
	if cfg.Bus == nil {
		cfg.Bus = bus
	}
	cfg.now = clock.Now

	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &engineFixture{mock: mock, engine: engine, clock: clock, bus: bus}
}

// collect advances the clock by one interval and runs a pass.
func (f *engineFixture) collect(t *testing.T) *Snapshot {
	t.Helper()
	f.clock.Advance(10 * time.Second)
	snap, err := f.engine.CollectOnce(context.Background())
	if err != nil {
		t.Fatalf("CollectOnce() error = %v", err)
	}
	return snap
}

func TestCollectOnceBuildsSummary(t *testing.T) {
	f := newEngineFixture(t, Config{})

	snap := f.collect(t)

	if snap.Summary.CurrentConnections != 100 {
		t.Errorf("CurrentConnections = %d, want 100", snap.Summary.CurrentConnections)
	}
	if snap.Summary.TotalConnections != 1000 {
		t.Errorf("TotalConnections = %d, want 1000", snap.Summary.TotalConnections)
	}
	if snap.Summary.RequestRate != 50 {
		t.Errorf("RequestRate = %.1f, want 50", snap.Summary.RequestRate)
	}
	// 50 error responses out of 1000 total
	if snap.Summary.ErrorRatePercent != 5 {
		t.Errorf("ErrorRatePercent = %.2f, want 5", snap.Summary.ErrorRatePercent)
	}
	// mean of nonzero server response times 100 and 120
	if snap.Summary.AvgResponseTimeMs != 110 {
		t.Errorf("AvgResponseTimeMs = %.1f, want 110", snap.Summary.AvgResponseTimeMs)
	}
	if snap.Summary.BackendCount != 1 || snap.Summary.ServerCount != 2 || snap.Summary.ServersUp != 2 {
		t.Errorf("counts = %d/%d/%d, want 1/2/2",
			snap.Summary.BackendCount, snap.Summary.ServerCount, snap.Summary.ServersUp)
	}
	if snap.Runtime == nil || snap.Process == nil {
		t.Error("expected runtime info and process metrics to be populated")
	}

	if got := f.engine.Current(); got == nil || got.ID != snap.ID {
		t.Error("Current() did not return the latest snapshot")
	}
	if series := f.engine.Series(ServerScope("web", "web-1"), 0); len(series) != 1 {
		t.Errorf("expected 1 server sample, got %d", len(series))
	}
	if series := f.engine.Series(BackendScope("web"), 0); len(series) != 1 {
		t.Errorf("expected 1 backend sample, got %d", len(series))
	}
}

func TestCollectOncePublishesEvent(t *testing.T) {
	f := newEngineFixture(t, Config{})

	ch, cancel := f.bus.Subscribe(events.TypeMetricsCollected)
	defer cancel()

	snap := f.collect(t)

	select {
	case evt := <-ch:
		payload, ok := evt.Payload.(*Snapshot)
		if !ok || payload.ID != snap.ID {
			t.Errorf("unexpected collected payload %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no collected event published")
	}
}

func TestCollectOncePartialStepFailure(t *testing.T) {
	f := newEngineFixture(t, Config{})

	f.mock.FailRequests("/runtime/process", 500, -1)

	snap := f.collect(t)

	if snap.Rows == nil {
		t.Error("expected stats step to survive process step failure")
	}
	if snap.Process != nil {
		t.Error("expected nil process metrics for the failed step")
	}

	stats := f.engine.Stats()
	if stats.Collections != 1 {
		t.Errorf("Collections = %d, want 1", stats.Collections)
	}
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if stats.LastError == "" {
		t.Error("expected last error to be retained")
	}
}

func TestCollectOnceAllStepsFail(t *testing.T) {
	f := newEngineFixture(t, Config{})

	f.mock.FailRequests("/services/runtime", 500, -1)

	f.clock.Advance(10 * time.Second)
	snap, err := f.engine.CollectOnce(context.Background())
	if err == nil {
		t.Fatal("expected error when every step fails")
	}
	if snap != nil {
		t.Errorf("expected nil snapshot, got %+v", snap)
	}
	if got := f.engine.Current(); got != nil {
		t.Error("failed pass must not append to history")
	}
}

func TestCollectOnceOverlapSkipped(t *testing.T) {
	f := newEngineFixture(t, Config{})

	f.engine.collecting.Store(true)
	_, err := f.engine.CollectOnce(context.Background())
	if !errors.Is(err, ErrCollectionInProgress) {
		t.Fatalf("CollectOnce() error = %v, want ErrCollectionInProgress", err)
	}
	if got := f.engine.Stats().SkippedOverlaps; got != 1 {
		t.Errorf("SkippedOverlaps = %d, want 1", got)
	}

	f.engine.collecting.Store(false)
	if _, err := f.engine.CollectOnce(context.Background()); err != nil {
		t.Fatalf("CollectOnce() after release error = %v", err)
	}
}

func TestHistoryBounded(t *testing.T) {
	f := newEngineFixture(t, Config{HistorySize: 3})

	var last *Snapshot
	for i := 0; i < 5; i++ {
		last = f.collect(t)
	}

	snaps := f.engine.Snapshots(0)
	if len(snaps) != 3 {
		t.Fatalf("expected history bounded to 3, got %d", len(snaps))
	}
	if snaps[2].ID != last.ID {
		t.Error("expected newest snapshot retained")
	}
	if series := f.engine.Series(ServerScope("web", "web-1"), 0); len(series) != 3 {
		t.Errorf("expected series bounded to 3, got %d", len(series))
	}
}

func TestBaselineRequiresMinSamples(t *testing.T) {
	f := newEngineFixture(t, Config{})

	for i := 0; i < 4; i++ {
		f.collect(t)
	}
	if _, ok := f.engine.Baseline(ServerScope("web", "web-1"), MetricResponseTimeMs); ok {
		t.Fatal("baseline must not exist below the minimum sample count")
	}

	f.collect(t)
	b, ok := f.engine.Baseline(ServerScope("web", "web-1"), MetricResponseTimeMs)
	if !ok {
		t.Fatal("expected baseline after five samples")
	}
	if b.Mean != 100 {
		t.Errorf("baseline mean = %.2f, want 100", b.Mean)
	}
	if b.StdDev != 0 {
		t.Errorf("baseline stddev = %.2f, want 0", b.StdDev)
	}
	if b.Samples != 5 {
		t.Errorf("baseline samples = %d, want 5", b.Samples)
	}
}

func TestAnomalyDetectedOnSpike(t *testing.T) {
	f := newEngineFixture(t, Config{})

	ch, cancel := f.bus.Subscribe(events.TypeAnomaliesDetected)
	defer cancel()

	// Build a baseline for web-1 response time: mean 100, stddev ~8.9.
	// Every other metric stays flat so the noise floor filters it out.
	for _, rt := range []float64{90, 100, 110, 90, 110} {
		f.mock.SetStats(statRows(rt))
		f.collect(t)
	}

	f.mock.SetStats(statRows(200))
	f.collect(t)

	anomalies := f.engine.Anomalies(0)
	if len(anomalies) != 1 {
		t.Fatalf("expected exactly 1 anomaly, got %d: %+v", len(anomalies), anomalies)
	}
	a := anomalies[0]
	if a.Scope != ServerScope("web", "web-1") || a.Metric != MetricResponseTimeMs {
		t.Errorf("anomaly on %s/%s, want server/web/web-1 response time", a.Scope, a.Metric)
	}
	if a.Value != 200 || a.BaselineMean != 100 {
		t.Errorf("anomaly value/mean = %.1f/%.1f, want 200/100", a.Value, a.BaselineMean)
	}
	if a.Direction != DirectionHigh {
		t.Errorf("direction = %s, want high", a.Direction)
	}
	// z is roughly 11, far past the 2x threshold band
	if a.Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical", a.Severity)
	}

	select {
	case evt := <-ch:
		batch, ok := evt.Payload.([]Anomaly)
		if !ok || len(batch) != 1 {
			t.Errorf("unexpected anomalies payload %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no anomalies-detected event published")
	}
}

func TestAnomalyDetectionToggle(t *testing.T) {
	f := newEngineFixture(t, Config{})

	for _, rt := range []float64{90, 100, 110, 90, 110} {
		f.mock.SetStats(statRows(rt))
		f.collect(t)
	}

	f.engine.SetAnomalyDetection(false)
	f.mock.SetStats(statRows(500))
	f.collect(t)

	if got := f.engine.Anomalies(0); len(got) != 0 {
		t.Errorf("expected no anomalies while detection disabled, got %d", len(got))
	}
	if f.engine.AnomalyDetectionEnabled() {
		t.Error("expected detection to report disabled")
	}
}

func TestAggregatePersistsAndPrunes(t *testing.T) {
	backend := store.NewMemoryBackend()
	f := newEngineFixture(t, Config{Store: backend})

	start := f.clock.Now()
	for i := 0; i < 6; i++ {
		f.collect(t)
	}

	f.clock.Advance(time.Hour)
	agg, err := f.engine.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if agg == nil {
		t.Fatal("expected an aggregate record")
	}
	if agg.SampleCount != 6 {
		t.Errorf("SampleCount = %d, want 6", agg.SampleCount)
	}
	if agg.AvgRequestRate != 50 {
		t.Errorf("AvgRequestRate = %.1f, want 50", agg.AvgRequestRate)
	}
	if agg.PeakConnections != 100 {
		t.Errorf("PeakConnections = %d, want 100", agg.PeakConnections)
	}

	rollup := agg.Backends["web"]
	if rollup == nil {
		t.Fatal("expected rollup for backend web")
	}
	if rollup.StatusCounts["UP"] != 6 {
		t.Errorf("backend UP tally = %d, want 6", rollup.StatusCounts["UP"])
	}
	if agg.Servers["web/web-1"] == nil || agg.Servers["web/web-2"] == nil {
		t.Fatal("expected rollups for both servers")
	}
	if got := agg.Servers["web/web-2"].AvgResponseTimeMs; got != 120 {
		t.Errorf("web-2 avg response time = %.1f, want 120", got)
	}

	ctx := context.Background()
	saved, err := backend.ListAggregates(ctx, start, f.clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListAggregates() error = %v", err)
	}
	if len(saved) != 1 {
		t.Fatalf("expected 1 persisted aggregate, got %d", len(saved))
	}

	// All raw snapshots are older than the ten minute tail by now.
	remaining, err := backend.ListSnapshots(ctx, start, f.clock.Now())
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected all raw snapshots pruned, %d remain", len(remaining))
	}

	patterns, err := backend.LoadPatterns(ctx)
	if err != nil {
		t.Fatalf("LoadPatterns() error = %v", err)
	}
	if patterns == nil || patterns.HourOfDay[10].Samples != 6 {
		t.Errorf("expected 6 pattern samples in hour 10, got %+v", patterns)
	}

	// A second aggregation with nothing new collected is a no-op.
	f.clock.Advance(time.Hour)
	agg, err = f.engine.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if agg != nil {
		t.Errorf("expected nil aggregate for an empty period, got %+v", agg)
	}
}

func TestAggregatePublishesEvent(t *testing.T) {
	f := newEngineFixture(t, Config{})

	ch, cancel := f.bus.Subscribe(events.TypeMetricsAggregated)
	defer cancel()

	f.collect(t)
	f.clock.Advance(time.Hour)
	if _, err := f.engine.Aggregate(context.Background()); err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	select {
	case evt := <-ch:
		if _, ok := evt.Payload.(*store.Aggregate); !ok {
			t.Errorf("unexpected aggregated payload %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no aggregated event published")
	}
}

func TestStartStop(t *testing.T) {
	f := newEngineFixture(t, Config{CollectionInterval: time.Hour})

	if err := f.engine.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := f.engine.Start(); err == nil {
		t.Error("expected second Start() to fail")
	}
	f.engine.Stop()
	// Stop after stop is a no-op
	f.engine.Stop()
}

// flakyStore fails SaveAggregate a configured number of times before
// delegating to the wrapped backend.
type flakyStore struct {
	store.Backend
	saveAggFails int
}

func (s *flakyStore) SaveAggregate(ctx context.Context, agg *store.Aggregate) error {
	if s.saveAggFails > 0 {
		s.saveAggFails--
		return errors.New("database is locked")
	}
	return s.Backend.SaveAggregate(ctx, agg)
}

func TestAggregateRetriesWindowAfterStoreFailure(t *testing.T) {
	flaky := &flakyStore{Backend: store.NewMemoryBackend(), saveAggFails: 1}
	f := newEngineFixture(t, Config{Store: flaky})

	start := f.clock.Now()
	for i := 0; i < 3; i++ {
		f.collect(t)
	}

	f.clock.Advance(time.Hour)
	if _, err := f.engine.Aggregate(context.Background()); err == nil {
		t.Fatal("expected Aggregate() to fail while the store is down")
	}

	// Nothing new collected; the next tick must still roll up the
	// window the failed pass left behind.
	f.clock.Advance(time.Hour)
	agg, err := f.engine.Aggregate(context.Background())
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if agg == nil {
		t.Fatal("expected the retried aggregate to cover the failed window")
	}
	if agg.SampleCount != 3 {
		t.Errorf("SampleCount = %d, want 3", agg.SampleCount)
	}

	saved, err := flaky.ListAggregates(context.Background(), start, f.clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListAggregates() error = %v", err)
	}
	if len(saved) != 1 {
		t.Errorf("expected 1 persisted aggregate after retry, got %d", len(saved))
	}
}

func TestPatternsSkipFailedStatsStep(t *testing.T) {
	f := newEngineFixture(t, Config{})

	f.collect(t)
	f.collect(t)

	// A pass with the stats endpoint down produces a zero summary;
	// that zero rate must not be folded into the hourly accumulators.
	f.mock.FailRequests("/services/runtime/stats", 500, -1)
	f.clock.Advance(10 * time.Second)
	if _, err := f.engine.CollectOnce(context.Background()); err != nil {
		t.Fatalf("CollectOnce() error = %v", err)
	}
	f.mock.ClearFailures()

	state := f.engine.Patterns()
	if state.HourOfDay[10].Samples != 2 {
		t.Errorf("hour 10 samples = %d, want 2", state.HourOfDay[10].Samples)
	}
	if got := state.HourOfDay[10].MeanRate(); got != 50 {
		t.Errorf("hour 10 mean rate = %.1f, want 50", got)
	}
}

func TestPatternsAccumulate(t *testing.T) {
	f := newEngineFixture(t, Config{})

	f.collect(t)
	f.collect(t)

	state := f.engine.Patterns()
	if state.HourOfDay[10].Samples != 2 {
		t.Errorf("hour 10 samples = %d, want 2", state.HourOfDay[10].Samples)
	}
	if got := state.HourOfDay[10].MeanRate(); got != 50 {
		t.Errorf("hour 10 mean rate = %.1f, want 50", got)
	}
	if got := f.engine.ExpectedRate(f.clock.Now()); got != 50 {
		t.Errorf("ExpectedRate = %.1f, want 50", got)
	}
}
