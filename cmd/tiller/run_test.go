package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tiller-hq/tiller/internal/dataplanetest"
	"tiller-hq/tiller/pkg/config"
	"tiller-hq/tiller/pkg/dataplane"
	"tiller-hq/tiller/pkg/gate"
	"tiller-hq/tiller/pkg/metrics"
	"tiller-hq/tiller/pkg/optimizer"
	"tiller-hq/tiller/pkg/txn"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestNewStoreBackendMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "memory"

	backend, err := newStoreBackend(cfg)
	if err != nil {
		t.Fatalf("newStoreBackend() error: %v", err)
	}
	defer backend.Close()
}

func TestNewStoreBackendFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "file"
	cfg.Storage.File.Dir = t.TempDir()

	backend, err := newStoreBackend(cfg)
	if err != nil {
		t.Fatalf("newStoreBackend() error: %v", err)
	}
	defer backend.Close()
}

func TestNewStoreBackendSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "tiller.db")

	backend, err := newStoreBackend(cfg)
	if err != nil {
		t.Fatalf("newStoreBackend() error: %v", err)
	}
	defer backend.Close()
}

func TestNewStoreBackendUnsupported(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "cassandra"

	if _, err := newStoreBackend(cfg); err == nil {
		t.Error("newStoreBackend() with unsupported backend should return error")
	}
}

func TestRuleConversion(t *testing.T) {
	cfg := testConfig(t)
	cfg.Optimizer.ContentRouting.Rules = []config.ContentRuleConfig{
		{Name: "api", PathPattern: "^/api/", Backend: "api_pool", Priority: 10},
	}
	cfg.Optimizer.OriginRouting.Rules = []config.OriginRuleConfig{
		{Name: "internal", Origins: []string{"10.0.0.0/8"}, Backend: "internal_pool", Priority: 5},
	}

	content := contentRules(cfg)
	if len(content) != 1 {
		t.Fatalf("contentRules() returned %d rules, want 1", len(content))
	}
	if content[0].Name != "api" || content[0].PathPattern != "^/api/" ||
		content[0].Backend != "api_pool" || content[0].Priority != 10 {
		t.Errorf("contentRules()[0] = %+v", content[0])
	}

	origin := originRules(cfg)
	if len(origin) != 1 {
		t.Fatalf("originRules() returned %d rules, want 1", len(origin))
	}
	if origin[0].Name != "internal" || origin[0].Backend != "internal_pool" {
		t.Errorf("originRules()[0] = %+v", origin[0])
	}
	if len(origin[0].Origins) != 1 || origin[0].Origins[0] != "10.0.0.0/8" {
		t.Errorf("originRules()[0].Origins = %v", origin[0].Origins)
	}
}

func TestSeedCache(t *testing.T) {
	mock := dataplanetest.New()
	defer mock.Close()
	mock.AddBackend(dataplane.Backend{
		Name:    "web_pool",
		Mode:    dataplane.ModeHTTP,
		Balance: "roundrobin",
		Servers: []dataplane.Server{{Name: "web1", Address: "10.0.0.1", Port: 8080, Weight: 100}},
	})

	client, err := dataplane.New(dataplane.Config{BaseURL: mock.URL()})
	if err != nil {
		t.Fatalf("dataplane.New() error: %v", err)
	}
	defer client.Close()

	g := gate.New(gate.Config{})
	cache := txn.NewConfigCache()

	if err := seedCache(context.Background(), client, g, cache); err != nil {
		t.Fatalf("seedCache() error: %v", err)
	}
	if got := len(cache.Backends()); got != 1 {
		t.Fatalf("cache has %d backends, want 1", got)
	}
	if _, ok := cache.Backend("web_pool"); !ok {
		t.Error("cache is missing backend web_pool")
	}
}

func TestSeedCacheProxyDown(t *testing.T) {
	mock := dataplanetest.New()
	url := mock.URL()
	mock.Close()

	client, err := dataplane.New(dataplane.Config{
		BaseURL:    url,
		Timeout:    500 * time.Millisecond,
		MaxRetries: -1,
	})
	if err != nil {
		t.Fatalf("dataplane.New() error: %v", err)
	}
	defer client.Close()

	g := gate.New(gate.Config{})
	cache := txn.NewConfigCache()

	if err := seedCache(context.Background(), client, g, cache); err == nil {
		t.Error("seedCache() against a dead proxy should return error")
	}
	if got := len(cache.Backends()); got != 0 {
		t.Errorf("cache has %d backends after failed seed, want 0", got)
	}
}

func TestApplyRuntimeSettings(t *testing.T) {
	mock := dataplanetest.New()
	defer mock.Close()

	client, err := dataplane.New(dataplane.Config{BaseURL: mock.URL()})
	if err != nil {
		t.Fatalf("dataplane.New() error: %v", err)
	}
	defer client.Close()

	engine, err := metrics.New(metrics.Config{Client: client})
	if err != nil {
		t.Fatalf("metrics.New() error: %v", err)
	}

	cfg := testConfig(t)
	cfg.Metrics.DisableAnomalyDetection = true
	cfg.Metrics.AnomalyThreshold = 4.0

	// A nil optimizer (disabled at startup) must not panic.
	applyRuntimeSettings(cfg, engine, nil)

	if engine.AnomalyDetectionEnabled() {
		t.Error("anomaly detection should be disabled after reload")
	}
	if got := engine.AnomalyThreshold(); got != 4.0 {
		t.Errorf("AnomalyThreshold() = %v, want 4.0", got)
	}
}

func TestApplyRuntimeSettingsOptimizer(t *testing.T) {
	mock := dataplanetest.New()
	defer mock.Close()

	client, err := dataplane.New(dataplane.Config{BaseURL: mock.URL()})
	if err != nil {
		t.Fatalf("dataplane.New() error: %v", err)
	}
	defer client.Close()

	g := gate.New(gate.Config{})
	cache := txn.NewConfigCache()
	coordinator, err := txn.NewCoordinator(txn.Config{Client: client, Gate: g, Cache: cache})
	if err != nil {
		t.Fatalf("txn.NewCoordinator() error: %v", err)
	}
	engine, err := metrics.New(metrics.Config{Client: client})
	if err != nil {
		t.Fatalf("metrics.New() error: %v", err)
	}
	opt, err := optimizer.New(optimizer.Config{
		Client:      client,
		Coordinator: coordinator,
		Cache:       cache,
		Engine:      engine,
	})
	if err != nil {
		t.Fatalf("optimizer.New() error: %v", err)
	}

	cfg := testConfig(t)
	cfg.Optimizer.ContentRouting.Enabled = true
	cfg.Optimizer.OriginRouting.Enabled = true

	applyRuntimeSettings(cfg, engine, opt)

	if !opt.ContentRoutingEnabled() {
		t.Error("content routing should be enabled after reload")
	}
	if !opt.OriginRoutingEnabled() {
		t.Error("origin routing should be enabled after reload")
	}
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig(t)

	logger, err := newLogger(cfg)
	if err != nil {
		t.Fatalf("newLogger() error: %v", err)
	}
	if logger == nil {
		t.Fatal("newLogger() returned nil logger")
	}

	cfg.Telemetry.Logging.Level = "chatty"
	if _, err := newLogger(cfg); err == nil {
		t.Error("newLogger() with invalid level should return error")
	}
}
