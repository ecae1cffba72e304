package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiller.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
dataplane:
  base_url: "http://10.0.0.5:5555/v1"
  username: "admin"
  password: "secret"
  timeout: "20s"

gate:
  failure_threshold: 3
  reset_timeout: "45s"

metrics:
  collection_interval: "5s"
  anomaly_threshold: 3.0

optimizer:
  interval: "2m"
  weight_split:
    performance: 0.6
    load: 0.4
  content_routing:
    enabled: true
    rules:
      - name: "api-to-fast"
        path_pattern: "^/api/"
        backend: "fast"
        priority: 10

telemetry:
  logging:
    level: "debug"
    format: "text"

storage:
  backend: "sqlite"
  sqlite:
    path: "./test.db"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Dataplane.BaseURL != "http://10.0.0.5:5555/v1" {
		t.Errorf("expected base URL %q, got %q", "http://10.0.0.5:5555/v1", cfg.Dataplane.BaseURL)
	}
	if cfg.Dataplane.Timeout != 20*time.Second {
		t.Errorf("expected timeout %v, got %v", 20*time.Second, cfg.Dataplane.Timeout)
	}
	if cfg.Gate.FailureThreshold != 3 {
		t.Errorf("expected failure threshold 3, got %d", cfg.Gate.FailureThreshold)
	}
	if cfg.Gate.ResetTimeout != 45*time.Second {
		t.Errorf("expected reset timeout %v, got %v", 45*time.Second, cfg.Gate.ResetTimeout)
	}
	if cfg.Metrics.CollectionInterval != 5*time.Second {
		t.Errorf("expected collection interval %v, got %v", 5*time.Second, cfg.Metrics.CollectionInterval)
	}
	if cfg.Metrics.AnomalyThreshold != 3.0 {
		t.Errorf("expected anomaly threshold 3.0, got %v", cfg.Metrics.AnomalyThreshold)
	}
	if cfg.Optimizer.Interval != 2*time.Minute {
		t.Errorf("expected optimizer interval %v, got %v", 2*time.Minute, cfg.Optimizer.Interval)
	}
	if cfg.Optimizer.WeightSplit.Performance != 0.6 || cfg.Optimizer.WeightSplit.Load != 0.4 {
		t.Errorf("unexpected weight split: %+v", cfg.Optimizer.WeightSplit)
	}
	if len(cfg.Optimizer.ContentRouting.Rules) != 1 {
		t.Fatalf("expected 1 content rule, got %d", len(cfg.Optimizer.ContentRouting.Rules))
	}
	if rule := cfg.Optimizer.ContentRouting.Rules[0]; rule.Name != "api-to-fast" || rule.Backend != "fast" {
		t.Errorf("unexpected rule: %+v", rule)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected logging level %q, got %q", "debug", cfg.Telemetry.Logging.Level)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("expected storage backend %q, got %q", "sqlite", cfg.Storage.Backend)
	}
	if cfg.Storage.SQLite.Path != "./test.db" {
		t.Errorf("expected sqlite path %q, got %q", "./test.db", cfg.Storage.SQLite.Path)
	}
}

func TestLoadConfig_AppliesDefaultsToOmittedSections(t *testing.T) {
	path := writeConfig(t, `
dataplane:
  base_url: "http://127.0.0.1:5555/v1"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Gate.FailureThreshold != DefaultGateFailureThreshold {
		t.Errorf("expected default failure threshold %d, got %d", DefaultGateFailureThreshold, cfg.Gate.FailureThreshold)
	}
	if cfg.Metrics.CollectionInterval != DefaultCollectionInterval {
		t.Errorf("expected default collection interval %v, got %v", DefaultCollectionInterval, cfg.Metrics.CollectionInterval)
	}
	if cfg.Optimizer.MaterialityThreshold != DefaultMaterialityThreshold {
		t.Errorf("expected default materiality threshold %d, got %d", DefaultMaterialityThreshold, cfg.Optimizer.MaterialityThreshold)
	}
	if cfg.Storage.Backend != DefaultStorageBackend {
		t.Errorf("expected default storage backend %q, got %q", DefaultStorageBackend, cfg.Storage.Backend)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/tiller.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
	if !strings.Contains(err.Error(), "failed to read configuration file") {
		t.Errorf("expected read error, got: %v", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "dataplane: [not a mapping")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "failed to parse configuration file") {
		t.Errorf("expected parse error, got: %v", err)
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
dataplane:
  base_url: "not a url"
`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if len(verr.Errors) != 1 {
		t.Fatalf("expected 1 field error, got %d: %v", len(verr.Errors), verr)
	}
	if verr.Errors[0].Field != "dataplane.base_url" {
		t.Errorf("expected field %q, got %q", "dataplane.base_url", verr.Errors[0].Field)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
dataplane:
  base_url: "http://127.0.0.1:5555/v1"
  password: "from-file"

gate:
  failure_threshold: 3
`)

	t.Setenv("TILLER_DATAPLANE_PASSWORD", "from-env")
	t.Setenv("TILLER_GATE_FAILURE_THRESHOLD", "7")
	t.Setenv("TILLER_METRICS_ANOMALY_THRESHOLD", "3.5")
	t.Setenv("TILLER_OPTIMIZER_DISABLED", "true")
	t.Setenv("TILLER_TXN_DEFAULT_TIMEOUT", "90s")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Dataplane.Password != "from-env" {
		t.Errorf("expected password from env, got %q", cfg.Dataplane.Password)
	}
	if cfg.Gate.FailureThreshold != 7 {
		t.Errorf("expected failure threshold 7, got %d", cfg.Gate.FailureThreshold)
	}
	if cfg.Metrics.AnomalyThreshold != 3.5 {
		t.Errorf("expected anomaly threshold 3.5, got %v", cfg.Metrics.AnomalyThreshold)
	}
	if !cfg.Optimizer.Disabled {
		t.Error("expected optimizer disabled from env")
	}
	if cfg.Txn.DefaultTimeout != 90*time.Second {
		t.Errorf("expected txn timeout 90s, got %v", cfg.Txn.DefaultTimeout)
	}
}

func TestLoadConfigWithEnvOverrides_IgnoresUnparseableValues(t *testing.T) {
	path := writeConfig(t, `
gate:
  failure_threshold: 3
`)

	t.Setenv("TILLER_GATE_FAILURE_THRESHOLD", "not-a-number")
	t.Setenv("TILLER_GATE_RESET_TIMEOUT", "soon")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Gate.FailureThreshold != 3 {
		t.Errorf("expected file value 3 to survive, got %d", cfg.Gate.FailureThreshold)
	}
	if cfg.Gate.ResetTimeout != DefaultGateResetTimeout {
		t.Errorf("expected default reset timeout to survive, got %v", cfg.Gate.ResetTimeout)
	}
}

func TestLoadConfigWithEnvOverrides_RevalidatesAfterOverride(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: "memory"
`)

	t.Setenv("TILLER_STORAGE_BACKEND", "cassandra")

	_, err := LoadConfigWithEnvOverrides(path)
	if err == nil {
		t.Fatal("expected validation error after override")
	}
	if !strings.Contains(err.Error(), "after environment overrides") {
		t.Errorf("expected post-override validation error, got: %v", err)
	}
}
