package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. The configuration is not modified by environment variables; use
// LoadConfigWithEnvOverrides for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention TILLER_SECTION_FIELD (e.g., TILLER_DATAPLANE_BASE_URL).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables use the format TILLER_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Dataplane overrides
	setString("TILLER_DATAPLANE_BASE_URL", &cfg.Dataplane.BaseURL)
	setString("TILLER_DATAPLANE_USERNAME", &cfg.Dataplane.Username)
	setString("TILLER_DATAPLANE_PASSWORD", &cfg.Dataplane.Password)
	setDuration("TILLER_DATAPLANE_TIMEOUT", &cfg.Dataplane.Timeout)
	setInt("TILLER_DATAPLANE_MAX_RETRIES", &cfg.Dataplane.MaxRetries)

	// Gate overrides
	setInt("TILLER_GATE_FAILURE_THRESHOLD", &cfg.Gate.FailureThreshold)
	setDuration("TILLER_GATE_RESET_TIMEOUT", &cfg.Gate.ResetTimeout)

	// Txn overrides
	setDuration("TILLER_TXN_DEFAULT_TIMEOUT", &cfg.Txn.DefaultTimeout)
	setDuration("TILLER_TXN_LOCK_TTL", &cfg.Txn.LockTTL)
	setInt("TILLER_TXN_HISTORY_SIZE", &cfg.Txn.HistorySize)

	// Metrics overrides
	setDuration("TILLER_METRICS_COLLECTION_INTERVAL", &cfg.Metrics.CollectionInterval)
	setInt("TILLER_METRICS_HISTORY_SIZE", &cfg.Metrics.HistorySize)
	setFloat("TILLER_METRICS_ANOMALY_THRESHOLD", &cfg.Metrics.AnomalyThreshold)
	setFloat("TILLER_METRICS_NOISE_FLOOR", &cfg.Metrics.NoiseFloor)
	setBool("TILLER_METRICS_DISABLE_ANOMALY_DETECTION", &cfg.Metrics.DisableAnomalyDetection)
	setString("TILLER_METRICS_AGGREGATION_SCHEDULE", &cfg.Metrics.AggregationSchedule)
	setDuration("TILLER_METRICS_PRUNE_TAIL", &cfg.Metrics.PruneTail)

	// Optimizer overrides
	setBool("TILLER_OPTIMIZER_DISABLED", &cfg.Optimizer.Disabled)
	setDuration("TILLER_OPTIMIZER_INTERVAL", &cfg.Optimizer.Interval)
	setFloat("TILLER_OPTIMIZER_WEIGHT_SPLIT_PERFORMANCE", &cfg.Optimizer.WeightSplit.Performance)
	setFloat("TILLER_OPTIMIZER_WEIGHT_SPLIT_LOAD", &cfg.Optimizer.WeightSplit.Load)
	setInt("TILLER_OPTIMIZER_BASE_WEIGHT", &cfg.Optimizer.BaseWeight)
	setInt("TILLER_OPTIMIZER_MATERIALITY_THRESHOLD", &cfg.Optimizer.MaterialityThreshold)
	setBool("TILLER_OPTIMIZER_VALIDATE_BEFORE_COMMIT", &cfg.Optimizer.ValidateBeforeCommit)

	// Telemetry overrides
	setString("TILLER_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	setString("TILLER_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	setBool("TILLER_TELEMETRY_METRICS_DISABLED", &cfg.Telemetry.Metrics.Disabled)
	setString("TILLER_TELEMETRY_METRICS_LISTEN_ADDRESS", &cfg.Telemetry.Metrics.ListenAddress)
	setString("TILLER_TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)

	// Storage overrides
	setString("TILLER_STORAGE_BACKEND", &cfg.Storage.Backend)
	setString("TILLER_STORAGE_FILE_DIR", &cfg.Storage.File.Dir)
	setString("TILLER_STORAGE_SQLITE_PATH", &cfg.Storage.SQLite.Path)
}

// setString overrides dst when the environment variable is set non-empty.
func setString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

// setInt overrides dst when the environment variable parses as an integer.
func setInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

// setFloat overrides dst when the environment variable parses as a float.
func setFloat(key string, dst *float64) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

// setBool overrides dst when the environment variable parses as a boolean.
func setBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

// setDuration overrides dst when the environment variable parses as a
// duration (e.g. "30s", "5m").
func setDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
