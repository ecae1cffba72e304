package config

import (
	"fmt"
	"net/url"
	"strings"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "gate.failure_threshold").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateDataplane(&cfg.Dataplane)...)
	errs = append(errs, validateGate(&cfg.Gate)...)
	errs = append(errs, validateTxn(&cfg.Txn)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)
	errs = append(errs, validateOptimizer(&cfg.Optimizer)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateDataplane validates the data-plane client configuration.
func validateDataplane(cfg *DataplaneConfig) []FieldError {
	var errs []FieldError

	if cfg.BaseURL == "" {
		errs = append(errs, FieldError{
			Field:   "dataplane.base_url",
			Message: "base URL is required",
		})
	} else if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, FieldError{
			Field:   "dataplane.base_url",
			Message: fmt.Sprintf("invalid URL %q", cfg.BaseURL),
		})
	}

	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{
			Field:   "dataplane.timeout",
			Message: "timeout must be positive",
		})
	}
	if cfg.MaxRetries < 0 {
		errs = append(errs, FieldError{
			Field:   "dataplane.max_retries",
			Message: "max retries must be non-negative",
		})
	}

	return errs
}

// validateGate validates the health gate configuration.
func validateGate(cfg *GateConfig) []FieldError {
	var errs []FieldError

	if cfg.FailureThreshold < 1 {
		errs = append(errs, FieldError{
			Field:   "gate.failure_threshold",
			Message: "failure threshold must be at least 1",
		})
	}
	if cfg.ResetTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "gate.reset_timeout",
			Message: "reset timeout must be positive",
		})
	}

	return errs
}

// validateTxn validates the transaction coordinator configuration.
func validateTxn(cfg *TxnConfig) []FieldError {
	var errs []FieldError

	if cfg.DefaultTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "txn.default_timeout",
			Message: "default timeout must be positive",
		})
	}
	if cfg.LockTTL > 0 && cfg.LockTTL < cfg.DefaultTimeout {
		errs = append(errs, FieldError{
			Field:   "txn.lock_ttl",
			Message: "lock TTL must be at least the transaction timeout",
		})
	}
	if cfg.HistorySize < 0 {
		errs = append(errs, FieldError{
			Field:   "txn.history_size",
			Message: "history size must be non-negative",
		})
	}

	return errs
}

// validateMetrics validates the metrics engine configuration.
func validateMetrics(cfg *MetricsConfig) []FieldError {
	var errs []FieldError

	if cfg.CollectionInterval <= 0 {
		errs = append(errs, FieldError{
			Field:   "metrics.collection_interval",
			Message: "collection interval must be positive",
		})
	}
	if cfg.HistorySize < 1 {
		errs = append(errs, FieldError{
			Field:   "metrics.history_size",
			Message: "history size must be at least 1",
		})
	}
	if cfg.BaselineMinSamples < 2 {
		errs = append(errs, FieldError{
			Field:   "metrics.baseline_min_samples",
			Message: "baseline minimum samples must be at least 2",
		})
	}
	if cfg.AnomalyThreshold <= 0 {
		errs = append(errs, FieldError{
			Field:   "metrics.anomaly_threshold",
			Message: "anomaly threshold must be positive",
		})
	}
	if cfg.NoiseFloor < 0 {
		errs = append(errs, FieldError{
			Field:   "metrics.noise_floor",
			Message: "noise floor must be non-negative",
		})
	}
	if fields := strings.Fields(cfg.AggregationSchedule); len(fields) != 5 {
		errs = append(errs, FieldError{
			Field:   "metrics.aggregation_schedule",
			Message: fmt.Sprintf("invalid cron expression %q: expected 5 fields", cfg.AggregationSchedule),
		})
	}
	if cfg.PruneTail < 0 {
		errs = append(errs, FieldError{
			Field:   "metrics.prune_tail",
			Message: "prune tail must be non-negative",
		})
	}

	return errs
}

// validateOptimizer validates the routing optimizer configuration.
func validateOptimizer(cfg *OptimizerConfig) []FieldError {
	var errs []FieldError

	if cfg.Interval <= 0 {
		errs = append(errs, FieldError{
			Field:   "optimizer.interval",
			Message: "interval must be positive",
		})
	}
	if cfg.WeightSplit.Performance <= 0 || cfg.WeightSplit.Load <= 0 {
		errs = append(errs, FieldError{
			Field:   "optimizer.weight_split",
			Message: "performance and load fractions must both be positive",
		})
	} else if sum := cfg.WeightSplit.Performance + cfg.WeightSplit.Load; sum < 0.99 || sum > 1.01 {
		errs = append(errs, FieldError{
			Field:   "optimizer.weight_split",
			Message: fmt.Sprintf("performance and load fractions must sum to 1, got %.2f", sum),
		})
	}
	if cfg.BaseWeight < 1 || cfg.BaseWeight > 256 {
		errs = append(errs, FieldError{
			Field:   "optimizer.base_weight",
			Message: "base weight must be in [1, 256]",
		})
	}
	if cfg.MaterialityThreshold < 1 {
		errs = append(errs, FieldError{
			Field:   "optimizer.materiality_threshold",
			Message: "materiality threshold must be at least 1",
		})
	}

	for i, rule := range cfg.ContentRouting.Rules {
		field := fmt.Sprintf("optimizer.content_routing.rules[%d]", i)
		if rule.Name == "" {
			errs = append(errs, FieldError{Field: field + ".name", Message: "rule name is required"})
		}
		if rule.PathPattern == "" {
			errs = append(errs, FieldError{Field: field + ".path_pattern", Message: "path pattern is required"})
		}
		if rule.Backend == "" {
			errs = append(errs, FieldError{Field: field + ".backend", Message: "target backend is required"})
		}
	}
	for i, rule := range cfg.OriginRouting.Rules {
		field := fmt.Sprintf("optimizer.origin_routing.rules[%d]", i)
		if rule.Name == "" {
			errs = append(errs, FieldError{Field: field + ".name", Message: "rule name is required"})
		}
		if len(rule.Origins) == 0 {
			errs = append(errs, FieldError{Field: field + ".origins", Message: "at least one origin is required"})
		}
		if rule.Backend == "" {
			errs = append(errs, FieldError{Field: field + ".backend", Message: "target backend is required"})
		}
	}

	return errs
}

// validateTelemetry validates the telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q: must be debug, info, warn, or error", cfg.Logging.Level),
		})
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q: must be json or text", cfg.Logging.Format),
		})
	}

	if !cfg.Metrics.Disabled {
		if cfg.Metrics.ListenAddress == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.listen_address",
				Message: "listen address is required when the endpoint is enabled",
			})
		}
		if cfg.Metrics.Path == "" || !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.path",
				Message: "path must start with /",
			})
		}
	}

	return errs
}

// validateStorage validates the metrics persistence configuration.
func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory", "file", "sqlite":
	default:
		errs = append(errs, FieldError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend %q: must be memory, file, or sqlite", cfg.Backend),
		})
	}

	switch cfg.Backend {
	case "file":
		if cfg.File.Dir == "" {
			errs = append(errs, FieldError{
				Field:   "storage.file.dir",
				Message: "data directory is required for the file backend",
			})
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.path",
				Message: "database path is required for the sqlite backend",
			})
		}
	}

	return errs
}
