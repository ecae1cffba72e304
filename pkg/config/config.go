package config

import "time"

// Config is the root configuration structure for Tiller.
// It contains all configuration sections for the data-plane client, health
// gate, transaction coordinator, metrics engine, routing optimizer,
// telemetry, and metrics storage.
type Config struct {
	// Dataplane contains the proxy admin API client configuration
	// including the base URL, credentials, and retry behavior.
	Dataplane DataplaneConfig `yaml:"dataplane"`

	// Gate contains the health gate configuration: failure threshold
	// and reset timeout.
	Gate GateConfig `yaml:"gate"`

	// Txn contains the transaction coordinator configuration including
	// timeouts, lock lifetimes, and history bounds.
	Txn TxnConfig `yaml:"txn"`

	// Metrics contains the metrics engine configuration including the
	// collection interval, anomaly detection tuning, and aggregation
	// schedule.
	Metrics MetricsConfig `yaml:"metrics"`

	// Optimizer contains the routing optimizer configuration including
	// the cycle interval, scoring split, and managed routing rules.
	Optimizer OptimizerConfig `yaml:"optimizer"`

	// Events contains the in-process event bus configuration.
	Events EventsConfig `yaml:"events"`

	// Telemetry contains observability configuration: logging and the
	// prometheus exposition endpoint.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Storage contains metrics persistence configuration including
	// backend selection and per-backend settings.
	Storage StorageConfig `yaml:"storage"`

	// Reload contains hot-reload configuration for this file.
	Reload ReloadConfig `yaml:"reload"`
}

// DataplaneConfig contains configuration for the proxy admin API client.
type DataplaneConfig struct {
	// BaseURL is the proxy admin API base URL.
	// Example: "http://127.0.0.1:5555/v1".
	BaseURL string `yaml:"base_url"`

	// Username and Password are the basic-auth credentials for the
	// admin API. Password is redacted in log output.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Timeout bounds each admin API request, including retries of a
	// single call.
	// Default: 15s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of retries for transient failures
	// (network errors and 5xx responses).
	// Default: 2
	MaxRetries int `yaml:"max_retries"`

	// MaxIdleConns and MaxIdleConnsPerHost size the client's
	// connection pool. Zero values use the client defaults.
	MaxIdleConns        int `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host"`

	// IdleConnTimeout is how long pooled connections stay open unused.
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// GateConfig contains configuration for the health gate guarding all
// proxy admin API calls.
type GateConfig struct {
	// FailureThreshold is the number of consecutive failures that
	// trips the gate open.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// ResetTimeout is how long the gate stays open before allowing a
	// trial call.
	// Default: 30s
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// TxnConfig contains configuration for the transaction coordinator.
type TxnConfig struct {
	// DefaultTimeout is the per-transaction wall-clock timeout. A
	// transaction still open when it expires is rolled back.
	// Default: 30s
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// LockTTL is the advisory lock lifetime. Expired locks may be
	// taken over.
	// Default: 2x DefaultTimeout
	LockTTL time.Duration `yaml:"lock_ttl"`

	// HistorySize bounds the completed-transaction history ring.
	// Default: 50
	HistorySize int `yaml:"history_size"`
}

// MetricsConfig contains configuration for the metrics engine.
type MetricsConfig struct {
	// CollectionInterval is how often the engine polls the proxy for
	// a fresh snapshot.
	// Default: 10s
	CollectionInterval time.Duration `yaml:"collection_interval"`

	// HistorySize bounds the in-memory snapshot and per-scope series
	// rings.
	// Default: 720 (2 hours at the default interval)
	HistorySize int `yaml:"history_size"`

	// AnomalyLogSize bounds the in-memory anomaly log.
	// Default: 200
	AnomalyLogSize int `yaml:"anomaly_log_size"`

	// BaselineMinSamples is the minimum number of samples a scope
	// needs before it gets a baseline.
	// Default: 5
	BaselineMinSamples int `yaml:"baseline_min_samples"`

	// AnomalyThreshold is the z-score magnitude that flags a value.
	// Default: 2.5
	AnomalyThreshold float64 `yaml:"anomaly_threshold"`

	// NoiseFloor is the minimum baseline standard deviation for
	// anomaly scoring; flatter baselines are skipped.
	// Default: 0.01
	NoiseFloor float64 `yaml:"noise_floor"`

	// DisableAnomalyDetection turns anomaly scoring off at startup.
	// Detection can still be toggled at runtime.
	DisableAnomalyDetection bool `yaml:"disable_anomaly_detection"`

	// AggregationSchedule is the cron expression driving hourly
	// rollups and snapshot pruning.
	// Default: "0 * * * *"
	AggregationSchedule string `yaml:"aggregation_schedule"`

	// PruneTail is how much fine-grained persisted history to retain
	// after each aggregation pass prunes.
	// Default: 10m
	PruneTail time.Duration `yaml:"prune_tail"`
}

// OptimizerConfig contains configuration for the routing optimizer.
type OptimizerConfig struct {
	// Disabled turns the optimizer off entirely; the metrics engine
	// keeps collecting.
	Disabled bool `yaml:"disabled"`

	// Interval is how often an optimization cycle runs.
	// Default: 60s
	Interval time.Duration `yaml:"interval"`

	// WeightSplit balances performance against load when scoring
	// servers. The two fractions should sum to 1.
	// Default: 0.7 performance, 0.3 load
	WeightSplit WeightSplitConfig `yaml:"weight_split"`

	// BaseWeight is the per-server scaling anchor for target weights.
	// Default: 100
	BaseWeight int `yaml:"base_weight"`

	// MaterialityThreshold is the minimum weight delta before a
	// change is applied.
	// Default: 5
	MaterialityThreshold int `yaml:"materiality_threshold"`

	// ValidateBeforeCommit runs the proxy's configuration dry-run
	// before each cycle's commit.
	ValidateBeforeCommit bool `yaml:"validate_before_commit"`

	// HistorySize bounds the cycle history ring.
	// Default: 50
	HistorySize int `yaml:"history_size"`

	// ContentRouting manages path-based match rules.
	ContentRouting ContentRoutingConfig `yaml:"content_routing"`

	// OriginRouting manages origin-based routing rules.
	OriginRouting OriginRoutingConfig `yaml:"origin_routing"`
}

// WeightSplitConfig is the performance/load split used when scoring
// servers.
type WeightSplitConfig struct {
	// Performance is the fraction of the final score taken from
	// response time and error rate.
	Performance float64 `yaml:"performance"`

	// Load is the fraction taken from current connection count.
	Load float64 `yaml:"load"`
}

// ContentRoutingConfig declares the path match rules the optimizer
// ensures exist on the proxy.
type ContentRoutingConfig struct {
	// Enabled turns content rule management on.
	Enabled bool `yaml:"enabled"`

	// Rules are the managed rules. Rules are create-only: a rule that
	// already exists by name is never modified.
	Rules []ContentRuleConfig `yaml:"rules"`
}

// ContentRuleConfig is one declared path match rule.
type ContentRuleConfig struct {
	// Name uniquely identifies the rule.
	Name string `yaml:"name"`

	// PathPattern is a path regular expression.
	PathPattern string `yaml:"path_pattern"`

	// Backend is the target backend name.
	Backend string `yaml:"backend"`

	// Priority orders rule evaluation; lower values are evaluated first.
	Priority int `yaml:"priority"`
}

// OriginRoutingConfig declares the origin routing rules the optimizer
// ensures exist on the proxy.
type OriginRoutingConfig struct {
	// Enabled turns origin rule management on.
	Enabled bool `yaml:"enabled"`

	// Rules are the managed rules. Create-only, same as content rules.
	Rules []OriginRuleConfig `yaml:"rules"`
}

// OriginRuleConfig is one declared origin routing rule.
type OriginRuleConfig struct {
	// Name uniquely identifies the rule.
	Name string `yaml:"name"`

	// Origins are the matched origin values (hosts or CIDR ranges).
	Origins []string `yaml:"origins"`

	// Backend is the target backend name.
	Backend string `yaml:"backend"`

	// Priority orders rule evaluation; lower values are evaluated first.
	Priority int `yaml:"priority"`
}

// EventsConfig contains configuration for the in-process event bus.
type EventsConfig struct {
	// BufferSize is the per-subscriber channel capacity. Events are
	// dropped for subscribers whose buffer is full.
	// Default: 64
	BufferSize int `yaml:"buffer_size"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains structured logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains prometheus exposition configuration.
	Metrics PrometheusConfig `yaml:"metrics"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the log output format: "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`
}

// PrometheusConfig contains prometheus exposition configuration.
type PrometheusConfig struct {
	// Disabled turns the exposition endpoint off.
	Disabled bool `yaml:"disabled"`

	// ListenAddress is the address the exposition server binds.
	// Default: "127.0.0.1:9190"
	ListenAddress string `yaml:"listen_address"`

	// Path is the exposition endpoint path.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// StorageConfig contains metrics persistence configuration.
type StorageConfig struct {
	// Backend selects the persistence backend: "memory", "file", or
	// "sqlite".
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Memory contains settings for the in-memory backend.
	Memory MemoryStorageConfig `yaml:"memory"`

	// File contains settings for the JSONL file backend.
	File FileStorageConfig `yaml:"file"`

	// SQLite contains settings for the sqlite backend.
	SQLite SQLiteStorageConfig `yaml:"sqlite"`
}

// MemoryStorageConfig contains settings for the in-memory backend.
type MemoryStorageConfig struct {
	// MaxSnapshots bounds retained snapshots; oldest are evicted.
	// Default: 8640 (24 hours at a 10s interval)
	MaxSnapshots int `yaml:"max_snapshots"`

	// MaxAggregates bounds retained aggregates.
	// Default: 720 (30 days of hourly rollups)
	MaxAggregates int `yaml:"max_aggregates"`
}

// FileStorageConfig contains settings for the JSONL file backend.
type FileStorageConfig struct {
	// Dir is the data directory. Snapshots and aggregates are stored
	// in per-day files beneath it.
	// Default: "data/metrics"
	Dir string `yaml:"dir"`
}

// SQLiteStorageConfig contains settings for the sqlite backend.
type SQLiteStorageConfig struct {
	// Path is the database file path.
	// Default: "data/tiller.db"
	Path string `yaml:"path"`

	// BusyTimeout is the sqlite busy handler timeout.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is how often the WAL is checkpointed.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// ReloadConfig contains hot-reload configuration.
type ReloadConfig struct {
	// Enabled turns file watching on. When the configuration file
	// changes, runtime-adjustable settings are re-applied without a
	// restart.
	Enabled bool `yaml:"enabled"`

	// Debounce is the quiet period after a file event before the
	// reload fires.
	// Default: 500ms
	Debounce time.Duration `yaml:"debounce"`
}
