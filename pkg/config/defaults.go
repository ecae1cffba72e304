package config

import "time"

// Default values for configuration fields.
const (
	// Dataplane defaults
	DefaultDataplaneBaseURL    = "http://127.0.0.1:5555/v1"
	DefaultDataplaneTimeout    = 15 * time.Second
	DefaultDataplaneMaxRetries = 2

	// Gate defaults
	DefaultGateFailureThreshold = 5
	DefaultGateResetTimeout     = 30 * time.Second

	// Txn defaults
	DefaultTxnTimeout     = 30 * time.Second
	DefaultTxnHistorySize = 50

	// Metrics defaults
	DefaultCollectionInterval  = 10 * time.Second
	DefaultMetricsHistorySize  = 720
	DefaultAnomalyLogSize      = 200
	DefaultBaselineMinSamples  = 5
	DefaultAnomalyThreshold    = 2.5
	DefaultNoiseFloor          = 0.01
	DefaultAggregationSchedule = "0 * * * *"
	DefaultPruneTail           = 10 * time.Minute

	// Optimizer defaults
	DefaultOptimizerInterval      = 60 * time.Second
	DefaultWeightSplitPerformance = 0.7
	DefaultWeightSplitLoad        = 0.3
	DefaultBaseWeight             = 100
	DefaultMaterialityThreshold   = 5
	DefaultOptimizerHistorySize   = 50

	// Events defaults
	DefaultEventBufferSize = 64

	// Telemetry defaults
	DefaultLoggingLevel            = "info"
	DefaultLoggingFormat           = "json"
	DefaultPrometheusListenAddress = "127.0.0.1:9190"
	DefaultPrometheusPath          = "/metrics"

	// Storage defaults
	DefaultStorageBackend           = "memory"
	DefaultMemoryMaxSnapshots       = 8640
	DefaultMemoryMaxAggregates      = 720
	DefaultFileDir                  = "data/metrics"
	DefaultSQLitePath               = "data/tiller.db"
	DefaultSQLiteBusyTimeout        = 5 * time.Second
	DefaultSQLiteCheckpointInterval = 5 * time.Minute

	// Reload defaults
	DefaultReloadDebounce = 500 * time.Millisecond
)

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Dataplane defaults
	if cfg.Dataplane.BaseURL == "" {
		cfg.Dataplane.BaseURL = DefaultDataplaneBaseURL
	}
	if cfg.Dataplane.Timeout == 0 {
		cfg.Dataplane.Timeout = DefaultDataplaneTimeout
	}
	if cfg.Dataplane.MaxRetries == 0 {
		cfg.Dataplane.MaxRetries = DefaultDataplaneMaxRetries
	}

	// Gate defaults
	if cfg.Gate.FailureThreshold == 0 {
		cfg.Gate.FailureThreshold = DefaultGateFailureThreshold
	}
	if cfg.Gate.ResetTimeout == 0 {
		cfg.Gate.ResetTimeout = DefaultGateResetTimeout
	}

	// Txn defaults
	if cfg.Txn.DefaultTimeout == 0 {
		cfg.Txn.DefaultTimeout = DefaultTxnTimeout
	}
	if cfg.Txn.LockTTL == 0 {
		cfg.Txn.LockTTL = 2 * cfg.Txn.DefaultTimeout
	}
	if cfg.Txn.HistorySize == 0 {
		cfg.Txn.HistorySize = DefaultTxnHistorySize
	}

	// Metrics defaults
	if cfg.Metrics.CollectionInterval == 0 {
		cfg.Metrics.CollectionInterval = DefaultCollectionInterval
	}
	if cfg.Metrics.HistorySize == 0 {
		cfg.Metrics.HistorySize = DefaultMetricsHistorySize
	}
	if cfg.Metrics.AnomalyLogSize == 0 {
		cfg.Metrics.AnomalyLogSize = DefaultAnomalyLogSize
	}
	if cfg.Metrics.BaselineMinSamples == 0 {
		cfg.Metrics.BaselineMinSamples = DefaultBaselineMinSamples
	}
	if cfg.Metrics.AnomalyThreshold == 0 {
		cfg.Metrics.AnomalyThreshold = DefaultAnomalyThreshold
	}
	if cfg.Metrics.NoiseFloor == 0 {
		cfg.Metrics.NoiseFloor = DefaultNoiseFloor
	}
	if cfg.Metrics.AggregationSchedule == "" {
		cfg.Metrics.AggregationSchedule = DefaultAggregationSchedule
	}
	if cfg.Metrics.PruneTail == 0 {
		cfg.Metrics.PruneTail = DefaultPruneTail
	}

	// Optimizer defaults
	if cfg.Optimizer.Interval == 0 {
		cfg.Optimizer.Interval = DefaultOptimizerInterval
	}
	if cfg.Optimizer.WeightSplit.Performance == 0 && cfg.Optimizer.WeightSplit.Load == 0 {
		cfg.Optimizer.WeightSplit.Performance = DefaultWeightSplitPerformance
		cfg.Optimizer.WeightSplit.Load = DefaultWeightSplitLoad
	}
	if cfg.Optimizer.BaseWeight == 0 {
		cfg.Optimizer.BaseWeight = DefaultBaseWeight
	}
	if cfg.Optimizer.MaterialityThreshold == 0 {
		cfg.Optimizer.MaterialityThreshold = DefaultMaterialityThreshold
	}
	if cfg.Optimizer.HistorySize == 0 {
		cfg.Optimizer.HistorySize = DefaultOptimizerHistorySize
	}

	// Events defaults
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = DefaultEventBufferSize
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.ListenAddress == "" {
		cfg.Telemetry.Metrics.ListenAddress = DefaultPrometheusListenAddress
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}

	// Storage defaults
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.Memory.MaxSnapshots == 0 {
		cfg.Storage.Memory.MaxSnapshots = DefaultMemoryMaxSnapshots
	}
	if cfg.Storage.Memory.MaxAggregates == 0 {
		cfg.Storage.Memory.MaxAggregates = DefaultMemoryMaxAggregates
	}
	if cfg.Storage.File.Dir == "" {
		cfg.Storage.File.Dir = DefaultFileDir
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Storage.SQLite.BusyTimeout == 0 {
		cfg.Storage.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Storage.SQLite.CheckpointInterval == 0 {
		cfg.Storage.SQLite.CheckpointInterval = DefaultSQLiteCheckpointInterval
	}

	// Reload defaults
	if cfg.Reload.Debounce == 0 {
		cfg.Reload.Debounce = DefaultReloadDebounce
	}
}
