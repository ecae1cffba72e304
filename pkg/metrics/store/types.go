package store

import (
	"context"
	"time"
)

// Backend defines the interface for metrics persistence.
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// SaveSnapshot persists a single collection snapshot.
	SaveSnapshot(ctx context.Context, snap *SnapshotRecord) error

	// ListSnapshots returns snapshots with timestamps in [from, to),
	// ordered oldest first. Returns an empty slice if none exist.
	ListSnapshots(ctx context.Context, from, to time.Time) ([]*SnapshotRecord, error)

	// PruneSnapshots removes snapshots older than the cutoff.
	// Returns the number of records deleted and any error.
	PruneSnapshots(ctx context.Context, olderThan time.Time) (int, error)

	// SaveAggregate persists an hourly rollup. Saving an aggregate with
	// the same period start replaces the previous record.
	SaveAggregate(ctx context.Context, agg *Aggregate) error

	// ListAggregates returns rollups with period starts in [from, to),
	// ordered oldest first.
	ListAggregates(ctx context.Context, from, to time.Time) ([]*Aggregate, error)

	// SavePatterns persists the traffic pattern accumulators.
	SavePatterns(ctx context.Context, p *PatternState) error

	// LoadPatterns retrieves the persisted traffic patterns.
	// Returns nil if none have been saved.
	LoadPatterns(ctx context.Context) (*PatternState, error)

	// Close releases any resources held by the backend.
	// The backend should not be used after calling Close.
	Close() error
}

// Summary holds fleet-wide figures derived from one collection pass.
type Summary struct {
	// CurrentConnections is the sum of active connections across frontends.
	CurrentConnections int64 `json:"current_connections"`

	// TotalConnections is the cumulative connection count across frontends.
	TotalConnections int64 `json:"total_connections"`

	// RequestRate is the summed per-second request rate across frontends.
	RequestRate float64 `json:"request_rate"`

	// ErrorRatePercent is the share of 4xx and 5xx responses in percent.
	ErrorRatePercent float64 `json:"error_rate_percent"`

	// AvgResponseTimeMs is the mean response time over servers that
	// reported a nonzero value.
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`

	// BackendCount is the number of backends seen in this pass.
	BackendCount int `json:"backend_count"`

	// ServerCount is the number of servers seen in this pass.
	ServerCount int `json:"server_count"`

	// ServersUp is the number of servers reporting a passing check.
	ServersUp int `json:"servers_up"`
}

// SnapshotRecord is the persisted form of one collection snapshot.
// Scopes maps a scope key ("backend/api" or "server/api/web1") to the
// metric values sampled for that scope.
type SnapshotRecord struct {
	ID        string                        `json:"id"`
	Timestamp time.Time                     `json:"timestamp"`
	Summary   Summary                       `json:"summary"`
	Scopes    map[string]map[string]float64 `json:"scopes,omitempty"`
}

// ScopeRollup accumulates figures for one backend or server over an
// aggregation period.
type ScopeRollup struct {
	// StatusCounts tallies how many samples reported each health status.
	StatusCounts map[string]int64 `json:"status_counts"`

	// TotalSessions is the cumulative connection count at period end.
	TotalSessions int64 `json:"total_sessions"`

	// TotalBytesIn and TotalBytesOut are cumulative byte counters at
	// period end.
	TotalBytesIn  int64 `json:"total_bytes_in"`
	TotalBytesOut int64 `json:"total_bytes_out"`

	// TotalErrors is the cumulative 4xx plus 5xx response count at
	// period end.
	TotalErrors int64 `json:"total_errors"`

	// PeakConnections is the highest concurrent connection count seen
	// in any sample during the period.
	PeakConnections int64 `json:"peak_connections"`

	// ResponseTimeSamples holds the nonzero response times observed
	// during the period, in milliseconds.
	ResponseTimeSamples []float64 `json:"response_time_samples,omitempty"`

	// AvgResponseTimeMs is the mean of ResponseTimeSamples.
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

// Aggregate is an hourly rollup built from the snapshots collected
// during one aggregation period.
type Aggregate struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	// SampleCount is the number of snapshots rolled into this record.
	SampleCount int `json:"sample_count"`

	// AvgRequestRate is the mean fleet request rate over the period.
	AvgRequestRate float64 `json:"avg_request_rate"`

	// PeakConnections is the highest fleet connection count seen in
	// any snapshot during the period.
	PeakConnections int64 `json:"peak_connections"`

	// Backends maps backend name to its rollup.
	Backends map[string]*ScopeRollup `json:"backends"`

	// Servers maps "backend/server" to its rollup.
	Servers map[string]*ScopeRollup `json:"servers"`
}

// PatternCell accumulates request-rate observations for one time bucket.
type PatternCell struct {
	Samples   int64   `json:"samples"`
	TotalRate float64 `json:"total_rate"`
}

// MeanRate returns the mean request rate for the bucket, or zero when
// no samples have been recorded.
func (c PatternCell) MeanRate() float64 {
	if c.Samples == 0 {
		return 0
	}
	return c.TotalRate / float64(c.Samples)
}

// PatternState holds rolling traffic pattern accumulators keyed by
// hour of day and day of week.
type PatternState struct {
	HourOfDay [24]PatternCell `json:"hour_of_day"`
	DayOfWeek [7]PatternCell  `json:"day_of_week"`
	UpdatedAt time.Time       `json:"updated_at"`
}
