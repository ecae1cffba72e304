package metrics

import (
	"time"

	"tiller-hq/tiller/pkg/dataplane"
	"tiller-hq/tiller/pkg/metrics/store"
)

// Metric names tracked per scope.
const (
	MetricCurrentConnections = "current_connections"
	MetricRequestRate        = "request_rate"
	MetricErrorRatePercent   = "error_rate_percent"
	MetricResponseTimeMs     = "response_time_ms"
	MetricQueueDepth         = "queue_depth"
)

// BackendScope returns the series key for a backend.
func BackendScope(name string) string {
	return "backend/" + name
}

// ServerScope returns the series key for a server within a backend.
func ServerScope(backend, server string) string {
	return "server/" + backend + "/" + server
}

// Snapshot is the result of one collection pass. Immutable once
// captured.
type Snapshot struct {
	// ID uniquely identifies the snapshot.
	ID string `json:"id"`

	// Timestamp is when the collection pass ran.
	Timestamp time.Time `json:"timestamp"`

	// Rows holds the raw statistic rows. Nil when the stats step failed.
	Rows []dataplane.StatRow `json:"rows,omitempty"`

	// Runtime holds proxy process info. Nil when the info step failed.
	Runtime *dataplane.RuntimeInfo `json:"runtime,omitempty"`

	// Process holds resource readings. Nil when the step failed.
	Process *dataplane.ProcessMetrics `json:"process,omitempty"`

	// Summary holds fleet-wide figures derived from Rows.
	Summary store.Summary `json:"summary"`
}

// Record converts the snapshot to its persisted form, flattening raw
// rows into per-scope metric values.
func (s *Snapshot) Record() *store.SnapshotRecord {
	rec := &store.SnapshotRecord{
		ID:        s.ID,
		Timestamp: s.Timestamp,
		Summary:   s.Summary,
	}
	if len(s.Rows) > 0 {
		rec.Scopes = make(map[string]map[string]float64)
		for _, row := range s.Rows {
			key, ok := rowScope(row)
			if !ok {
				continue
			}
			rec.Scopes[key] = rowValues(row)
		}
	}
	return rec
}

// rowScope maps a stat row to its series key. Frontend rows have no
// per-scope series; their figures only feed the summary.
func rowScope(row dataplane.StatRow) (string, bool) {
	switch row.Type {
	case "backend":
		return BackendScope(row.Name), true
	case "server":
		return ServerScope(row.BackendName, row.Name), true
	default:
		return "", false
	}
}

// rowValues extracts the tracked metric values from a stat row.
func rowValues(row dataplane.StatRow) map[string]float64 {
	return map[string]float64{
		MetricCurrentConnections: float64(row.CurrentConnections),
		MetricRequestRate:        row.RequestRate,
		MetricErrorRatePercent:   row.ErrorRatePercent(),
		MetricResponseTimeMs:     row.ResponseTimeMs,
		MetricQueueDepth:         float64(row.QueueDepth),
	}
}

// summarize derives fleet-wide figures from one pass of stat rows.
// Connection counts and request rate come from frontend rows, the
// error rate from response counters across frontends, and the mean
// response time from servers reporting a nonzero value.
func summarize(rows []dataplane.StatRow) store.Summary {
	var sum store.Summary
	var totalResponses, errorResponses int64
	var rtTotal float64
	var rtCount int

	for _, row := range rows {
		switch row.Type {
		case "frontend":
			sum.CurrentConnections += row.CurrentConnections
			sum.TotalConnections += row.TotalConnections
			sum.RequestRate += row.RequestRate
			totalResponses += row.TotalResponses()
			errorResponses += row.Responses4xx + row.Responses5xx
		case "backend":
			sum.BackendCount++
		case "server":
			sum.ServerCount++
			if row.IsUp() {
				sum.ServersUp++
			}
			if row.ResponseTimeMs > 0 {
				rtTotal += row.ResponseTimeMs
				rtCount++
			}
		}
	}

	if totalResponses > 0 {
		sum.ErrorRatePercent = float64(errorResponses) / float64(totalResponses) * 100
	}
	if rtCount > 0 {
		sum.AvgResponseTimeMs = rtTotal / float64(rtCount)
	}
	return sum
}
