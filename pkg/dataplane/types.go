package dataplane

import "time"

// TrafficMode is the protocol a backend speaks.
type TrafficMode string

const (
	// ModeHTTP routes layer-7 HTTP traffic.
	ModeHTTP TrafficMode = "http"
	// ModeTCP routes raw TCP streams (e.g. TLS-SNI-routed database traffic).
	ModeTCP TrafficMode = "tcp"
)

// Backend is a named pool of servers sharing a balancing policy.
// Instances returned by the client mirror proxy-side objects; they are
// snapshots, not live views.
type Backend struct {
	// Name uniquely identifies the backend.
	Name string `json:"name"`

	// Mode is the traffic mode (http or tcp).
	Mode TrafficMode `json:"mode"`

	// Balance is the balancing algorithm (e.g. "roundrobin", "leastconn").
	Balance string `json:"balance"`

	// Servers are the member servers, in proxy configuration order.
	Servers []Server `json:"servers,omitempty"`
}

// Server is one concrete endpoint within a backend.
type Server struct {
	// Name uniquely identifies the server within its backend.
	Name string `json:"name"`

	// Address is the network address (IP or hostname).
	Address string `json:"address"`

	// Port is the TCP port.
	Port int `json:"port"`

	// Weight is the administrative traffic weight, 1-256.
	Weight int `json:"weight"`

	// Check reports whether active health checking is enabled.
	Check bool `json:"check"`

	// Backup marks the server as a backup that only receives traffic
	// when all non-backup servers are down.
	Backup bool `json:"backup"`
}

// Transaction is a proxy-side configuration transaction. Configuration
// calls made with its ID are staged and take effect only on commit.
type Transaction struct {
	// ID is the opaque identifier assigned by the proxy API.
	ID string `json:"id"`

	// Version is the configuration version the transaction was opened
	// against.
	Version int `json:"version"`

	// Status is the proxy-side status ("in_progress", "success", "failed").
	Status string `json:"status"`
}

// MatchRule is a content-based routing rule: requests whose path matches
// the pattern are switched to the target backend.
type MatchRule struct {
	// Name uniquely identifies the rule.
	Name string `json:"name"`

	// PathPattern is a path regular expression.
	PathPattern string `json:"path_pattern"`

	// Backend is the target backend name.
	Backend string `json:"backend"`

	// Priority orders rule evaluation; lower values are evaluated first.
	Priority int `json:"priority"`
}

// OriginRule is an origin-based routing rule: requests from any of the
// listed origins are switched to the target backend.
type OriginRule struct {
	// Name uniquely identifies the rule.
	Name string `json:"name"`

	// Origins are the matched origin values (hosts or CIDR ranges).
	Origins []string `json:"origins"`

	// Backend is the target backend name.
	Backend string `json:"backend"`

	// Priority orders rule evaluation; lower values are evaluated first.
	Priority int `json:"priority"`
}

// StatRow is one row of the proxy's runtime statistics surface. Rows exist
// for frontends, backends, and individual servers; server rows carry a
// non-empty BackendName.
type StatRow struct {
	// Type is the object type: "frontend", "backend", or "server".
	Type string `json:"type"`

	// Name is the object name (frontend, backend, or server name).
	Name string `json:"name"`

	// BackendName is the owning backend for server rows, empty otherwise.
	BackendName string `json:"backend_name,omitempty"`

	// Status is the reported operational status ("UP", "DOWN", "OPEN", ...).
	Status string `json:"status"`

	// CurrentConnections is the number of connections currently open.
	CurrentConnections int64 `json:"current_connections"`

	// TotalConnections is the cumulative connection count.
	TotalConnections int64 `json:"total_connections"`

	// RequestRate is the current request rate per second.
	RequestRate float64 `json:"request_rate"`

	// TotalRequests is the cumulative request count.
	TotalRequests int64 `json:"total_requests"`

	// Per-class response counters.
	Responses1xx int64 `json:"responses_1xx"`
	Responses2xx int64 `json:"responses_2xx"`
	Responses3xx int64 `json:"responses_3xx"`
	Responses4xx int64 `json:"responses_4xx"`
	Responses5xx int64 `json:"responses_5xx"`

	// BytesIn and BytesOut are cumulative byte counters.
	BytesIn  int64 `json:"bytes_in"`
	BytesOut int64 `json:"bytes_out"`

	// QueueDepth is the number of requests queued waiting for a server.
	QueueDepth int64 `json:"queue_depth"`

	// ResponseTimeMs is the average response time in milliseconds over the
	// proxy's internal measurement window. Zero when the object has not
	// served a request in the window.
	ResponseTimeMs float64 `json:"response_time_ms"`

	// ErrorCount is the cumulative count of connection and response errors.
	ErrorCount int64 `json:"error_count"`
}

// TotalResponses returns the sum of all per-class response counters.
func (r *StatRow) TotalResponses() int64 {
	return r.Responses1xx + r.Responses2xx + r.Responses3xx + r.Responses4xx + r.Responses5xx
}

// ErrorRatePercent returns the 4xx+5xx share of total responses as a
// percentage, or 0 when no responses were recorded.
func (r *StatRow) ErrorRatePercent() float64 {
	total := r.TotalResponses()
	if total == 0 {
		return 0
	}
	return float64(r.Responses4xx+r.Responses5xx) / float64(total) * 100
}

// IsUp reports whether the row's status indicates the object is serving.
func (r *StatRow) IsUp() bool {
	switch r.Status {
	case "UP", "OPEN", "no check":
		return true
	default:
		return false
	}
}

// RuntimeInfo is the proxy's self-reported process information.
type RuntimeInfo struct {
	// Version is the proxy release version.
	Version string `json:"version"`

	// PID is the proxy process id.
	PID int `json:"pid"`

	// UptimeSeconds is how long the proxy process has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Processes is the number of worker processes.
	Processes int `json:"processes"`
}

// ProcessMetrics are resource readings for the proxy process.
type ProcessMetrics struct {
	// CPUPercent is the process CPU utilization percentage.
	CPUPercent float64 `json:"cpu_percent"`

	// MemoryBytes is the resident memory size.
	MemoryBytes int64 `json:"memory_bytes"`

	// MaxMemoryBytes is the configured memory limit, 0 when unlimited.
	MaxMemoryBytes int64 `json:"max_memory_bytes"`

	// CurrentConnections is the process-wide open connection count.
	CurrentConnections int64 `json:"current_connections"`

	// ConnectionRate is the current connection rate per second.
	ConnectionRate float64 `json:"connection_rate"`

	// CollectedAt is when the reading was taken.
	CollectedAt time.Time `json:"collected_at"`
}
