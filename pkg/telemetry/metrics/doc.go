// Package metrics exposes the control plane's prometheus metrics.
//
// # Overview
//
// Collector owns the metric set: gate state and transitions, transaction
// outcomes, collection and aggregation counts, anomaly counts by severity,
// and optimization cycle outcomes and durations. Bridge subscribes to the
// event bus and records each lifecycle event, keeping the rest of the
// control plane free of prometheus imports.
//
// # Thread Safety
//
// Collector methods are safe for concurrent use; prometheus collectors
// synchronize internally. Bridge runs a single consumer goroutine.
package metrics
