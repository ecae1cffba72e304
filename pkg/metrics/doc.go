// Package metrics polls proxy runtime statistics on a fixed interval,
// maintains rolling per-scope history, computes statistical baselines,
// flags anomalous metric values, and periodically rolls fine-grained
// history up into persisted hourly aggregates.
//
// # Overview
//
// The Engine runs two schedules: a fine-grained collection loop
// (default every 10 seconds) that snapshots the proxy's statistics
// surface, and a coarse cron-driven aggregation (default hourly) that
// summarizes collected snapshots, persists the rollup, and prunes raw
// persisted snapshots down to a short recent tail.
//
// Each collection pass appends to a bounded global snapshot ring and
// fans per-backend and per-server values into bounded series rings.
// Once a series has enough samples, a mean/stddev baseline is
// maintained for each metric, and new values are scored against it:
// values whose z-score magnitude reaches the configured threshold are
// recorded as anomalies and published on the event bus.
//
// # Usage
//
//	engine, err := metrics.New(metrics.Config{
//		Client: client,
//		Gate:   g,
//		Bus:    bus,
//		Store:  backend,
//	})
//	if err != nil {
//		return err
//	}
//	if err := engine.Start(); err != nil {
//		return err
//	}
//	defer engine.Stop()
//
// # Thread Safety
//
// All Engine methods are safe for concurrent use. Query methods return
// copies and tolerate running concurrently with collection.
package metrics
