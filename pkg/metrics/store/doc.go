// Package store provides persistence backends for collected metrics,
// hourly aggregates, and traffic pattern state.
//
// # Overview
//
// Three implementations of the Backend interface are provided:
//
//   - MemoryBackend: in-memory rings, no persistence (default)
//   - FileBackend: JSON files under a data directory, one snapshot
//     file per day
//   - SQLiteBackend: durable single-file database with WAL journaling
//
// # Usage
//
//	backend, err := store.NewSQLiteBackend("/var/lib/tiller/metrics.db")
//	if err != nil {
//		return err
//	}
//	defer backend.Close()
//
//	err = backend.SaveSnapshot(ctx, snap)
//
// # Thread Safety
//
// All backends are safe for concurrent use by multiple goroutines.
package store
