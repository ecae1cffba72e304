// Package dataplane provides the REST client for the proxy's administrative
// API (the "data plane API").
//
// # Overview
//
// The client covers four surfaces of the proxy admin API:
//
//   - Configuration objects: backends, servers, content match rules and
//     origin rules (CRUD, optionally scoped to a transaction)
//   - Transaction lifecycle: create, commit, rollback
//   - Configuration validation: a dry-run check of the pending configuration
//   - Runtime telemetry: per-object statistics, proxy info, process metrics
//
// All calls carry basic-auth credentials and a bounded timeout. Transient
// failures (network errors and 5xx responses) are retried with exponential
// backoff; client errors (4xx) are returned immediately as structured
// errors that callers can inspect with errors.Is and errors.As.
//
// # Errors
//
// The client returns *APIError for non-2xx responses, *ValidationError for
// dry-run validation failures, and *TimeoutError when the request context
// deadline is exceeded. All of them match the corresponding sentinel errors
// (ErrAPIFailure, ErrValidationFailed, ErrTimeout).
//
// The client performs no circuit breaking itself; the health gate
// (pkg/gate) wraps these calls at the call site.
package dataplane
