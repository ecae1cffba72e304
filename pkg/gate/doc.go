// Package gate implements the health gate: a circuit breaker that wraps
// every call to the proxy's administrative API.
//
// # States
//
// The gate starts CLOSED. Consecutive failures increment a counter; on
// reaching the failure threshold the gate trips OPEN and further calls fail
// immediately with ErrGateOpen, without any network I/O. After the reset
// timeout elapses the gate moves to HALF_OPEN and lets exactly one trial
// call through: success closes the gate and resets the counter, failure
// reopens it and restarts the timeout.
//
// Reset forces the gate CLOSED from any state. An out-of-band health probe
// (see pkg/telemetry/health) calls it when an external check confirms the
// proxy has recovered.
//
// State is process-lifetime only; nothing is persisted.
//
// # Events
//
// State transitions are published on the event bus as TypeGateOpened,
// TypeGateHalfOpen, and TypeGateClosed with a StateChange payload.
package gate
