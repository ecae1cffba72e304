// Package health provides liveness and readiness checks for the control
// plane.
//
// # Overview
//
// Checker runs named checks concurrently under a per-check timeout and
// aggregates the results. ProxyProbe builds the standard proxy
// reachability check; a probe that succeeds while the health gate is open
// resets the gate, so recovery is noticed as soon as the proxy answers
// again rather than at the next trial window.
//
// # Usage
//
//	checker := health.New(5 * time.Second)
//	checker.RegisterCheck("proxy", health.ProxyProbe(client, g, logger))
//	mux.Handle("/healthz", checker.LivenessHandler())
//	mux.Handle("/readyz", checker.ReadinessHandler())
package health
