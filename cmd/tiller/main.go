// Tiller is a control plane for reverse-proxy fleets.
//
// It talks to the proxy's admin API and provides:
//   - Health gating of admin API calls with automatic recovery
//   - Transactional configuration changes with validate-before-commit
//   - Continuous metrics collection, baselines, and anomaly detection
//   - Adaptive routing optimization with create-only rule management
//   - Prometheus exposition and liveness/readiness endpoints
//
// Usage:
//
//	# Start with default configuration
//	tiller run
//
//	# Start with a custom configuration file
//	tiller run --config /etc/tiller/tiller.yaml
//
//	# Validate a configuration file without starting
//	tiller validate --config /etc/tiller/tiller.yaml
//
//	# One-shot fleet status against a running proxy
//	tiller status --format json
//
//	# Show version information
//	tiller version
package main

func main() {
	Execute()
}
