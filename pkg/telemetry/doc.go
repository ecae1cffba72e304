// Package telemetry provides observability for Tiller.
//
// # Overview
//
// The telemetry package implements structured logging, Prometheus metrics,
// and health check endpoints for the control plane. Metrics are fed from
// the in-process event bus, so components stay free of direct prometheus
// dependencies.
//
// # Components
//
//   - logging: slog setup with credential redaction
//   - metrics: Prometheus collectors bridged from the event bus
//   - health: liveness and readiness checks, including a proxy probe
//
// # Usage
//
//	logger, _ := logging.New(logging.Config{Level: "info", Format: "json"})
//
//	collector := metrics.NewCollector(metrics.Config{})
//	bridge := metrics.NewBridge(metrics.BridgeConfig{Collector: collector, Bus: bus, Logger: logger})
//	bridge.Start()
//	defer bridge.Stop()
//
//	http.Handle("/metrics", collector.Handler())
package telemetry
