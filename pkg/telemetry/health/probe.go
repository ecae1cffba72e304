package health

import (
	"context"
	"log/slog"

	"tiller-hq/tiller/pkg/dataplane"
	"tiller-hq/tiller/pkg/gate"
	"tiller-hq/tiller/pkg/metrics/store"
)

// ProxyProbe builds a CheckFunc that verifies the proxy admin API is
// reachable. The probe bypasses the health gate intentionally: it is the
// out-of-band signal that the proxy came back. When a probe succeeds while
// the gate is open, the gate is reset so normal traffic resumes before the
// reset timeout would have allowed a trial.
func ProxyProbe(client *dataplane.Client, g *gate.Gate, logger *slog.Logger) CheckFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "health_probe")

	return func(ctx context.Context) error {
		if _, err := client.GetInfo(ctx); err != nil {
			return err
		}
		if g != nil && g.State() == gate.StateOpen {
			logger.Info("proxy probe succeeded while gate open, resetting gate")
			g.Reset()
		}
		return nil
	}
}

// StoreProbe builds a CheckFunc that verifies the metrics store is
// serviceable by reading the persisted traffic patterns. A wedged
// database handle or an unreadable data directory surfaces here before
// the next aggregation pass fails.
func StoreProbe(backend store.Backend) CheckFunc {
	return func(ctx context.Context) error {
		_, err := backend.LoadPatterns(ctx)
		return err
	}
}
