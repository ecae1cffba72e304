// Package optimizer periodically recomputes per-server traffic weights
// from live performance readings and applies them to the proxy through
// a single transaction per cycle.
//
// # Overview
//
// Each cycle reads the latest metrics snapshot, scores every healthy
// server on response time, error rate, and instantaneous load, and
// derives a target weight as that server's share of its backend's
// total score. Only changes that move a weight by at least the
// materiality threshold are applied; when no change survives the
// filter, the cycle's transaction is opened and explicitly aborted so
// the proxy configuration version still reflects the no-op decision.
//
// The optimizer also ensures configured content (path match) and
// origin routing rules exist, creating missing ones inside the same
// transaction. Existing rules are never modified or diffed; drift
// repair is an operator action.
//
// # Usage
//
//	opt, err := optimizer.New(optimizer.Config{
//		Client:      client,
//		Coordinator: coord,
//		Cache:       cache,
//		Engine:      engine,
//		Bus:         bus,
//	})
//	if err != nil {
//		return err
//	}
//	if err := opt.Start(); err != nil {
//		return err
//	}
//	defer opt.Stop()
//
// # Thread Safety
//
// All Optimizer methods are safe for concurrent use. Runtime controls
// (weight split, routing toggles) take effect on the next cycle;
// ForceCycle requests an immediate out-of-schedule run.
package optimizer
