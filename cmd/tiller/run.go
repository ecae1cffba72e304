package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"tiller-hq/tiller/pkg/cli"
	"tiller-hq/tiller/pkg/config"
	"tiller-hq/tiller/pkg/dataplane"
	"tiller-hq/tiller/pkg/events"
	"tiller-hq/tiller/pkg/gate"
	"tiller-hq/tiller/pkg/metrics"
	"tiller-hq/tiller/pkg/metrics/store"
	"tiller-hq/tiller/pkg/optimizer"
	"tiller-hq/tiller/pkg/telemetry/health"
	"tiller-hq/tiller/pkg/telemetry/logging"
	telemetrics "tiller-hq/tiller/pkg/telemetry/metrics"
	"tiller-hq/tiller/pkg/txn"
)

// shutdownTimeout bounds graceful teardown of the telemetry server and
// the transaction coordinator.
const shutdownTimeout = 15 * time.Second

var runFlags struct {
	metricsListen string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Tiller control plane",
	Long: `Start the Tiller control plane with the specified configuration.

Tiller connects to the proxy admin API, starts metrics collection and the
routing optimizer, and serves prometheus metrics and health endpoints.

Examples:
  # Start with default config
  tiller run

  # Start with custom config
  tiller run --config /etc/tiller/tiller.yaml

  # Override the telemetry listen address
  tiller run --metrics-listen 0.0.0.0:9190

  # Validate config without starting
  tiller run --dry-run`,
	RunE: runControlPlane,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.metricsListen, "metrics-listen", "l", "", "override telemetry listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runControlPlane(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	// Apply flag overrides
	if runFlags.metricsListen != "" {
		cfg.Telemetry.Metrics.ListenAddress = runFlags.metricsListen
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	printBanner(cfg)

	// ctx is cancelled by the first SIGINT or SIGTERM and drives the
	// shutdown sequence at the bottom of this function.
	ctx := cli.SetupSignalHandler()

	// Data-plane client and health gate. Every admin API call below
	// goes through the gate.
	client, err := dataplane.New(dataplane.Config{
		BaseURL:             cfg.Dataplane.BaseURL,
		Username:            cfg.Dataplane.Username,
		Password:            cfg.Dataplane.Password,
		Timeout:             cfg.Dataplane.Timeout,
		MaxRetries:          cfg.Dataplane.MaxRetries,
		MaxIdleConns:        cfg.Dataplane.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Dataplane.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.Dataplane.IdleConnTimeout,
		Logger:              logger.With("component", "dataplane"),
	})
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to create data-plane client: %w", err))
	}
	defer client.Close()

	bus := events.NewBus(events.Config{
		BufferSize: cfg.Events.BufferSize,
		Logger:     logger.With("component", "events"),
	})
	defer bus.Close()

	g := gate.New(gate.Config{
		FailureThreshold: cfg.Gate.FailureThreshold,
		ResetTimeout:     cfg.Gate.ResetTimeout,
		Bus:              bus,
		Logger:           logger.With("component", "gate"),
	})

	// Configuration cache, seeded from the proxy. A dead proxy at
	// startup is tolerated; the cache fills in once it recovers.
	cache := txn.NewConfigCache()
	if err := seedCache(ctx, client, g, cache); err != nil {
		slog.Warn("initial configuration fetch failed, starting with empty cache", "error", err)
	} else {
		fmt.Printf("✓ Proxy configuration cached (%d backends)\n", len(cache.Backends()))
	}

	coordinator, err := txn.NewCoordinator(txn.Config{
		Client:         client,
		Gate:           g,
		Cache:          cache,
		Bus:            bus,
		DefaultTimeout: cfg.Txn.DefaultTimeout,
		LockTTL:        cfg.Txn.LockTTL,
		HistorySize:    cfg.Txn.HistorySize,
		Logger:         logger.With("component", "txn"),
	})
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to create transaction coordinator: %w", err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		coordinator.Shutdown(ctx)
	}()

	backend, err := newStoreBackend(cfg)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to create storage backend: %w", err))
	}
	defer backend.Close()
	fmt.Printf("✓ Metrics storage initialized (%s)\n", cfg.Storage.Backend)

	engine, err := metrics.New(metrics.Config{
		Client:                  client,
		Gate:                    g,
		Bus:                     bus,
		Store:                   backend,
		Logger:                  logger.With("component", "metrics"),
		CollectionInterval:      cfg.Metrics.CollectionInterval,
		HistorySize:             cfg.Metrics.HistorySize,
		AnomalyLogSize:          cfg.Metrics.AnomalyLogSize,
		BaselineMinSamples:      cfg.Metrics.BaselineMinSamples,
		AnomalyThreshold:        cfg.Metrics.AnomalyThreshold,
		NoiseFloor:              cfg.Metrics.NoiseFloor,
		DisableAnomalyDetection: cfg.Metrics.DisableAnomalyDetection,
		AggregationSchedule:     cfg.Metrics.AggregationSchedule,
		PruneTail:               cfg.Metrics.PruneTail,
	})
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to create metrics engine: %w", err))
	}
	if err := engine.Start(); err != nil {
		return cli.NewCommandError("run", fmt.Errorf("failed to start metrics engine: %w", err))
	}
	defer engine.Stop()
	fmt.Printf("✓ Metrics engine started (interval %s)\n", cfg.Metrics.CollectionInterval)

	var opt *optimizer.Optimizer
	if cfg.Optimizer.Disabled {
		slog.Info("routing optimizer disabled")
	} else {
		opt, err = optimizer.New(optimizer.Config{
			Client:               client,
			Gate:                 g,
			Coordinator:          coordinator,
			Cache:                cache,
			Engine:               engine,
			Bus:                  bus,
			Logger:               logger.With("component", "optimizer"),
			Interval:             cfg.Optimizer.Interval,
			WeightSplit:          optimizer.WeightSplit{Performance: cfg.Optimizer.WeightSplit.Performance, Load: cfg.Optimizer.WeightSplit.Load},
			BaseWeight:           cfg.Optimizer.BaseWeight,
			MaterialityThreshold: cfg.Optimizer.MaterialityThreshold,
			ContentRules:         contentRules(cfg),
			OriginRules:          originRules(cfg),
			EnableContentRouting: cfg.Optimizer.ContentRouting.Enabled,
			EnableOriginRouting:  cfg.Optimizer.OriginRouting.Enabled,
			ValidateBeforeCommit: cfg.Optimizer.ValidateBeforeCommit,
			HistorySize:          cfg.Optimizer.HistorySize,
		})
		if err != nil {
			return cli.NewCommandError("run", fmt.Errorf("failed to create routing optimizer: %w", err))
		}
		if err := opt.Start(); err != nil {
			return cli.NewCommandError("run", fmt.Errorf("failed to start routing optimizer: %w", err))
		}
		defer opt.Stop()
		fmt.Printf("✓ Routing optimizer started (interval %s)\n", cfg.Optimizer.Interval)
	}

	// Telemetry: prometheus bridge and health checks.
	collector := telemetrics.NewCollector(telemetrics.Config{})
	bridge := telemetrics.NewBridge(telemetrics.BridgeConfig{
		Collector: collector,
		Bus:       bus,
		Logger:    logger.With("component", "telemetry"),
	})
	bridge.Start()
	defer bridge.Stop()

	checker := health.New(0)
	checker.RegisterCheck("proxy", health.ProxyProbe(client, g, logger.With("component", "health")))
	checker.RegisterCheck("storage", health.StoreProbe(backend))

	errChan := make(chan error, 1)
	var srv *http.Server
	if !cfg.Telemetry.Metrics.Disabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
		mux.Handle("/healthz", checker.LivenessHandler())
		mux.Handle("/readyz", checker.ReadinessHandler())
		srv = &http.Server{
			Addr:    cfg.Telemetry.Metrics.ListenAddress,
			Handler: mux,
		}
		go func() {
			slog.Info("starting telemetry server",
				"address", cfg.Telemetry.Metrics.ListenAddress,
				"path", cfg.Telemetry.Metrics.Path,
			)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- fmt.Errorf("telemetry server error: %w", err)
			}
		}()
		fmt.Printf("✓ Telemetry on http://%s%s\n", cfg.Telemetry.Metrics.ListenAddress, cfg.Telemetry.Metrics.Path)
	}

	// Hot reload of runtime-adjustable settings.
	var watcher *config.Watcher
	if cfg.Reload.Enabled {
		watcher, err = config.NewWatcher(config.WatcherConfig{
			Path:     cfgFile,
			Debounce: cfg.Reload.Debounce,
			Logger:   logger.With("component", "config"),
		})
		if err != nil {
			return cli.NewCommandError("run", fmt.Errorf("failed to create config watcher: %w", err))
		}
		go func() {
			err := watcher.Watch(ctx, func(next *config.Config) {
				applyRuntimeSettings(next, engine, opt)
			})
			if err != nil {
				slog.Warn("config watcher stopped", "error", err)
			}
		}()
		defer watcher.Stop()
		fmt.Println("✓ Configuration hot reload enabled")
	}

	fmt.Println("\nPress Ctrl+C to stop")

	select {
	case err := <-errChan:
		return cli.NewCommandError("run", err)
	case <-ctx.Done():
		fmt.Println("\nShutdown signal received, stopping gracefully...")

		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("telemetry server shutdown failed", "error", err)
			}
		}

		// Remaining teardown runs in the defers above, in reverse
		// dependency order.
		fmt.Println("✓ Control plane stopped")
		return nil
	}
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Config{
		Level:  cfg.Telemetry.Logging.Level,
		Format: cfg.Telemetry.Logging.Format,
	})
}

func printBanner(cfg *config.Config) {
	fmt.Printf("Tiller v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Println("✓ Configuration loaded")
	fmt.Printf("✓ Proxy admin API: %s\n", cfg.Dataplane.BaseURL)
}

// seedCache fetches the proxy's current backends and routing rules
// through the gate and installs them in the cache.
func seedCache(ctx context.Context, client *dataplane.Client, g *gate.Gate, cache *txn.ConfigCache) error {
	backends, err := gate.Call(g, ctx, "get_backends", client.GetBackends)
	if err != nil {
		return err
	}
	matchRules, err := gate.Call(g, ctx, "get_match_rules", client.GetMatchRules)
	if err != nil {
		return err
	}
	originRules, err := gate.Call(g, ctx, "get_origin_rules", client.GetOriginRules)
	if err != nil {
		return err
	}
	cache.Replace(backends, matchRules, originRules)
	return nil
}

func newStoreBackend(cfg *config.Config) (store.Backend, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return store.NewMemoryBackendWithConfig(store.MemoryBackendConfig{
			MaxSnapshots:  cfg.Storage.Memory.MaxSnapshots,
			MaxAggregates: cfg.Storage.Memory.MaxAggregates,
		}), nil
	case "file":
		return store.NewFileBackend(cfg.Storage.File.Dir)
	case "sqlite":
		return store.NewSQLiteBackendWithConfig(store.SQLiteBackendConfig{
			DBPath:             cfg.Storage.SQLite.Path,
			BusyTimeout:        cfg.Storage.SQLite.BusyTimeout,
			CheckpointInterval: cfg.Storage.SQLite.CheckpointInterval,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}
}

func contentRules(cfg *config.Config) []dataplane.MatchRule {
	rules := make([]dataplane.MatchRule, 0, len(cfg.Optimizer.ContentRouting.Rules))
	for _, r := range cfg.Optimizer.ContentRouting.Rules {
		rules = append(rules, dataplane.MatchRule{
			Name:        r.Name,
			PathPattern: r.PathPattern,
			Backend:     r.Backend,
			Priority:    r.Priority,
		})
	}
	return rules
}

func originRules(cfg *config.Config) []dataplane.OriginRule {
	rules := make([]dataplane.OriginRule, 0, len(cfg.Optimizer.OriginRouting.Rules))
	for _, r := range cfg.Optimizer.OriginRouting.Rules {
		rules = append(rules, dataplane.OriginRule{
			Name:     r.Name,
			Origins:  r.Origins,
			Backend:  r.Backend,
			Priority: r.Priority,
		})
	}
	return rules
}

// applyRuntimeSettings pushes the runtime-adjustable subset of a
// reloaded configuration into running components. Structural settings
// (proxy URL, storage backend, intervals) require a restart.
func applyRuntimeSettings(cfg *config.Config, engine *metrics.Engine, opt *optimizer.Optimizer) {
	engine.SetAnomalyDetection(!cfg.Metrics.DisableAnomalyDetection)
	engine.SetAnomalyThreshold(cfg.Metrics.AnomalyThreshold)

	if opt != nil {
		opt.SetWeightSplit(cfg.Optimizer.WeightSplit.Performance, cfg.Optimizer.WeightSplit.Load)
		opt.SetContentRouting(cfg.Optimizer.ContentRouting.Enabled)
		opt.SetOriginRouting(cfg.Optimizer.OriginRouting.Enabled)
	}

	slog.Info("runtime settings reloaded",
		"anomaly_detection", !cfg.Metrics.DisableAnomalyDetection,
		"anomaly_threshold", cfg.Metrics.AnomalyThreshold,
	)
}
