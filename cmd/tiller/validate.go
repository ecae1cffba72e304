package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"tiller-hq/tiller/pkg/cli"
	"tiller-hq/tiller/pkg/config"
)

var validateFlags struct {
	printEffective bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file, apply defaults and environment overrides,
and report every validation error it contains.

Examples:
  # Validate the default config file
  tiller validate

  # Validate a specific file
  tiller validate --config /etc/tiller/tiller.yaml

  # Show the effective configuration after defaults and overrides
  tiller validate --print`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateFlags.printEffective, "print", false, "print the effective configuration")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) {
			fmt.Printf("✗ %s: %d validation error(s)\n", cfgFile, len(verr.Errors))
			for _, fe := range verr.Errors {
				fmt.Printf("  - %s: %s\n", fe.Field, fe.Message)
			}
			return cli.NewConfigError("", "configuration invalid")
		}
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	fmt.Printf("✓ %s is valid\n", cfgFile)

	if validateFlags.printEffective {
		fmt.Println()
		fmt.Printf("dataplane:     %s (timeout %s, retries %d)\n",
			cfg.Dataplane.BaseURL, cfg.Dataplane.Timeout, cfg.Dataplane.MaxRetries)
		fmt.Printf("gate:          threshold %d, reset %s\n",
			cfg.Gate.FailureThreshold, cfg.Gate.ResetTimeout)
		fmt.Printf("transactions:  timeout %s, lock ttl %s\n",
			cfg.Txn.DefaultTimeout, cfg.Txn.LockTTL)
		fmt.Printf("metrics:       every %s, anomaly threshold %.1f (detection %s)\n",
			cfg.Metrics.CollectionInterval, cfg.Metrics.AnomalyThreshold,
			onOff(!cfg.Metrics.DisableAnomalyDetection))
		fmt.Printf("optimizer:     %s, every %s, split %.2f/%.2f, materiality %d\n",
			onOff(!cfg.Optimizer.Disabled), cfg.Optimizer.Interval,
			cfg.Optimizer.WeightSplit.Performance, cfg.Optimizer.WeightSplit.Load,
			cfg.Optimizer.MaterialityThreshold)
		fmt.Printf("routing rules: content %s (%d), origin %s (%d)\n",
			onOff(cfg.Optimizer.ContentRouting.Enabled), len(cfg.Optimizer.ContentRouting.Rules),
			onOff(cfg.Optimizer.OriginRouting.Enabled), len(cfg.Optimizer.OriginRouting.Rules))
		fmt.Printf("storage:       %s\n", cfg.Storage.Backend)
		fmt.Printf("telemetry:     %s on %s%s\n",
			onOff(!cfg.Telemetry.Metrics.Disabled),
			cfg.Telemetry.Metrics.ListenAddress, cfg.Telemetry.Metrics.Path)
		fmt.Printf("hot reload:    %s\n", onOff(cfg.Reload.Enabled))
	}

	return nil
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
