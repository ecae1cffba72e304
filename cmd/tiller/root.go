package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tiller",
	Short: "Tiller - reverse-proxy fleet control plane",
	Long: `Tiller is a control plane for reverse-proxy fleets.

It manages a proxy through its admin API, providing:
  - Health gating of admin API calls with automatic recovery
  - Transactional configuration changes with validate-before-commit
  - Continuous metrics collection, baselines, and anomaly detection
  - Adaptive routing optimization with create-only rule management
  - Prometheus exposition and liveness/readiness endpoints`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "tiller.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
