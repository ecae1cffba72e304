package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"tiller-hq/tiller/pkg/cli"
	"tiller-hq/tiller/pkg/config"
	"tiller-hq/tiller/pkg/dataplane"
	"tiller-hq/tiller/pkg/metrics"
	"tiller-hq/tiller/pkg/metrics/store"
)

var statusFlags struct {
	format  string
	timeout time.Duration
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a one-shot fleet status",
	Long: `Collect a single metrics snapshot from the proxy and print fleet-wide
figures and per-backend health insights.

Examples:
  # Human-readable status
  tiller status

  # Machine-readable status
  tiller status --format json`,
	RunE: showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusFlags.format, "format", "text", "output format: text, json")
	statusCmd.Flags().DurationVar(&statusFlags.timeout, "timeout", 10*time.Second, "collection timeout")
}

// statusReport is the JSON-formatted status payload.
type statusReport struct {
	Proxy     string                       `json:"proxy"`
	Version   string                       `json:"version,omitempty"`
	Timestamp time.Time                    `json:"timestamp"`
	Summary   store.Summary                `json:"summary"`
	Insights  []metrics.PerformanceInsight `json:"insights"`
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	client, err := dataplane.New(dataplane.Config{
		BaseURL:    cfg.Dataplane.BaseURL,
		Username:   cfg.Dataplane.Username,
		Password:   cfg.Dataplane.Password,
		Timeout:    cfg.Dataplane.Timeout,
		MaxRetries: cfg.Dataplane.MaxRetries,
	})
	if err != nil {
		return cli.NewCommandError("status", fmt.Errorf("failed to create data-plane client: %w", err))
	}
	defer client.Close()

	engine, err := metrics.New(metrics.Config{Client: client})
	if err != nil {
		return cli.NewCommandError("status", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), statusFlags.timeout)
	defer cancel()

	snap, err := engine.CollectOnce(ctx)
	if err != nil {
		return cli.NewCommandError("status", fmt.Errorf("collection failed: %w", err))
	}

	report := statusReport{
		Proxy:     cfg.Dataplane.BaseURL,
		Timestamp: snap.Timestamp,
		Summary:   snap.Summary,
		Insights:  engine.Insights(),
	}
	if snap.Runtime != nil {
		report.Version = snap.Runtime.Version
	}

	switch cli.OutputFormat(statusFlags.format) {
	case cli.FormatJSON:
		f := &cli.JSONFormatter{Indent: true}
		return f.FormatTo(os.Stdout, report)
	case cli.FormatText:
		printStatusText(report)
		return nil
	default:
		return cli.NewCommandError("status", fmt.Errorf("unsupported format: %s", statusFlags.format))
	}
}

func printStatusText(report statusReport) {
	fmt.Printf("Proxy:    %s", report.Proxy)
	if report.Version != "" {
		fmt.Printf(" (v%s)", report.Version)
	}
	fmt.Println()
	fmt.Printf("Sampled:  %s\n", report.Timestamp.Format(time.RFC3339))
	fmt.Println()

	s := report.Summary
	fmt.Printf("Servers:       %d/%d up across %d backends\n", s.ServersUp, s.ServerCount, s.BackendCount)
	fmt.Printf("Connections:   %d current, %d total\n", s.CurrentConnections, s.TotalConnections)
	fmt.Printf("Request rate:  %.1f/s\n", s.RequestRate)
	fmt.Printf("Error rate:    %.2f%%\n", s.ErrorRatePercent)
	fmt.Printf("Avg response:  %.1fms\n", s.AvgResponseTimeMs)

	if len(report.Insights) == 0 {
		return
	}
	fmt.Println("\nBackends:")
	for _, in := range report.Insights {
		fmt.Printf("  %-20s score %5.1f  %-8s %d/%d up  err %.2f%%\n",
			in.Backend, in.Score, in.Status, in.ServersUp, in.ServerCount, in.ErrorRatePercent)
		for _, rec := range in.Recommendations {
			fmt.Printf("    - %s\n", strings.TrimSpace(rec))
		}
	}
}
