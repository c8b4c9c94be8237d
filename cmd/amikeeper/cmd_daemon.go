package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/yairfalse/amikeeper/internal/app"
	"github.com/yairfalse/amikeeper/internal/daemon"
)

var (
	daemonSchedule    string
	daemonMetricsAddr string
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the lifecycle on a cron schedule",
	Long: `Run amikeeper as a long-lived process.

Each scheduled tick runs one full pass, exactly like 'amikeeper run'.
A tick that fires while the previous pass is still running is skipped.

Endpoints:
- Prometheus metrics on /metrics
- Liveness on /healthz
- Readiness on /readyz
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  amikeeper daemon                                 # Schedule from config
  amikeeper daemon --schedule "0 */6 * * *"        # Every six hours
  amikeeper daemon --metrics-addr 127.0.0.1:9102   # Custom listen address`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonSchedule, "schedule", "", "Cron expression, overrides config")
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Metrics and health listen address, overrides config")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if daemonSchedule != "" {
		cfg.Daemon.Schedule = daemonSchedule
	}
	if daemonMetricsAddr != "" {
		cfg.Daemon.MetricsAddr = daemonMetricsAddr
	}

	ctx, cancel := signalContext()
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := app.New(ctx, cfg, app.WithPrometheus(reg))
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer shutdown(a)

	d, err := daemon.NewDaemon(daemon.Config{
		Schedule:    cfg.Daemon.Schedule,
		MetricsAddr: cfg.Daemon.MetricsAddr,
	}, func(ctx context.Context) error {
		_, err := a.Runner.Run(ctx)
		return err
	}, reg)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Starting amikeeper daemon\n")
	fmt.Fprintf(out, "   Region:   %s\n", cfg.Region)
	fmt.Fprintf(out, "   Schedule: %s\n", cfg.Daemon.Schedule)
	fmt.Fprintf(out, "   Metrics:  http://%s/metrics\n", cfg.Daemon.MetricsAddr)
	if cfg.DryRun {
		fmt.Fprintf(out, "   Dry run:  true\n")
	}

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}

	fmt.Fprintln(out, "Daemon stopped")
	return nil
}
