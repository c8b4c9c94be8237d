package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/amikeeper/internal/app"
	"github.com/yairfalse/amikeeper/internal/config"
	"github.com/yairfalse/amikeeper/internal/telemetry"
)

var (
	version = "0.1.0"
	rootCmd = &cobra.Command{
		Use:   "amikeeper",
		Short: "AMI backup lifecycle manager",
		Long: `amikeeper - AMI backup lifecycle manager

amikeeper backs up every EC2 instance carrying the marker tag as a new
AMI whose name encodes its expiry, deregisters AMIs that have outlived
their retention, deletes their snapshots, and sends one report per run.

The AMI name is the only state. Nothing is stored locally.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`amikeeper {{.Version}} - AMI backup lifecycle manager
`)

	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "Config file (.toml, .yaml or .yml)")
	pf.String("region", "", "AWS region, overrides config and environment")
	pf.Bool("dry-run", false, "Record what would happen without touching AWS")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
}

// loadConfig resolves configuration for cmd and sets up logging. extra
// overrides apply after the flags.
func loadConfig(cmd *cobra.Command, extra ...func(*config.Config)) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path, append([]func(*config.Config){flagOverrides(cmd)}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := telemetry.SetupLogging(cfg.Log, nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flagOverrides applies only the flags the user actually set.
func flagOverrides(cmd *cobra.Command) func(*config.Config) {
	flags := cmd.Flags()
	return func(c *config.Config) {
		if flags.Changed("region") {
			c.Region, _ = flags.GetString("region")
		}
		if flags.Changed("dry-run") {
			c.DryRun, _ = flags.GetBool("dry-run")
		}
		if flags.Changed("log-level") {
			c.Log.Level, _ = flags.GetString("log-level")
		}
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func shutdown(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown failed")
	}
}
