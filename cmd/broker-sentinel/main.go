package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nholik/broker-sentinel/internal/config"
	"github.com/nholik/broker-sentinel/internal/logging"
	"github.com/nholik/broker-sentinel/internal/runner"
	"github.com/nholik/broker-sentinel/internal/server"
	"github.com/spf13/cobra"
)

// Version is set via ldflags during build.
var Version = "dev"

type options struct {
	once       bool
	report     bool
	dryRun     bool
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "broker-sentinel",
		Short: "Health monitor and auto-remediation loop for Kafka and Zookeeper",
		Long: `broker-sentinel probes every configured Kafka and Zookeeper endpoint,
restarts services that go down within a bounded budget, diagnoses restarts
that do not help and notifies Slack, webhooks and email.

Without flags it runs continuously at monitoring.check_interval_seconds.`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			applyFlagOverrides(cmd, opts, &cfg)
			return run(cmd.Context(), opts, cfg)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.once, "once", false, "run a single monitoring cycle and exit")
	flags.BoolVar(&opts.report, "report", false, "send a cluster health report and exit")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "log notifications instead of sending them")
	flags.StringVar(&opts.configPath, "config", "", "path to the fleet file (overrides SS_CONFIG_PATH)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (overrides SS_LOG_LEVEL)")
	cmd.MarkFlagsMutuallyExclusive("once", "report")

	return cmd
}

func applyFlagOverrides(cmd *cobra.Command, opts options, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("config") && opts.configPath != "" {
		cfg.ConfigPath = opts.configPath
	}
	if flags.Changed("log-level") && opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("dry-run") {
		cfg.DryRun = opts.dryRun
	}
}

func run(ctx context.Context, opts options, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewWithLevel(cfg.LogLevel)

	fleetCfg, err := config.LoadFleetFile(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load fleet file %s: %w", cfg.ConfigPath, err)
	}

	logger.Info().
		Str("version", Version).
		Str("config", cfg.ConfigPath).
		Int("endpoints", len(fleetCfg.Endpoints)).
		Bool("dry_run", cfg.DryRun).
		Bool("ai_enabled", fleetCfg.AI.Enabled).
		Msg("broker-sentinel starting")

	a, err := buildApp(ctx, logger, cfg, fleetCfg)
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case opts.report:
		if err := a.orch.Report(context.WithoutCancel(ctx)); err != nil {
			logger.Error().Err(err).Msg("cluster report failed")
		}
		return nil
	case opts.once:
		if err := a.orch.RunCycle(context.WithoutCancel(ctx)); err != nil {
			logger.Error().Err(err).Msg("monitoring cycle failed")
		}
		return nil
	}

	server.Start(ctx, logger, server.Options{
		HealthPort:    cfg.HealthPort,
		MetricsPort:   cfg.MetricsPort,
		CheckInterval: fleetCfg.Monitoring.CheckInterval,
		Tracker:       a.health,
		Metrics:       a.metrics,
	})

	r := runner.New(logger, fleetCfg.Monitoring.CheckInterval,
		runner.WithRunOnce(a.orch.RunCycle),
		runner.WithFailureBackoff(fleetCfg.Monitoring.CycleFailureBackoff),
	)
	if err := r.Run(ctx); err != nil {
		return err
	}
	logger.Info().Msg("broker-sentinel stopped")
	return nil
}
