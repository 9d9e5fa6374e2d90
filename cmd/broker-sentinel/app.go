package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nholik/broker-sentinel/internal/config"
	"github.com/nholik/broker-sentinel/internal/diagnose"
	"github.com/nholik/broker-sentinel/internal/executor"
	"github.com/nholik/broker-sentinel/internal/fleet"
	"github.com/nholik/broker-sentinel/internal/health"
	"github.com/nholik/broker-sentinel/internal/healthcheck"
	"github.com/nholik/broker-sentinel/internal/logging"
	"github.com/nholik/broker-sentinel/internal/metrics"
	"github.com/nholik/broker-sentinel/internal/notify"
	"github.com/nholik/broker-sentinel/internal/orchestrator"
	"github.com/nholik/broker-sentinel/internal/policy"
	"github.com/nholik/broker-sentinel/internal/state"
	"github.com/rs/zerolog"
)

const (
	backendReadyTimeout   = 10 * time.Second
	backendRestartTimeout = 30 * time.Second
)

// app holds everything built from configuration at startup.
type app struct {
	orch    *orchestrator.Orchestrator
	metrics *metrics.Metrics
	health  *healthcheck.Tracker
	closers []io.Closer
}

func (a *app) Close() {
	for _, c := range a.closers {
		_ = c.Close()
	}
}

func buildApp(ctx context.Context, logger zerolog.Logger, cfg config.Config, f config.Fleet) (*app, error) {
	a := &app{
		metrics: metrics.New(),
		health:  healthcheck.NewTracker(),
	}

	local, executors, err := buildExecutors(logger, f, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	notifier, err := buildNotifier(logger, cfg, f.Email)
	if err != nil {
		a.Close()
		return nil, err
	}

	store, err := buildStore(logger, cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []orchestrator.Option{
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithHealthTracker(a.health),
	}
	if store != nil {
		opts = append(opts, orchestrator.WithStore(store))
	}

	orch, err := orchestrator.New(logging.Component(logger, "orchestrator"), f.Endpoints, orchestrator.Config{
		Policy: policy.Policy{
			MinFailureInterval: f.Monitoring.MinFailureInterval,
			MaxRestartAttempts: f.Monitoring.MaxRestartAttempts,
			Cooldown:           f.Monitoring.RestartCooldown,
		},
		RestartWait: f.Monitoring.RestartWait,
		LogLines:    f.Monitoring.LogLines,
		Workers:     f.Monitoring.Workers,
	}, orchestrator.Dependencies{
		Checker:  health.NewTCPChecker(logging.Component(logger, "probe"), f.Monitoring.ProbeTimeout),
		Executor: executors,
		Analyzer: buildEngine(ctx, logger, f.AI, local),
		Notifier: notifier,
	}, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orch = orch
	return a, nil
}

// buildExecutors creates only the executors the fleet file refers to. The
// local executor always exists because it also restarts the diagnosis backend.
func buildExecutors(logger zerolog.Logger, f config.Fleet, a *app) (*executor.Local, *executor.Set, error) {
	commands := executor.Commands{UseSudo: f.SSH.UseSudo}
	timeouts := executor.Timeouts{
		Restart: f.Monitoring.CommandTimeout,
		Logs:    f.Monitoring.LogTimeout,
	}

	local := executor.NewLocal(logger.With().Str("executor", "local").Logger(), commands, timeouts)
	executors := map[fleet.ExecutorKind]executor.Executor{
		fleet.ExecutorLocal: local,
	}

	if f.UsesExecutor(fleet.ExecutorSSH) {
		sshExec, err := executor.NewSSH(logger.With().Str("executor", "ssh").Logger(), executor.SSHConfig{
			User:           f.SSH.User,
			Port:           f.SSH.Port,
			KeyPath:        f.SSH.KeyPath,
			KnownHostsPath: f.SSH.KnownHostsPath,
		}, commands, timeouts)
		if err != nil {
			return nil, nil, fmt.Errorf("create ssh executor: %w", err)
		}
		executors[fleet.ExecutorSSH] = sshExec
	}

	if f.UsesExecutor(fleet.ExecutorDocker) {
		dockerExec, err := executor.NewDocker(logger.With().Str("executor", "docker").Logger(), f.Docker.Host, timeouts)
		if err != nil {
			return nil, nil, fmt.Errorf("create docker executor: %w", err)
		}
		a.closers = append(a.closers, dockerExec)
		executors[fleet.ExecutorDocker] = dockerExec
	}

	return local, executor.NewSet(executors), nil
}

// buildEngine never fails: an unreachable backend only means the rule-based
// classifier answers until it comes back.
func buildEngine(ctx context.Context, logger zerolog.Logger, ai config.AI, local *executor.Local) *diagnose.Engine {
	engineLogger := logging.Component(logger, "diagnose")
	if !ai.Enabled {
		engineLogger.Info().Msg("ai diagnosis disabled; using rule-based analysis")
		return diagnose.NewEngine(engineLogger)
	}

	backend := diagnose.NewOllama(engineLogger, ai.OllamaURL, ai.Model)

	readyCtx, cancel := context.WithTimeout(ctx, backendReadyTimeout)
	defer cancel()
	if err := backend.Ready(readyCtx); err != nil {
		engineLogger.Warn().Err(err).Str("url", ai.OllamaURL).Str("model", ai.Model).
			Msg("diagnosis backend not ready; falling back to rules until it responds")
	}

	opts := []diagnose.Option{
		diagnose.WithBackend(backend),
		diagnose.WithRetryPolicy(diagnose.RetryPolicy{
			MaxAttempts:    ai.MaxAttempts,
			Delay:          ai.RetryDelay,
			AttemptTimeout: ai.AttemptTimeout,
		}),
		diagnose.WithMaxLogChars(ai.MaxLogChars),
	}
	if len(ai.RestartCommand) > 0 {
		opts = append(opts, diagnose.WithRestarter(backendRestarter(local, ai.RestartCommand)))
	}
	return diagnose.NewEngine(engineLogger, opts...)
}

func backendRestarter(local *executor.Local, argv []string) diagnose.BackendRestarter {
	return diagnose.RestarterFunc(func(ctx context.Context) error {
		result, err := local.Run(ctx, argv, backendRestartTimeout)
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("%s exited with code %d: %s",
				strings.Join(argv, " "), result.ExitCode, strings.TrimSpace(result.Output))
		}
		return nil
	})
}

func buildNotifier(logger zerolog.Logger, cfg config.Config, email config.EmailSpec) (notify.Notifier, error) {
	slack := notify.NewSlackNotifier(logger.With().Str("notifier", "slack").Logger(), cfg.SlackWebhookURL)

	webhook, err := notify.NewWebhookNotifier(logger.With().Str("notifier", "webhook").Logger(), cfg.WebhookURL, cfg.WebhookTemplate)
	if err != nil {
		return nil, fmt.Errorf("create webhook notifier: %w", err)
	}

	mail := notify.NewEmailNotifier(logger.With().Str("notifier", "email").Logger(), notify.EmailConfig{
		Server: email.SMTPServer,
		Port:   email.SMTPPort,
		From:   email.FromEmail,
		To:     email.ToEmails,
	})

	multi := notify.NewMultiNotifier(slack, webhook, mail)
	if multi.Len() == 0 {
		logger.Warn().Msg("no notification channels configured")
	} else {
		logger.Info().Int("channels", multi.Len()).Msg("notification channels configured")
	}

	var notifier notify.Notifier = multi
	if cfg.DryRun {
		notifier = notify.NewDryRunNotifier(logger, notifier)
	}
	return notifier, nil
}

func buildStore(logger zerolog.Logger, cfg config.Config, a *app) (state.Store, error) {
	if cfg.StatePath == "" {
		return nil, nil
	}

	switch cfg.StateBackend {
	case config.StateBackendBolt:
		store, err := state.NewBoltStore(cfg.StatePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil
	case config.StateBackendFile:
		return state.NewFileStore(cfg.StatePath, logging.Component(logger, "state")), nil
	}
	return nil, errors.New("unknown state backend " + cfg.StateBackend)
}
