// Package orchestrator runs the per-endpoint monitoring and remediation flow.
//
// For every endpoint in a cycle: probe, update the tracker, and when the
// endpoint is down and the policy allows it, restart, wait for the service to
// settle and probe again. A restart that does not bring the endpoint back is
// followed by log collection, diagnosis and a failure notification.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nholik/broker-sentinel/internal/coordinator"
	"github.com/nholik/broker-sentinel/internal/diagnose"
	"github.com/nholik/broker-sentinel/internal/executor"
	"github.com/nholik/broker-sentinel/internal/fleet"
	"github.com/nholik/broker-sentinel/internal/health"
	"github.com/nholik/broker-sentinel/internal/healthcheck"
	"github.com/nholik/broker-sentinel/internal/metrics"
	"github.com/nholik/broker-sentinel/internal/notify"
	"github.com/nholik/broker-sentinel/internal/policy"
	"github.com/nholik/broker-sentinel/internal/state"
	"github.com/nholik/broker-sentinel/internal/transition"
	"github.com/rs/zerolog"
)

// Analyzer produces diagnoses. *diagnose.Engine satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, logText string, c diagnose.Context) diagnose.Result
	AnalyzeCluster(ctx context.Context, endpoints []diagnose.EndpointHealth) diagnose.ClusterDiagnosis
}

// Config holds the remediation settings.
type Config struct {
	Policy      policy.Policy
	RestartWait time.Duration
	LogLines    int
	Workers     int
}

// Dependencies are the collaborators every orchestrator needs.
type Dependencies struct {
	Checker  health.Checker
	Executor executor.Executor
	Analyzer Analyzer
	Notifier notify.Notifier
}

// Orchestrator owns the tracker and drives one cycle at a time.
type Orchestrator struct {
	logger      zerolog.Logger
	endpoints   []fleet.Endpoint
	cfg         Config
	deps        Dependencies
	tracker     *state.Tracker
	coordinator *coordinator.Coordinator
	store       state.Store
	metrics     *metrics.Metrics
	health      *healthcheck.Tracker
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
	newID       func() string

	mu        sync.Mutex
	incidents map[fleet.Key]string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithStore persists a snapshot after every cycle and enriches reports.
func WithStore(store state.Store) Option {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// WithMetrics records cycle and remediation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithHealthTracker feeds /healthz, /readyz and /statusz.
func WithHealthTracker(t *healthcheck.Tracker) Option {
	return func(o *Orchestrator) {
		o.health = t
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithSleep overrides the settle delay wait.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

// WithIncidentIDs overrides incident id generation.
func WithIncidentIDs(newID func() string) Option {
	return func(o *Orchestrator) {
		o.newID = newID
	}
}

// New builds an Orchestrator with one UP tracker entry per endpoint.
func New(logger zerolog.Logger, endpoints []fleet.Endpoint, cfg Config, deps Dependencies, opts ...Option) (*Orchestrator, error) {
	if deps.Checker == nil {
		return nil, errors.New("health checker is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if deps.Analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewNoop(logger, "")
	}

	o := &Orchestrator{
		logger:      logger,
		endpoints:   endpoints,
		cfg:         cfg,
		deps:        deps,
		tracker:     state.NewTracker(endpoints, cfg.Policy.MaxRestartAttempts),
		coordinator: coordinator.New(logger, cfg.Workers),
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepWithContext,
		newID:       uuid.NewString,
		incidents:   make(map[fleet.Key]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Tracker exposes the state tracker for read access.
func (o *Orchestrator) Tracker() *state.Tracker {
	return o.tracker
}

// RunCycle handles every endpoint once. It fails only when no endpoint could
// be handled or the snapshot could not be saved.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	start := time.Now()

	errs := o.coordinator.Dispatch(ctx, o.endpoints, o.HandleEndpoint)
	states := o.tracker.States()

	up, down := countStatuses(states)
	o.metrics.SetEndpointsTotal(string(health.StatusUp), up)
	o.metrics.SetEndpointsTotal(string(health.StatusDown), down)

	var cycleErr error
	if len(errs) > 0 && len(errs) == len(o.endpoints) {
		joined := make([]error, 0, len(errs))
		for _, err := range errs {
			joined = append(joined, err)
		}
		cycleErr = fmt.Errorf("all %d endpoints failed: %w", len(errs), errors.Join(joined...))
	}

	if err := o.saveSnapshot(ctx); err != nil {
		cycleErr = errors.Join(cycleErr, fmt.Errorf("save snapshot: %w", err))
	}

	duration := time.Since(start)
	o.metrics.ObserveCycleDuration(duration)
	if cycleErr != nil {
		o.metrics.IncCycleErrors()
		return cycleErr
	}

	o.metrics.SetLastSuccessfulCycleTimestamp(o.now())
	o.health.RecordCycle(duration, states)
	o.logger.Info().
		Int("endpoints", len(states)).
		Int("up", up).
		Int("down", down).
		Int("errors", len(errs)).
		Int("workers", o.coordinator.Workers()).
		Dur("duration", duration).
		Msg("cycle complete")
	return nil
}

// HandleEndpoint runs the check and remediation flow for one endpoint.
func (o *Orchestrator) HandleEndpoint(ctx context.Context, ep fleet.Endpoint) error {
	logger := o.logger.With().Str("host", ep.Host).Str("service", ep.Service).Logger()
	key := ep.Key()

	isUp := o.deps.Checker.Check(ctx, ep)
	now := o.now()

	event, err := o.tracker.Observe(key, isUp, now)
	if err != nil {
		return err
	}
	if event != nil {
		o.handleTransition(ctx, logger, ep, event)
	}
	if isUp {
		logger.Debug().Msg("service up")
		return nil
	}

	current, ok := o.tracker.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s", state.ErrUnknownEndpoint, key)
	}

	newlyDown := event != nil && event.Kind == transition.FailureDetected
	decision := o.cfg.Policy.Evaluate(current, now, newlyDown)
	if !decision.Allowed {
		logger.Info().
			Str("reason", string(decision.Reason)).
			Int("attempts", current.RestartAttempts).
			Msg("remediation skipped")
		return nil
	}

	return o.remediate(ctx, logger, ep, decision)
}

func (o *Orchestrator) handleTransition(ctx context.Context, logger zerolog.Logger, ep fleet.Endpoint, event *transition.Event) {
	key := ep.Key()

	switch event.Kind {
	case transition.FailureDetected:
		id := o.openIncident(key)
		logger.Warn().Str("incident_id", id).Msg("service down")

	case transition.RecoveryDetected:
		id := o.closeIncident(key)
		logger.Info().
			Str("incident_id", id).
			Dur("downtime", event.Downtime).
			Msg("service recovered")

		recovery := notify.RecoveryEvent{
			Endpoint:    ep,
			IncidentID:  id,
			RecoveredAt: event.At,
			Downtime:    event.Downtime,
		}
		if err := o.deps.Notifier.NotifyRecovery(ctx, recovery); err != nil {
			logger.Error().Err(err).Msg("failed to send recovery notification")
			o.metrics.IncNotificationErrors(notify.KindRecovery)
		}
	}
}

func (o *Orchestrator) remediate(ctx context.Context, logger zerolog.Logger, ep fleet.Endpoint, decision policy.Decision) error {
	key := ep.Key()

	if decision.ResetBudget {
		if err := o.tracker.ResetAttempts(key); err != nil {
			return err
		}
		logger.Info().Msg("restart budget renewed after cooldown")
	}

	attempt, err := o.tracker.RecordAttempt(key)
	if err != nil {
		return err
	}
	logger = logger.With().Int("attempt", attempt).Logger()
	logger.Info().Str("reason", string(decision.Reason)).Msg("attempting restart")

	result, err := o.deps.Executor.Restart(ctx, ep)
	output := result.Output

	switch {
	case err != nil:
		logger.Error().Err(err).Msg("restart command failed")
		if output == "" {
			output = err.Error()
		}
		o.metrics.IncRemediations(ep.Service, metrics.ResultError)

	case !result.Success:
		logger.Warn().Int("exit_code", result.ExitCode).Msg("restart command exited non-zero")
		o.metrics.IncRemediations(ep.Service, metrics.ResultFailed)

	default:
		if err := o.sleep(ctx, o.cfg.RestartWait); err != nil {
			return err
		}
		if o.deps.Checker.Check(ctx, ep) {
			o.metrics.IncRemediations(ep.Service, metrics.ResultRecovered)
			logger.Info().Msg("restart succeeded")
			event, err := o.tracker.Observe(key, true, o.now())
			if err != nil {
				return err
			}
			if event != nil {
				o.handleTransition(ctx, logger, ep, event)
			}
			return nil
		}
		logger.Warn().Msg("service still down after restart")
		o.metrics.IncRemediations(ep.Service, metrics.ResultFailed)
	}

	o.escalate(ctx, logger, ep, attempt, output)
	return nil
}

// escalate collects logs, diagnoses and always notifies.
func (o *Orchestrator) escalate(ctx context.Context, logger zerolog.Logger, ep fleet.Endpoint, attempt int, restartOutput string) {
	now := o.now()

	logs, err := o.deps.Executor.FetchLogs(ctx, ep, o.cfg.LogLines)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to fetch logs")
		logs = fmt.Sprintf("Failed to retrieve logs: %v", err)
	}

	diagnosis := o.deps.Analyzer.Analyze(ctx, logs, diagnose.Context{
		Endpoint:         ep,
		RestartAttempted: true,
		Attempts:         attempt,
		RestartOutput:    restartOutput,
		At:               now,
	})
	o.metrics.IncDiagnoses(string(diagnosis.Source))

	logger.Info().
		Str("action", string(diagnosis.Action)).
		Float64("confidence", diagnosis.Confidence).
		Str("source", string(diagnosis.Source)).
		Msg("diagnosis complete")

	event := notify.FailureEvent{
		Endpoint:         ep,
		IncidentID:       o.incidentFor(ep.Key()),
		At:               now,
		RestartAttempted: true,
		Attempts:         attempt,
		RestartOutput:    restartOutput,
		LogExcerpt:       logs,
		Diagnosis:        &diagnosis,
	}
	if err := o.deps.Notifier.NotifyFailure(ctx, event); err != nil {
		logger.Error().Err(err).Msg("failed to send failure notification")
		o.metrics.IncNotificationErrors(notify.KindFailure)
	}
}

// Report probes every endpoint, asks for a cluster diagnosis and sends one
// report. Attempt counts and failure times come from the last saved snapshot.
func (o *Orchestrator) Report(ctx context.Context) error {
	now := o.now()
	previous := o.loadSnapshot(ctx)

	var mu sync.Mutex
	results := make(map[fleet.Key]bool, len(o.endpoints))
	o.coordinator.Dispatch(ctx, o.endpoints, func(ctx context.Context, ep fleet.Endpoint) error {
		up := o.deps.Checker.Check(ctx, ep)
		mu.Lock()
		results[ep.Key()] = up
		mu.Unlock()
		return nil
	})

	entries := make([]diagnose.EndpointHealth, 0, len(o.endpoints))
	for _, ep := range o.endpoints {
		entry := diagnose.EndpointHealth{
			Endpoint: ep,
			Status:   health.FromProbe(results[ep.Key()]),
		}
		if prev, ok := previous.Services[ep.Key().String()]; ok {
			entry.RestartAttempts = prev.RestartAttempts
			entry.LastFailureAt = prev.LastFailureAt
		}
		entries = append(entries, entry)
	}

	cluster := o.deps.Analyzer.AnalyzeCluster(ctx, entries)
	o.metrics.IncDiagnoses(string(cluster.Source))

	o.logger.Info().
		Int("healthy", cluster.Healthy).
		Int("failed", cluster.Failed).
		Str("source", string(cluster.Source)).
		Msg("cluster report generated")

	report := notify.Report{GeneratedAt: now, Endpoints: entries, Cluster: cluster}
	if err := o.deps.Notifier.NotifyReport(ctx, report); err != nil {
		o.metrics.IncNotificationErrors(notify.KindReport)
		return fmt.Errorf("send report: %w", err)
	}
	return nil
}

func (o *Orchestrator) saveSnapshot(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	return o.store.Save(ctx, o.tracker.Snapshot(o.now()))
}

func (o *Orchestrator) loadSnapshot(ctx context.Context) state.Snapshot {
	if o.store == nil {
		return state.Snapshot{}
	}
	snapshot, err := o.store.Load(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to load state snapshot for report")
		return state.Snapshot{}
	}
	return snapshot
}

func (o *Orchestrator) openIncident(key fleet.Key) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.newID()
	o.incidents[key] = id
	return id
}

// incidentFor returns the open incident of key, opening one if needed.
func (o *Orchestrator) incidentFor(key fleet.Key) string {
	o.mu.Lock()
	id, ok := o.incidents[key]
	o.mu.Unlock()
	if ok {
		return id
	}
	return o.openIncident(key)
}

func (o *Orchestrator) closeIncident(key fleet.Key) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.incidents[key]
	delete(o.incidents, key)
	return id
}

func countStatuses(states []state.ServiceState) (up, down int) {
	for _, s := range states {
		if s.Status == health.StatusDown {
			down++
		} else {
			up++
		}
	}
	return up, down
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
