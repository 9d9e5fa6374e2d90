package diagnose

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nholik/broker-sentinel/internal/health"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// RetryPolicy bounds how long the engine waits on the backend.
type RetryPolicy struct {
	MaxAttempts    int
	Delay          time.Duration
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns 3 attempts, 5s apart, 120s each.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		Delay:          5 * time.Second,
		AttemptTimeout: 120 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Delay < 0 {
		p.Delay = d.Delay
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	return p
}

// BackendRestarter tries to bring an unreachable backend back.
type BackendRestarter interface {
	RestartBackend(ctx context.Context) error
}

// RestarterFunc adapts a function to BackendRestarter.
type RestarterFunc func(ctx context.Context) error

// RestartBackend implements BackendRestarter.
func (f RestarterFunc) RestartBackend(ctx context.Context) error {
	return f(ctx)
}

// Engine produces diagnoses. A nil backend means rules only.
type Engine struct {
	logger      zerolog.Logger
	backend     Backend
	restarter   BackendRestarter
	policy      RetryPolicy
	breaker     *gobreaker.CircuitBreaker
	maxLogChars int
}

// Option configures an Engine.
type Option func(*Engine)

// WithBackend enables the LLM path.
func WithBackend(b Backend) Option {
	return func(e *Engine) {
		e.backend = b
	}
}

// WithRestarter sets the hook run when the backend cannot be reached on the first attempt.
func WithRestarter(r BackendRestarter) Option {
	return func(e *Engine) {
		e.restarter = r
	}
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) {
		e.policy = p.withDefaults()
	}
}

// WithMaxLogChars bounds the log excerpt embedded in prompts.
func WithMaxLogChars(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxLogChars = n
		}
	}
}

// WithBreakerSettings replaces the default circuit breaker.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(e *Engine) {
		e.breaker = gobreaker.NewCircuitBreaker(st)
	}
}

// NewEngine builds an Engine.
func NewEngine(logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		logger:      logger,
		policy:      DefaultRetryPolicy(),
		maxLogChars: defaultMaxLogChars,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.breaker == nil {
		e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "diagnosis-backend",
			Timeout: 5 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("diagnosis backend circuit changed state")
			},
		})
	}
	return e
}

// Analyze diagnoses logText. It never fails: backend problems fall back to Classify.
func (e *Engine) Analyze(ctx context.Context, logText string, c Context) Result {
	logger := e.logger.With().
		Str("host", c.Endpoint.Host).
		Str("service", c.Endpoint.Service).
		Logger()

	if e.backend == nil {
		return Classify(logText)
	}

	prompt, err := buildAnalysisPrompt(logText, c, e.maxLogChars)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build diagnosis prompt")
		return Classify(logText)
	}

	response, err := e.generate(ctx, logger, prompt)
	if err != nil {
		logger.Warn().Err(err).Msg("diagnosis backend unavailable, using rule-based analysis")
		return Classify(logText)
	}

	result, err := ParseResponse(response)
	if err != nil {
		logger.Warn().Err(err).Msg("diagnosis response unusable, using rule-based analysis")
		return Classify(logText)
	}
	return result
}

// AnalyzeCluster summarizes the fleet and recommends next steps.
func (e *Engine) AnalyzeCluster(ctx context.Context, endpoints []EndpointHealth) ClusterDiagnosis {
	fallback := SummarizeCluster(endpoints)
	if e.backend == nil {
		return fallback
	}

	prompt, err := buildClusterPrompt(endpoints)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to build cluster prompt")
		return fallback
	}

	response, err := e.generate(ctx, e.logger, prompt)
	if err != nil {
		e.logger.Warn().Err(err).Msg("diagnosis backend unavailable, using rule-based cluster summary")
		return fallback
	}

	sections := parseSections(response, "ASSESSMENT", "RECOMMENDATIONS")
	if sections["ASSESSMENT"] == "" {
		e.logger.Warn().Msg("cluster response unusable, using rule-based cluster summary")
		return fallback
	}

	return ClusterDiagnosis{
		Summary:         sections["ASSESSMENT"],
		Recommendations: listItems(sections["RECOMMENDATIONS"]),
		Healthy:         fallback.Healthy,
		Failed:          fallback.Failed,
		Source:          SourceAI,
	}
}

func (e *Engine) generate(ctx context.Context, logger zerolog.Logger, prompt string) (string, error) {
	var (
		response string
		attempt  int
	)

	operation := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, e.policy.AttemptTimeout)
		defer cancel()

		out, err := e.breaker.Execute(func() (interface{}, error) {
			text, genErr := e.backend.Generate(attemptCtx, prompt)
			return text, genErr
		})
		if err == nil {
			response = out.(string)
			return nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", e.policy.MaxAttempts).
			Msg("diagnosis backend attempt failed")

		var be *BackendError
		if errors.As(err, &be) {
			if be.Connection && attempt == 1 && e.restarter != nil {
				e.restartBackend(ctx, logger)
			}
			if !be.Retryable {
				return backoff.Permanent(err)
			}
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.policy.Delay), uint64(e.policy.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", fmt.Errorf("diagnosis backend failed after %d attempt(s): %w", attempt, err)
	}
	return response, nil
}

func (e *Engine) restartBackend(ctx context.Context, logger zerolog.Logger) {
	logger.Info().Msg("diagnosis backend unreachable, attempting restart")
	if err := e.restarter.RestartBackend(ctx); err != nil {
		logger.Error().Err(err).Msg("diagnosis backend restart failed")
		return
	}
	logger.Info().Msg("diagnosis backend restart issued")
}

// SummarizeCluster is the deterministic cluster summary. Zookeeper failures
// come first since every broker depends on the ensemble.
func SummarizeCluster(endpoints []EndpointHealth) ClusterDiagnosis {
	var failed []EndpointHealth
	for _, ep := range endpoints {
		if ep.Status == health.StatusDown {
			failed = append(failed, ep)
		}
	}

	d := ClusterDiagnosis{
		Healthy: len(endpoints) - len(failed),
		Failed:  len(failed),
		Source:  SourceRules,
	}

	if len(failed) == 0 {
		d.Summary = fmt.Sprintf("All %d services are healthy.", len(endpoints))
		return d
	}

	sort.SliceStable(failed, func(i, j int) bool {
		return isZookeeper(failed[i]) && !isZookeeper(failed[j])
	})

	zk := 0
	for _, ep := range failed {
		if isZookeeper(ep) {
			zk++
			d.Recommendations = append(d.Recommendations, fmt.Sprintf(
				"Restore %s first; Kafka brokers cannot register while the ensemble is degraded.", ep.Endpoint.Key()))
			continue
		}
		rec := fmt.Sprintf("Investigate %s", ep.Endpoint.Key())
		if ep.RestartAttempts > 0 {
			rec += fmt.Sprintf(" (%d restart attempts so far)", ep.RestartAttempts)
		}
		d.Recommendations = append(d.Recommendations, rec+".")
	}

	d.Summary = fmt.Sprintf("%d of %d services are down.", len(failed), len(endpoints))
	if zk > 0 {
		d.Summary += fmt.Sprintf(" %d Zookeeper node(s) affected; cluster coordination is at risk.", zk)
	}
	return d
}

func isZookeeper(ep EndpointHealth) bool {
	return strings.Contains(strings.ToLower(ep.Endpoint.Service), "zookeeper")
}

func listItems(section string) []string {
	var items []string
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		if i := strings.Index(line, ". "); i > 0 && i <= 3 && isDigits(line[:i]) {
			line = line[i+2:]
		}
		if line = strings.TrimSpace(line); line != "" {
			items = append(items, line)
		}
	}
	return items
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
