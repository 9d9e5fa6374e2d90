package runner

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const defaultFailureBackoff = 30 * time.Second

// Ticker is the minimal interface needed for driving the runner loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Runner drives monitoring cycles on a fixed interval.
type Runner struct {
	logger         zerolog.Logger
	pollInterval   time.Duration
	tickerFactory  func(time.Duration) Ticker
	runOnce        func(context.Context) error
	failureBackoff time.Duration
	wait           func(context.Context, time.Duration) error
}

// Option customizes runner behavior.
type Option func(*Runner)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(r *Runner) {
		r.tickerFactory = factory
	}
}

// WithRunOnce sets the single-cycle execution step.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(r *Runner) {
		r.runOnce = runOnce
	}
}

// WithFailureBackoff sets the initial wait after a failed cycle.
func WithFailureBackoff(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.failureBackoff = d
		}
	}
}

// WithWaitFunc overrides how the runner sleeps between a failed cycle and its retry.
func WithWaitFunc(wait func(context.Context, time.Duration) error) Option {
	return func(r *Runner) {
		r.wait = wait
	}
}

// New constructs a Runner with the given logger and poll interval.
func New(logger zerolog.Logger, pollInterval time.Duration, opts ...Option) *Runner {
	r := &Runner{
		logger:       logger,
		pollInterval: pollInterval,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
		runOnce: func(context.Context) error {
			return errors.New("no cycle configured")
		},
		failureBackoff: defaultFailureBackoff,
		wait:           sleepWithContext,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run starts the main loop and blocks until the context is canceled.
// A failed cycle is retried after the fixed failure backoff instead of waiting for the next tick.
func (r *Runner) Run(ctx context.Context) error {
	if r.pollInterval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}

	retry := r.newFailureBackoff()

	// Run immediately on startup
	r.cycle(ctx, retry, "initial run cycle failed")

	ticker := r.tickerFactory(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("runner stopped")
			return nil
		case <-ticker.C():
			r.cycle(ctx, retry, "run cycle failed")
		}
	}
}

// cycle runs until one attempt succeeds or ctx is canceled.
func (r *Runner) cycle(ctx context.Context, retry backoff.BackOff, msg string) {
	for failures := 1; ; failures++ {
		err := r.RunOnce(ctx)
		if err == nil {
			retry.Reset()
			return
		}

		delay := retry.NextBackOff()
		r.logger.Error().
			Err(err).
			Int("consecutive_failures", failures).
			Dur("retry_in", delay).
			Msg(msg)
		if err := r.wait(ctx, delay); err != nil {
			return
		}
		msg = "run cycle retry failed"
	}
}

// RunOnce executes a single cycle. The cycle keeps running when ctx is
// canceled so endpoint handling is never cut off midway; each step carries
// its own timeout.
func (r *Runner) RunOnce(ctx context.Context) error {
	started := time.Now()
	if err := r.runOnce(context.WithoutCancel(ctx)); err != nil {
		return &CycleError{Started: started, Elapsed: time.Since(started), Err: err}
	}
	return nil
}

// newFailureBackoff waits the same fixed delay after every failed cycle.
func (r *Runner) newFailureBackoff() backoff.BackOff {
	return backoff.NewConstantBackOff(r.failureBackoff)
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
