package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nholik/broker-sentinel/internal/healthcheck"
	"github.com/nholik/broker-sentinel/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Options selects which listeners run. A zero port disables that listener;
// equal ports share one listener.
type Options struct {
	HealthPort    int
	MetricsPort   int
	CheckInterval time.Duration
	Tracker       *healthcheck.Tracker
	Metrics       *metrics.Metrics
}

// Start launches the health and metrics listeners in the background. They
// shut down when ctx is canceled.
func Start(ctx context.Context, logger zerolog.Logger, opts Options) {
	switch {
	case opts.HealthPort == 0 && opts.MetricsPort == 0:
		return
	case opts.HealthPort > 0 && opts.HealthPort == opts.MetricsPort:
		listen(ctx, logger, "health/metrics", opts.HealthPort, combinedMux(opts))
		return
	}

	if opts.HealthPort > 0 {
		mux := http.NewServeMux()
		healthRoutes(mux, opts)
		listen(ctx, logger, "health", opts.HealthPort, mux)
	}
	if opts.MetricsPort > 0 {
		mux := http.NewServeMux()
		metricsRoute(mux, opts.Metrics)
		listen(ctx, logger, "metrics", opts.MetricsPort, mux)
	}
}

func combinedMux(opts Options) *http.ServeMux {
	mux := http.NewServeMux()
	healthRoutes(mux, opts)
	metricsRoute(mux, opts.Metrics)
	return mux
}

func healthRoutes(mux *http.ServeMux, opts Options) {
	mux.HandleFunc("GET /healthz", healthcheck.HealthHandler(opts.Tracker, opts.CheckInterval))
	mux.HandleFunc("GET /readyz", healthcheck.ReadyHandler(opts.Tracker))
	mux.HandleFunc("GET /statusz", healthcheck.StatusHandler(opts.Tracker))
	mux.HandleFunc("GET /statusz/{host}/{service}", healthcheck.EndpointHandler(opts.Tracker))
}

func metricsRoute(mux *http.ServeMux, m *metrics.Metrics) {
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
}

func listen(ctx context.Context, logger zerolog.Logger, name string, port int, handler http.Handler) {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	log := logger.With().Str("listener", name).Int("port", port).Logger()

	go func() {
		log.Info().Msg("http listener starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http listener failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http listener shutdown failed")
		}
	}()
}
