package coordinator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/nholik/broker-sentinel/internal/fleet"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Handler processes one endpoint to completion.
type Handler func(ctx context.Context, endpoint fleet.Endpoint) error

// EndpointError records a failure or panic while handling one endpoint.
type EndpointError struct {
	Endpoint fleet.Key
	Err      error
	Panic    bool
}

func (e *EndpointError) Error() string {
	if e.Panic {
		return fmt.Sprintf("endpoint %s panicked: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("endpoint %s: %v", e.Endpoint, e.Err)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}

// Coordinator fans endpoints out over a bounded set of workers. Each endpoint
// is handled by exactly one goroutine per dispatch; with one worker endpoints
// run strictly in order.
type Coordinator struct {
	logger         zerolog.Logger
	workers        int
	endpointErrors map[fleet.Key]error
	mu             sync.RWMutex
}

// New constructs a Coordinator. Fewer than one worker means one.
func New(logger zerolog.Logger, workers int) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{
		logger:         logger,
		workers:        workers,
		endpointErrors: make(map[fleet.Key]error),
	}
}

// Dispatch runs handle for every endpoint and blocks until all are done.
// A failing or panicking endpoint never stops the others. The returned map
// holds one *EndpointError per failed endpoint and is nil when all succeeded.
func (c *Coordinator) Dispatch(ctx context.Context, endpoints []fleet.Endpoint, handle Handler) map[fleet.Key]error {
	c.mu.Lock()
	c.endpointErrors = make(map[fleet.Key]error)
	c.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(c.workers)

	for _, ep := range endpoints {
		ep := ep
		g.Go(func() error {
			if err := c.handleOne(ctx, ep, handle); err != nil {
				c.recordError(ep.Key(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return c.Errors()
}

func (c *Coordinator) handleOne(ctx context.Context, ep fleet.Endpoint, handle Handler) (err error) {
	logger := c.logger.With().Str("host", ep.Host).Str("service", ep.Service).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("endpoint handler panicked")
			err = &EndpointError{Endpoint: ep.Key(), Err: fmt.Errorf("%v", r), Panic: true}
		}
	}()

	if err := handle(ctx, ep); err != nil {
		logger.Error().Err(err).Msg("endpoint handler failed")
		return &EndpointError{Endpoint: ep.Key(), Err: err}
	}
	return nil
}

func (c *Coordinator) recordError(key fleet.Key, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpointErrors[key] = err
}

// Errors returns a copy of the errors recorded by the last dispatch.
func (c *Coordinator) Errors() map[fleet.Key]error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.endpointErrors) == 0 {
		return nil
	}
	result := make(map[fleet.Key]error, len(c.endpointErrors))
	for k, v := range c.endpointErrors {
		result[k] = v
	}
	return result
}

// Workers returns the concurrency limit.
func (c *Coordinator) Workers() int {
	return c.workers
}
