package executor

import (
	"context"
	"fmt"

	"github.com/nholik/broker-sentinel/internal/fleet"
)

// Set dispatches each endpoint to the executor selected for its server in the
// fleet file. The mapping is fixed when the Set is built.
type Set struct {
	executors map[fleet.ExecutorKind]Executor
}

// NewSet builds a Set. Nil executors are ignored.
func NewSet(executors map[fleet.ExecutorKind]Executor) *Set {
	filtered := make(map[fleet.ExecutorKind]Executor, len(executors))
	for kind, exec := range executors {
		if exec == nil {
			continue
		}
		filtered[kind] = exec
	}
	return &Set{executors: filtered}
}

// For returns the executor configured for endpoint.
func (s *Set) For(endpoint fleet.Endpoint) (Executor, error) {
	exec, ok := s.executors[endpoint.Executor]
	if !ok {
		return nil, fmt.Errorf("no %q executor configured for %s", endpoint.Executor, endpoint.Key())
	}
	return exec, nil
}

// Restart implements Executor.
func (s *Set) Restart(ctx context.Context, endpoint fleet.Endpoint) (Result, error) {
	exec, err := s.For(endpoint)
	if err != nil {
		return Result{}, &ExecutionError{Op: "restart", Endpoint: endpoint.Key(), Err: err}
	}
	return exec.Restart(ctx, endpoint)
}

// FetchLogs implements Executor.
func (s *Set) FetchLogs(ctx context.Context, endpoint fleet.Endpoint, maxLines int) (string, error) {
	exec, err := s.For(endpoint)
	if err != nil {
		return "", &ExecutionError{Op: "fetch logs", Endpoint: endpoint.Key(), Err: err}
	}
	return exec.FetchLogs(ctx, endpoint, maxLines)
}
