package health

import (
	"context"

	"github.com/nholik/broker-sentinel/internal/fleet"
)

// ServiceStatus represents the health of a monitored endpoint.
type ServiceStatus string

const (
	StatusUp   ServiceStatus = "UP"
	StatusDown ServiceStatus = "DOWN"
)

// FromProbe maps a probe result to a status.
func FromProbe(isUp bool) ServiceStatus {
	if isUp {
		return StatusUp
	}
	return StatusDown
}

// Checker performs a single binary health probe of one endpoint.
// Implementations never retry; callers decide what a false result means.
type Checker interface {
	Check(ctx context.Context, endpoint fleet.Endpoint) bool
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, endpoint fleet.Endpoint) bool

// Check implements Checker.
func (f CheckerFunc) Check(ctx context.Context, endpoint fleet.Endpoint) bool {
	return f(ctx, endpoint)
}
