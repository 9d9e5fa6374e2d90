package state

import (
	"context"
	"time"

	"github.com/nholik/broker-sentinel/internal/fleet"
	"github.com/nholik/broker-sentinel/internal/health"
)

// ServiceState is the tracked state of one endpoint.
type ServiceState struct {
	Host            string               `json:"host"`
	Service         string               `json:"service"`
	Status          health.ServiceStatus `json:"status"`
	LastFailureAt   time.Time            `json:"last_failure_at,omitempty"`
	RestartAttempts int                  `json:"restart_attempts"`
	LastCheckedAt   time.Time            `json:"last_checked_at,omitempty"`
	LastRecoveryAt  time.Time            `json:"last_recovery_at,omitempty"`
}

// Key returns the (host, service) key of the state entry.
func (s ServiceState) Key() fleet.Key {
	return fleet.Key{Host: s.Host, Service: s.Service}
}

// HasFailed reports whether a failure has ever been recorded.
func (s ServiceState) HasFailed() bool {
	return !s.LastFailureAt.IsZero()
}

// Snapshot is the persisted view of all endpoint states.
type Snapshot struct {
	Services map[string]ServiceState `json:"services"`
	SavedAt  time.Time               `json:"saved_at"`
}

// Store defines the interface for persisting snapshots.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
}

func emptySnapshot() Snapshot {
	return Snapshot{Services: map[string]ServiceState{}}
}
