package transition

import (
	"time"

	"github.com/nholik/broker-sentinel/internal/fleet"
	"github.com/nholik/broker-sentinel/internal/health"
)

// Kind names the state change an event reports.
type Kind string

const (
	FailureDetected  Kind = "FAILURE_DETECTED"
	RecoveryDetected Kind = "RECOVERY_DETECTED"
)

// Event captures a status transition of one endpoint.
type Event struct {
	Key            fleet.Key
	Kind           Kind
	PreviousStatus health.ServiceStatus
	CurrentStatus  health.ServiceStatus
	At             time.Time
	// Downtime is set on recovery when the failure time is known.
	Downtime time.Duration
}

// Detect applies the transition rule for a single probe result. It returns the
// new status and, only when the status changed, the kind of change. Repeated
// identical results are silent.
func Detect(previous health.ServiceStatus, isUp bool) (health.ServiceStatus, *Kind) {
	switch {
	case previous == health.StatusUp && !isUp:
		kind := FailureDetected
		return health.StatusDown, &kind
	case previous == health.StatusDown && isUp:
		kind := RecoveryDetected
		return health.StatusUp, &kind
	default:
		return previous, nil
	}
}
