package notify

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/nholik/broker-sentinel/internal/diagnose"
	"github.com/nholik/broker-sentinel/internal/fleet"
)

// Notifier delivers failure, recovery and report messages to external systems.
type Notifier interface {
	NotifyFailure(ctx context.Context, event FailureEvent) error
	NotifyRecovery(ctx context.Context, event RecoveryEvent) error
	NotifyReport(ctx context.Context, report Report) error
}

// FailureEvent is sent when an endpoint is down and remediation did not bring it back.
type FailureEvent struct {
	Endpoint         fleet.Endpoint   `json:"endpoint"`
	IncidentID       string           `json:"incident_id"`
	At               time.Time        `json:"at"`
	RestartAttempted bool             `json:"restart_attempted"`
	Attempts         int              `json:"attempts"`
	RestartOutput    string           `json:"restart_output,omitempty"`
	LogExcerpt       string           `json:"log_excerpt,omitempty"`
	Diagnosis        *diagnose.Result `json:"diagnosis,omitempty"`
}

// RecoveryEvent is sent on a DOWN to UP transition.
type RecoveryEvent struct {
	Endpoint    fleet.Endpoint `json:"endpoint"`
	IncidentID  string         `json:"incident_id,omitempty"`
	RecoveredAt time.Time      `json:"recovered_at"`
	Downtime    time.Duration  `json:"downtime_ns"`
}

// Report is the on-demand cluster summary.
type Report struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	Endpoints   []diagnose.EndpointHealth `json:"endpoints"`
	Cluster     diagnose.ClusterDiagnosis `json:"cluster"`
}

const excerptLimit = 1500

// excerpt keeps the tail of a log for message bodies.
func excerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := len(s) - limit
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "…" + s[cut:]
}

func formatDowntime(d time.Duration) string {
	if d <= 0 {
		return "unknown"
	}
	return d.Round(time.Second).String()
}
