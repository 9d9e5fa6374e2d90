package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// DryRunNotifier logs notifications without sending them.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// NotifyFailure implements Notifier.
func (n *DryRunNotifier) NotifyFailure(_ context.Context, event FailureEvent) error {
	evt := n.logger.Info().
		Str("host", event.Endpoint.Host).
		Str("service", event.Endpoint.Service).
		Str("incident_id", event.IncidentID).
		Bool("restart_attempted", event.RestartAttempted).
		Int("attempts", event.Attempts)
	if event.Diagnosis != nil {
		evt = evt.
			Str("action", string(event.Diagnosis.Action)).
			Float64("confidence", event.Diagnosis.Confidence).
			Str("diagnosis_source", string(event.Diagnosis.Source)).
			Str("summary", event.Diagnosis.Summary)
	}
	evt.Msg("[DRY-RUN] Would notify failure")
	return nil
}

// NotifyRecovery implements Notifier.
func (n *DryRunNotifier) NotifyRecovery(_ context.Context, event RecoveryEvent) error {
	n.logger.Info().
		Str("host", event.Endpoint.Host).
		Str("service", event.Endpoint.Service).
		Str("incident_id", event.IncidentID).
		Dur("downtime", event.Downtime).
		Msg("[DRY-RUN] Would notify recovery")
	return nil
}

// NotifyReport implements Notifier.
func (n *DryRunNotifier) NotifyReport(_ context.Context, report Report) error {
	n.logger.Info().
		Int("healthy", report.Cluster.Healthy).
		Int("failed", report.Cluster.Failed).
		Str("summary", report.Cluster.Summary).
		Strs("recommendations", report.Cluster.Recommendations).
		Msg("[DRY-RUN] Would send report")
	return nil
}
