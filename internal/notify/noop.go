package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// NoopNotifier is used when no channel is configured. Events are only logged
// at debug level.
type NoopNotifier struct {
	logger zerolog.Logger
}

// NewNoop returns a notifier that drops every event. A non-empty reason is
// logged once at construction.
func NewNoop(logger zerolog.Logger, reason string) *NoopNotifier {
	if reason != "" {
		logger.Info().Msg(reason)
	}
	return &NoopNotifier{logger: logger}
}

// NotifyFailure implements Notifier.
func (n *NoopNotifier) NotifyFailure(_ context.Context, event FailureEvent) error {
	n.logger.Debug().Str("endpoint", event.Endpoint.Key().String()).Msg("failure notice dropped")
	return nil
}

// NotifyRecovery implements Notifier.
func (n *NoopNotifier) NotifyRecovery(_ context.Context, event RecoveryEvent) error {
	n.logger.Debug().Str("endpoint", event.Endpoint.Key().String()).Msg("recovery notice dropped")
	return nil
}

// NotifyReport implements Notifier.
func (n *NoopNotifier) NotifyReport(_ context.Context, report Report) error {
	n.logger.Debug().Int("endpoints", len(report.Endpoints)).Msg("cluster report dropped")
	return nil
}
