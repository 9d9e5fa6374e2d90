package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/rs/zerolog"
)

const defaultWebhookTemplate = `{"kind":"{{ .Kind }}","generated_at":"{{ .GeneratedAt.Format "2006-01-02T15:04:05Z07:00" }}","event":{{ toJson .Event }}}`

// Webhook payload kinds.
const (
	KindFailure  = "failure"
	KindRecovery = "recovery"
	KindReport   = "report"
)

// WebhookPayload is the template context for webhook notifications. Event holds
// a FailureEvent, RecoveryEvent or Report depending on Kind.
type WebhookPayload struct {
	Kind        string
	Endpoint    string
	Event       any
	GeneratedAt time.Time
}

// WebhookNotifier sends notifications to a generic webhook.
type WebhookNotifier struct {
	logger   zerolog.Logger
	template *template.Template
	poster   *httpPoster
}

// NewWebhookNotifier creates a webhook notifier with the provided template.
// It returns nil when webhookURL is empty.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL string, tmpl string) (*WebhookNotifier, error) {
	return newWebhookNotifier(logger, webhookURL, tmpl, defaultTiming)
}

func newWebhookNotifier(logger zerolog.Logger, webhookURL string, tmpl string, timing timingConfig) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}

	parsed, err := template.New("webhook").Funcs(template.FuncMap{
		"toJson": func(v any) (string, error) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	return &WebhookNotifier{
		logger:   logger,
		template: parsed,
		poster:   newHTTPPoster(logger, "webhook", webhookURL, "application/json", timing),
	}, nil
}

// NotifyFailure implements Notifier.
func (n *WebhookNotifier) NotifyFailure(ctx context.Context, event FailureEvent) error {
	return n.deliver(ctx, WebhookPayload{
		Kind:     KindFailure,
		Endpoint: event.Endpoint.Key().String(),
		Event:    event,
	})
}

// NotifyRecovery implements Notifier.
func (n *WebhookNotifier) NotifyRecovery(ctx context.Context, event RecoveryEvent) error {
	return n.deliver(ctx, WebhookPayload{
		Kind:     KindRecovery,
		Endpoint: event.Endpoint.Key().String(),
		Event:    event,
	})
}

// NotifyReport implements Notifier.
func (n *WebhookNotifier) NotifyReport(ctx context.Context, report Report) error {
	return n.deliver(ctx, WebhookPayload{
		Kind:     KindReport,
		Endpoint: KindReport,
		Event:    report,
	})
}

func (n *WebhookNotifier) deliver(ctx context.Context, payload WebhookPayload) error {
	if n == nil {
		return nil
	}

	payload.GeneratedAt = time.Now().UTC()

	var buf bytes.Buffer
	if err := n.template.Execute(&buf, payload); err != nil {
		return fmt.Errorf("render webhook template: %w", err)
	}

	if err := n.poster.post(ctx, payload.Endpoint, buf.Bytes()); err != nil {
		return err
	}

	n.logger.Debug().
		Str("kind", payload.Kind).
		Str("endpoint", payload.Endpoint).
		Msg("webhook notification sent")

	return nil
}
