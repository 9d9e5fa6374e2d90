package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nholik/broker-sentinel/internal/diagnose"
	"github.com/nholik/broker-sentinel/internal/health"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

const (
	slackMaxBlocks = 50
	// slackReservedBlocks accounts for header, context and recommendations blocks in each report message
	slackReservedBlocks  = 3
	slackMaxEndpoints    = slackMaxBlocks - slackReservedBlocks
	slackSectionTextMax  = 2900
	slackReportRateKey   = "report"
	slackTimestampLayout = "2006-01-02 15:04:05 MST"
)

type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	timing     timingConfig
	poster     *httpPoster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; slack notifications disabled")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		timing:     defaultTiming,
	}

	for _, opt := range opts {
		opt(notifier)
	}

	notifier.poster = newHTTPPoster(logger, "slack", webhookURL, "application/json", notifier.timing)

	return notifier
}

// NotifyFailure implements Notifier.
func (n *SlackNotifier) NotifyFailure(ctx context.Context, event FailureEvent) error {
	key := event.Endpoint.Key().String()
	if err := n.send(ctx, key, buildFailureMessage(event)); err != nil {
		return err
	}
	n.logger.Debug().
		Str("endpoint", key).
		Str("incident_id", event.IncidentID).
		Msg("slack failure notification sent")
	return nil
}

// NotifyRecovery implements Notifier.
func (n *SlackNotifier) NotifyRecovery(ctx context.Context, event RecoveryEvent) error {
	key := event.Endpoint.Key().String()
	if err := n.send(ctx, key, buildRecoveryMessage(event)); err != nil {
		return err
	}
	n.logger.Debug().
		Str("endpoint", key).
		Str("incident_id", event.IncidentID).
		Msg("slack recovery notification sent")
	return nil
}

// NotifyReport implements Notifier.
func (n *SlackNotifier) NotifyReport(ctx context.Context, report Report) error {
	messages := buildReportMessages(report)
	for _, message := range messages {
		if err := n.send(ctx, slackReportRateKey, message); err != nil {
			return err
		}
	}
	n.logger.Debug().
		Int("endpoints", len(report.Endpoints)).
		Int("messages", len(messages)).
		Msg("slack report sent")
	return nil
}

func (n *SlackNotifier) send(ctx context.Context, key string, message slack.WebhookMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	return n.poster.post(ctx, key, payload)
}

func (n *SlackNotifier) postOnce(ctx context.Context, payload []byte) error {
	return n.poster.postOnce(ctx, payload)
}

func mrkdwn(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject("mrkdwn", text, false, false)
}

func buildFailureMessage(event FailureEvent) slack.WebhookMessage {
	ep := event.Endpoint
	summary := fmt.Sprintf("ALERT: %s down on %s", strings.ToUpper(ep.Service), ep.Host)
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))
	contextBlock := slack.NewContextBlock("",
		mrkdwn(fmt.Sprintf("Incident: `%s`", event.IncidentID)),
		mrkdwn(event.At.UTC().Format(slackTimestampLayout)),
	)

	restart := "not attempted"
	if event.RestartAttempted {
		restart = fmt.Sprintf("attempt %d failed", event.Attempts)
	}
	fields := []*slack.TextBlockObject{
		mrkdwn("*Endpoint:*\n" + ep.Address()),
		mrkdwn("*Service:*\n" + ep.Service),
		mrkdwn("*Restart:*\n" + restart),
	}
	if event.Diagnosis != nil {
		fields = append(fields, mrkdwn(fmt.Sprintf("*Recommended action:*\n`%s` (%.0f%% confidence, %s)",
			event.Diagnosis.Action, event.Diagnosis.Confidence*100, event.Diagnosis.Source)))
	}
	blocks := []slack.Block{header, contextBlock, slack.NewSectionBlock(nil, fields, nil)}

	if event.Diagnosis != nil {
		blocks = append(blocks, buildDiagnosisBlock(*event.Diagnosis))
	}
	if strings.TrimSpace(event.LogExcerpt) != "" {
		logText := "*Recent logs:*\n```" + excerpt(event.LogExcerpt, slackSectionTextMax-40) + "```"
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn(logText), nil, nil))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func buildDiagnosisBlock(d diagnose.Result) slack.Block {
	text := "*Diagnosis:* " + d.Summary
	if d.Reasoning != "" {
		text += "\n" + d.Reasoning
	}
	return slack.NewSectionBlock(mrkdwn(excerpt(text, slackSectionTextMax)), nil, nil)
}

func buildRecoveryMessage(event RecoveryEvent) slack.WebhookMessage {
	ep := event.Endpoint
	summary := fmt.Sprintf("RECOVERED: %s on %s", strings.ToUpper(ep.Service), ep.Host)
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))

	elements := []slack.MixedElement{mrkdwn(event.RecoveredAt.UTC().Format(slackTimestampLayout))}
	if event.IncidentID != "" {
		elements = append(elements, mrkdwn(fmt.Sprintf("Incident: `%s`", event.IncidentID)))
	}
	contextBlock := slack.NewContextBlock("", elements...)

	fields := []*slack.TextBlockObject{
		mrkdwn("*Endpoint:*\n" + ep.Address()),
		mrkdwn("*Downtime:*\n" + formatDowntime(event.Downtime)),
	}

	blockSet := slack.Blocks{BlockSet: []slack.Block{header, contextBlock, slack.NewSectionBlock(nil, fields, nil)}}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func buildReportMessages(report Report) []slack.WebhookMessage {
	total := len(report.Endpoints)
	if total == 0 {
		return []slack.WebhookMessage{buildReportMessage(report, nil, 1, 1)}
	}

	chunkTotal := (total + slackMaxEndpoints - 1) / slackMaxEndpoints
	messages := make([]slack.WebhookMessage, 0, chunkTotal)

	for i := 0; i < total; i += slackMaxEndpoints {
		end := i + slackMaxEndpoints
		if end > total {
			end = total
		}
		partIndex := (i / slackMaxEndpoints) + 1
		messages = append(messages, buildReportMessage(report, report.Endpoints[i:end], partIndex, chunkTotal))
	}
	return messages
}

func buildReportMessage(report Report, endpoints []diagnose.EndpointHealth, partIndex, partTotal int) slack.WebhookMessage {
	summary := fmt.Sprintf("Cluster report: %d/%d services healthy", report.Cluster.Healthy, len(report.Endpoints))
	if partTotal > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, partIndex, partTotal)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))

	contextElements := []slack.MixedElement{
		mrkdwn(report.GeneratedAt.UTC().Format(slackTimestampLayout)),
		mrkdwn(fmt.Sprintf("Analysis: %s", report.Cluster.Source)),
	}
	if partTotal > 1 {
		contextElements = append(contextElements, mrkdwn(fmt.Sprintf("Batch: %d/%d", partIndex, partTotal)))
	}
	blocks := []slack.Block{header, slack.NewContextBlock("", contextElements...)}

	for _, ep := range endpoints {
		blocks = append(blocks, buildEndpointBlock(ep))
	}

	if partIndex == partTotal {
		text := "*Assessment:* " + report.Cluster.Summary
		if len(report.Cluster.Recommendations) > 0 {
			text += "\n• " + strings.Join(report.Cluster.Recommendations, "\n• ")
		}
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn(excerpt(text, slackSectionTextMax)), nil, nil))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func buildEndpointBlock(ep diagnose.EndpointHealth) slack.Block {
	title := fmt.Sprintf("*%s* `%s`", ep.Endpoint.Key(), statusLabel(ep.Status))

	var fields []*slack.TextBlockObject
	if ep.RestartAttempts > 0 {
		fields = append(fields, mrkdwn(fmt.Sprintf("*Restart attempts:*\n%d", ep.RestartAttempts)))
	}
	if !ep.LastFailureAt.IsZero() {
		fields = append(fields, mrkdwn("*Last failure:*\n"+ep.LastFailureAt.UTC().Format(slackTimestampLayout)))
	}
	return slack.NewSectionBlock(mrkdwn(title), fields, nil)
}

func statusLabel(status health.ServiceStatus) string {
	if status == "" {
		return "UNKNOWN"
	}
	return string(status)
}
