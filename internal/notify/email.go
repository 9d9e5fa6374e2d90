package notify

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

var emailFuncs = template.FuncMap{
	"percent": func(f float64) string { return strconv.FormatFloat(f*100, 'f', 0, 64) + "%" },
	"upper":   strings.ToUpper,
	"stamp":   func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04:05 MST") },
	"since":   formatDowntime,
	"tail":    func(s string) string { return excerpt(s, excerptLimit) },
}

var failureEmail = template.Must(template.New("failure").Funcs(emailFuncs).Parse(
	`Service {{upper .Endpoint.Service}} on {{.Endpoint.Host}} is DOWN.

Incident:  {{.IncidentID}}
Detected:  {{stamp .At}}
Endpoint:  {{.Endpoint.Address}}
Restart:   {{if .RestartAttempted}}attempt {{.Attempts}} failed{{else}}not attempted{{end}}
{{- with .Diagnosis}}

DIAGNOSIS ({{.Source}})
Summary:   {{.Summary}}
Action:    {{.Action}} ({{percent .Confidence}} confidence)
Reasoning: {{.Reasoning}}
{{- end}}
{{- if .RestartOutput}}

RESTART OUTPUT
{{.RestartOutput}}
{{- end}}
{{- if .LogExcerpt}}

RECENT LOGS
{{tail .LogExcerpt}}
{{- end}}
`))

var recoveryEmail = template.Must(template.New("recovery").Funcs(emailFuncs).Parse(
	`Service {{upper .Endpoint.Service}} on {{.Endpoint.Host}} has RECOVERED.

Incident:  {{if .IncidentID}}{{.IncidentID}}{{else}}n/a{{end}}
Recovered: {{stamp .RecoveredAt}}
Downtime:  {{since .Downtime}}
`))

var reportEmail = template.Must(template.New("report").Funcs(emailFuncs).Parse(
	`Cluster report generated {{stamp .GeneratedAt}}

Healthy: {{.Cluster.Healthy}}  Failed: {{.Cluster.Failed}}  Analysis: {{.Cluster.Source}}

ASSESSMENT
{{.Cluster.Summary}}
{{- if .Cluster.Recommendations}}

RECOMMENDATIONS
{{- range .Cluster.Recommendations}}
- {{.}}
{{- end}}
{{- end}}

SERVICES
{{- range .Endpoints}}
{{.Endpoint.Host}}:{{.Endpoint.Service}}  {{.Status}}{{if .RestartAttempts}}  attempts={{.RestartAttempts}}{{end}}{{if not .LastFailureAt.IsZero}}  last_failure={{stamp .LastFailureAt}}{{end}}
{{- end}}
`))

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Server string
	Port   int
	From   string
	To     []string
}

// mailSender delivers one composed message.
type mailSender func(ctx context.Context, msg *mail.Msg) error

// EmailNotifier sends plain-text mail through an SMTP relay. STARTTLS is used
// when the relay offers it.
type EmailNotifier struct {
	logger  zerolog.Logger
	cfg     EmailConfig
	timeout time.Duration
	send    mailSender
}

// NewEmailNotifier returns nil when no relay or recipients are configured.
func NewEmailNotifier(logger zerolog.Logger, cfg EmailConfig) *EmailNotifier {
	if cfg.Server == "" || len(cfg.To) == 0 {
		return nil
	}
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	n := &EmailNotifier{
		logger:  logger,
		cfg:     cfg,
		timeout: 30 * time.Second,
	}
	n.send = n.dialAndSend
	return n
}

// NotifyFailure implements Notifier.
func (n *EmailNotifier) NotifyFailure(ctx context.Context, event FailureEvent) error {
	subject := fmt.Sprintf("ALERT: %s Service Down on %s - %s",
		strings.ToUpper(event.Endpoint.Service), event.Endpoint.Host, event.At.UTC().Format("2006-01-02 15:04:05"))
	return n.deliver(ctx, subject, failureEmail, event)
}

// NotifyRecovery implements Notifier.
func (n *EmailNotifier) NotifyRecovery(ctx context.Context, event RecoveryEvent) error {
	subject := fmt.Sprintf("RECOVERED: %s Service on %s", strings.ToUpper(event.Endpoint.Service), event.Endpoint.Host)
	return n.deliver(ctx, subject, recoveryEmail, event)
}

// NotifyReport implements Notifier.
func (n *EmailNotifier) NotifyReport(ctx context.Context, report Report) error {
	subject := fmt.Sprintf("Cluster report: %d/%d services healthy", report.Cluster.Healthy, len(report.Endpoints))
	return n.deliver(ctx, subject, reportEmail, report)
}

func (n *EmailNotifier) deliver(ctx context.Context, subject string, tmpl *template.Template, data any) error {
	if n == nil {
		return nil
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return fmt.Errorf("render email: %w", err)
	}

	msg, err := n.compose(subject, body.String())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if err := n.send(ctx, msg); err != nil {
		return fmt.Errorf("email request failed: %w", err)
	}

	n.logger.Debug().
		Str("subject", subject).
		Int("recipients", len(n.cfg.To)).
		Msg("email notification sent")
	return nil
}

func (n *EmailNotifier) compose(subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(n.cfg.From); err != nil {
		return nil, fmt.Errorf("email sender %q: %w", n.cfg.From, err)
	}
	if err := msg.To(n.cfg.To...); err != nil {
		return nil, fmt.Errorf("email recipients: %w", err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

func (n *EmailNotifier) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(n.cfg.Server,
		mail.WithPort(n.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(n.timeout),
	)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}
