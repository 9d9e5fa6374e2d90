package diagnose

import (
	"bytes"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/nholik/broker-sentinel/internal/health"
)

const (
	defaultMaxLogChars = 2000
	truncatedMarker    = "[TRUNCATED]"
)

var analysisTemplate = template.Must(template.New("analysis").Parse(`You are an expert system administrator specializing in Apache Kafka and Zookeeper.

ANALYSIS REQUEST:
- Service: {{.Service}}
- Server: {{.Host}}:{{.Port}}
- Timestamp: {{.Timestamp}}
- Restart attempted: {{.RestartAttempted}} (attempt {{.Attempts}})
- Log lines analyzed: {{.LineCount}}
{{- if .RestartOutput}}

RESTART OUTPUT:
{{.RestartOutput}}
{{- end}}

KEY ERROR PATTERNS FOUND:
{{range .ErrorLines}}{{.}}
{{else}}(none)
{{end}}
RECENT LOG CONTENT:
{{.Logs}}

Diagnose this {{.Service}} failure. Answer using exactly these labeled lines:

SUMMARY: <one or two sentences describing the main issue>
ACTION: <restart | no-action | escalate>
REASON: <technical explanation of the root cause and why the action fits>
CONFIDENCE: <number between 0 and 1>
`))

var clusterTemplate = template.Must(template.New("cluster").Parse(`You are a Kafka/Zookeeper cluster expert. Analyze this cluster status:

CLUSTER STATUS:
- Total services: {{.Total}}
- Healthy services: {{len .Healthy}}
- Failed services: {{len .Failed}}

HEALTHY SERVICES:
{{range .Healthy}}{{.}}
{{else}}(none)
{{end}}
FAILED SERVICES:
{{range .Failed}}{{.}}
{{else}}(none)
{{end}}
Answer using exactly these labeled sections:

ASSESSMENT: <overall assessment of cluster health>
RECOMMENDATIONS:
- <most important action for cluster stability>
- <next action>
`))

type analysisData struct {
	Service          string
	Host             string
	Port             int
	Timestamp        string
	RestartAttempted bool
	Attempts         int
	RestartOutput    string
	LineCount        int
	ErrorLines       []string
	Logs             string
}

type clusterData struct {
	Total   int
	Healthy []string
	Failed  []string
}

func buildAnalysisPrompt(logText string, c Context, maxLogChars int) (string, error) {
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	data := analysisData{
		Service:          c.Endpoint.Service,
		Host:             c.Endpoint.Host,
		Port:             c.Endpoint.Port,
		Timestamp:        at.UTC().Format(time.RFC3339),
		RestartAttempted: c.RestartAttempted,
		Attempts:         c.Attempts,
		RestartOutput:    truncateTail(strings.TrimSpace(c.RestartOutput), 500),
		LineCount:        countLines(logText),
		ErrorLines:       ExtractErrorLines(logText),
		Logs:             truncateTail(logText, maxLogChars),
	}

	var buf bytes.Buffer
	if err := analysisTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildClusterPrompt(endpoints []EndpointHealth) (string, error) {
	data := clusterData{Total: len(endpoints)}
	for _, e := range endpoints {
		name := e.Endpoint.Key().String()
		if e.Status == health.StatusDown {
			data.Failed = append(data.Failed, name)
		} else {
			data.Healthy = append(data.Healthy, name)
		}
	}

	var buf bytes.Buffer
	if err := clusterTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// truncateTail keeps the last max bytes of s, marking the cut.
func truncateTail(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return truncatedMarker + "\n" + s[cut:]
}

func countLines(s string) int {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
