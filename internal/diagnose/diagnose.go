// Package diagnose turns service logs into a remediation recommendation.
//
// An LLM backend is consulted first under an explicit retry policy. When the
// backend is disabled, unreachable, or returns text without the expected
// labeled sections, a deterministic rule classifier produces the result.
// Analyze never fails.
package diagnose

import (
	"time"

	"github.com/nholik/broker-sentinel/internal/fleet"
	"github.com/nholik/broker-sentinel/internal/health"
)

// Action is the recommended follow-up.
type Action string

const (
	ActionRestart  Action = "restart"
	ActionNone     Action = "no-action"
	ActionEscalate Action = "escalate"
)

// Source records which path produced a result.
type Source string

const (
	SourceAI    Source = "ai"
	SourceRules Source = "rules"
)

// Result is a single diagnosis.
type Result struct {
	Summary    string  `json:"summary"`
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Source     Source  `json:"source"`
}

// Context describes the failure being diagnosed.
type Context struct {
	Endpoint         fleet.Endpoint
	RestartAttempted bool
	Attempts         int
	RestartOutput    string
	At               time.Time
}

// EndpointHealth is one line of a cluster report.
type EndpointHealth struct {
	Endpoint        fleet.Endpoint       `json:"endpoint"`
	Status          health.ServiceStatus `json:"status"`
	RestartAttempts int                  `json:"restart_attempts"`
	LastFailureAt   time.Time            `json:"last_failure_at,omitempty"`
}

// ClusterDiagnosis summarizes the fleet for the periodic report.
type ClusterDiagnosis struct {
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations"`
	Healthy         int      `json:"healthy"`
	Failed          int      `json:"failed"`
	Source          Source   `json:"source"`
}
