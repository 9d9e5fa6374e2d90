// Package policy decides whether a down endpoint may be remediated in the current cycle.
//
// Two gates are evaluated in order and both must pass:
//
//   - debounce: reject while less than MinFailureInterval has passed since the
//     failure was first observed. The window is measured from the original failure
//     time, not from the last attempt, so every check after the window reopens is
//     eligible until the attempt budget runs out.
//   - attempt budget: reject once MaxRestartAttempts attempts were made, unless the
//     outage has lasted longer than Cooldown, in which case the budget is renewed.
//
// A failure detected in the same cycle is exempt from the debounce gate.
package policy

import (
	"time"

	"github.com/nholik/broker-sentinel/internal/health"
	"github.com/nholik/broker-sentinel/internal/state"
)

// Reason explains a decision.
type Reason string

const (
	ReasonNotDown         Reason = "not_down"
	ReasonNewFailure      Reason = "new_failure"
	ReasonDebounce        Reason = "debounce"
	ReasonBudgetExhausted Reason = "budget_exhausted"
	ReasonBudgetRenewed   Reason = "budget_renewed"
	ReasonWithinBudget    Reason = "within_budget"
)

// Decision is the outcome of an eligibility check.
type Decision struct {
	Allowed bool
	// ResetBudget asks the caller to reset the attempt counter before recording the new attempt.
	ResetBudget bool
	Reason      Reason
}

// Policy holds the eligibility thresholds.
type Policy struct {
	MinFailureInterval time.Duration
	MaxRestartAttempts int
	Cooldown           time.Duration
}

// Evaluate decides whether s may be remediated at now. newlyDown marks a failure
// that was detected in this same cycle.
func (p Policy) Evaluate(s state.ServiceState, now time.Time, newlyDown bool) Decision {
	if s.Status != health.StatusDown {
		return Decision{Reason: ReasonNotDown}
	}

	sinceFailure := now.Sub(s.LastFailureAt)

	if !newlyDown && s.HasFailed() && sinceFailure < p.MinFailureInterval {
		return Decision{Reason: ReasonDebounce}
	}

	if s.RestartAttempts >= p.MaxRestartAttempts {
		if s.HasFailed() && sinceFailure > p.Cooldown {
			return Decision{Allowed: true, ResetBudget: true, Reason: ReasonBudgetRenewed}
		}
		return Decision{Reason: ReasonBudgetExhausted}
	}

	if newlyDown {
		return Decision{Allowed: true, Reason: ReasonNewFailure}
	}
	return Decision{Allowed: true, Reason: ReasonWithinBudget}
}
