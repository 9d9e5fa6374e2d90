package policy

import (
	"testing"
	"time"

	"github.com/nholik/broker-sentinel/internal/health"
	"github.com/nholik/broker-sentinel/internal/state"
	"github.com/stretchr/testify/assert"
)

var failedAt = time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

func defaultPolicy() Policy {
	return Policy{
		MinFailureInterval: 5 * time.Minute,
		MaxRestartAttempts: 3,
		Cooldown:           30 * time.Minute,
	}
}

func downState(attempts int) state.ServiceState {
	return state.ServiceState{
		Host:            "a",
		Service:         "kafka",
		Status:          health.StatusDown,
		LastFailureAt:   failedAt,
		RestartAttempts: attempts,
	}
}

func TestEvaluate_UpIsNeverEligible(t *testing.T) {
	s := downState(0)
	s.Status = health.StatusUp

	d := defaultPolicy().Evaluate(s, failedAt.Add(time.Hour), false)

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNotDown, d.Reason)
}

func TestEvaluate_NewFailureBypassesDebounce(t *testing.T) {
	d := defaultPolicy().Evaluate(downState(0), failedAt, true)

	assert.True(t, d.Allowed)
	assert.False(t, d.ResetBudget)
	assert.Equal(t, ReasonNewFailure, d.Reason)
}

func TestEvaluate_Debounce(t *testing.T) {
	p := defaultPolicy()

	early := p.Evaluate(downState(1), failedAt.Add(2*time.Minute), false)
	assert.False(t, early.Allowed, "check at T+2min must be rejected")
	assert.Equal(t, ReasonDebounce, early.Reason)

	late := p.Evaluate(downState(1), failedAt.Add(6*time.Minute), false)
	assert.True(t, late.Allowed, "check at T+6min must be allowed")
	assert.Equal(t, ReasonWithinBudget, late.Reason)
}

func TestEvaluate_DebounceMeasuredFromOriginalFailure(t *testing.T) {
	p := defaultPolicy()

	// Two consecutive cycles after the window reopens are both eligible;
	// a previous attempt in the same window does not restart the debounce.
	first := p.Evaluate(downState(1), failedAt.Add(6*time.Minute), false)
	second := p.Evaluate(downState(2), failedAt.Add(7*time.Minute), false)

	assert.True(t, first.Allowed)
	assert.True(t, second.Allowed)
}

func TestEvaluate_BudgetExhaustedAndRenewed(t *testing.T) {
	p := defaultPolicy()

	exhausted := p.Evaluate(downState(3), failedAt.Add(10*time.Minute), false)
	assert.False(t, exhausted.Allowed, "check at +10min must be rejected")
	assert.Equal(t, ReasonBudgetExhausted, exhausted.Reason)

	renewed := p.Evaluate(downState(3), failedAt.Add(31*time.Minute), false)
	assert.True(t, renewed.Allowed, "check at +31min must be allowed")
	assert.True(t, renewed.ResetBudget)
	assert.Equal(t, ReasonBudgetRenewed, renewed.Reason)
}

func TestEvaluate_CooldownBoundaryIsExclusive(t *testing.T) {
	d := defaultPolicy().Evaluate(downState(3), failedAt.Add(30*time.Minute), false)

	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBudgetExhausted, d.Reason)
}

func TestEvaluate_DebounceBoundaryIsInclusive(t *testing.T) {
	d := defaultPolicy().Evaluate(downState(1), failedAt.Add(5*time.Minute), false)

	assert.True(t, d.Allowed)
}

func TestEvaluate_IsPure(t *testing.T) {
	p := defaultPolicy()
	s := downState(3)
	now := failedAt.Add(45 * time.Minute)

	first := p.Evaluate(s, now, false)
	second := p.Evaluate(s, now, false)

	assert.Equal(t, first, second)
	assert.Equal(t, 3, s.RestartAttempts)
}
