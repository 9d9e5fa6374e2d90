package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nholik/broker-sentinel/internal/fleet"
	"github.com/nholik/broker-sentinel/internal/health"
	"github.com/nholik/broker-sentinel/internal/transition"
)

var (
	// ErrUnknownEndpoint is returned for keys that were not configured at startup.
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	// ErrBudgetExhausted is returned when recording an attempt would exceed the maximum.
	ErrBudgetExhausted = errors.New("restart attempt budget exhausted")
)

// Tracker is the only owner of ServiceState entries. Callers receive copies.
// The map is guarded by one mutex; each key is handled by a single worker per cycle.
type Tracker struct {
	mu          sync.Mutex
	states      map[fleet.Key]*ServiceState
	order       []fleet.Key
	maxAttempts int
}

// NewTracker creates one UP entry with zero attempts per endpoint.
func NewTracker(endpoints []fleet.Endpoint, maxAttempts int) *Tracker {
	t := &Tracker{
		states:      make(map[fleet.Key]*ServiceState, len(endpoints)),
		order:       make([]fleet.Key, 0, len(endpoints)),
		maxAttempts: maxAttempts,
	}
	for _, ep := range endpoints {
		key := ep.Key()
		if _, ok := t.states[key]; ok {
			continue
		}
		t.states[key] = &ServiceState{
			Host:    ep.Host,
			Service: ep.Service,
			Status:  health.StatusUp,
		}
		t.order = append(t.order, key)
	}
	return t
}

// Observe applies a probe result and returns an event only when the status changed.
func (t *Tracker) Observe(key fleet.Key, isUp bool, now time.Time) (*transition.Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.states[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, key)
	}
	entry.LastCheckedAt = now

	previous := entry.Status
	current, kind := transition.Detect(previous, isUp)
	if kind == nil {
		return nil, nil
	}

	event := &transition.Event{
		Key:            key,
		Kind:           *kind,
		PreviousStatus: previous,
		CurrentStatus:  current,
		At:             now,
	}

	entry.Status = current
	switch *kind {
	case transition.FailureDetected:
		entry.LastFailureAt = now
	case transition.RecoveryDetected:
		entry.RestartAttempts = 0
		entry.LastRecoveryAt = now
		if !entry.LastFailureAt.IsZero() {
			event.Downtime = now.Sub(entry.LastFailureAt)
		}
	}
	return event, nil
}

// Get returns a copy of the state for key.
func (t *Tracker) Get(key fleet.Key) (ServiceState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.states[key]
	if !ok {
		return ServiceState{}, false
	}
	return *entry, true
}

// RecordAttempt increments the restart counter and returns the new value.
func (t *Tracker) RecordAttempt(key fleet.Key) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.states[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownEndpoint, key)
	}
	if t.maxAttempts > 0 && entry.RestartAttempts >= t.maxAttempts {
		return entry.RestartAttempts, ErrBudgetExhausted
	}
	entry.RestartAttempts++
	return entry.RestartAttempts, nil
}

// ResetAttempts renews the restart budget of key.
func (t *Tracker) ResetAttempts(key fleet.Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.states[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, key)
	}
	entry.RestartAttempts = 0
	return nil
}

// States returns copies of all entries in configuration order.
func (t *Tracker) States() []ServiceState {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ServiceState, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, *t.states[key])
	}
	return out
}

// Snapshot returns the persistable view of all entries.
func (t *Tracker) Snapshot(now time.Time) Snapshot {
	snapshot := Snapshot{
		Services: make(map[string]ServiceState),
		SavedAt:  now,
	}
	for _, s := range t.States() {
		snapshot.Services[s.Key().String()] = s
	}
	return snapshot
}
