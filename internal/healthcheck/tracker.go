package healthcheck

import (
	"sync"
	"time"

	"github.com/nholik/broker-sentinel/internal/fleet"
	"github.com/nholik/broker-sentinel/internal/health"
	"github.com/nholik/broker-sentinel/internal/state"
)

// Snapshot describes the latest cycle timing details.
type Snapshot struct {
	LastCycleTime    *time.Time `json:"last_cycle_time"`
	CycleDurationMS  int64      `json:"cycle_duration_ms"`
	EndpointsChecked int        `json:"endpoints_checked"`
	EndpointsDown    int        `json:"endpoints_down"`
}

// Status is the /statusz payload: cycle timing plus per-endpoint state.
type Status struct {
	Snapshot
	Endpoints []state.ServiceState `json:"endpoints"`
}

// Tracker records cycle timing and the last endpoint states for the
// health endpoints.
type Tracker struct {
	mu               sync.RWMutex
	lastCycle        time.Time
	cycleDuration    time.Duration
	endpointsChecked int
	endpointsDown    int
	states           []state.ServiceState
	ready            bool
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordCycle updates cycle timing, the endpoint states and readiness.
func (t *Tracker) RecordCycle(duration time.Duration, states []state.ServiceState) {
	if t == nil {
		return
	}
	down := 0
	for _, s := range states {
		if s.Status == health.StatusDown {
			down++
		}
	}
	copied := append([]state.ServiceState(nil), states...)

	now := time.Now().UTC()
	t.mu.Lock()
	t.lastCycle = now
	t.cycleDuration = duration
	t.endpointsChecked = len(states)
	t.endpointsDown = down
	t.states = copied
	t.ready = true
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

// Status returns the snapshot with a copy of the endpoint states.
func (t *Tracker) Status() Status {
	if t == nil {
		return Status{Endpoints: []state.ServiceState{}}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	endpoints := append([]state.ServiceState{}, t.states...)
	return Status{Snapshot: t.snapshotLocked(), Endpoints: endpoints}
}

// Endpoint returns the last recorded state of one endpoint.
func (t *Tracker) Endpoint(key fleet.Key) (state.ServiceState, bool) {
	if t == nil {
		return state.ServiceState{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.states {
		if s.Key() == key {
			return s, true
		}
	}
	return state.ServiceState{}, false
}

func (t *Tracker) snapshotLocked() Snapshot {
	var last *time.Time
	if !t.lastCycle.IsZero() {
		value := t.lastCycle
		last = &value
	}
	return Snapshot{
		LastCycleTime:    last,
		CycleDurationMS:  int64(t.cycleDuration / time.Millisecond),
		EndpointsChecked: t.endpointsChecked,
		EndpointsDown:    t.endpointsDown,
	}
}

// Ready reports whether at least one successful cycle has completed.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Healthy reports whether the last cycle completed within 2x the poll interval.
func (t *Tracker) Healthy(now time.Time, pollInterval time.Duration) bool {
	if t == nil {
		return false
	}
	if pollInterval <= 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastCycle.IsZero() {
		return false
	}
	return now.Sub(t.lastCycle) <= 2*pollInterval
}
