package retry

import (
	"sync"
	"time"
)

// HealthState describes the coarse availability of a dependency as observed
// through operation outcomes.
type HealthState int

const (
	StateHealthy HealthState = iota
	StateDegraded
	StateDown
)

func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateDown:
		return "down"
	default:
		return "unknown"
	}
}

// HealthTracker counts consecutive failures with a decay window so health
// endpoints can distinguish "degraded" from "down". Construct one per
// dependency at process start and pass it by reference to whatever needs it.
// Safe for concurrent use. A nil tracker is a no-op.
type HealthTracker struct {
	mu sync.Mutex

	decayWindow   time.Duration
	downThreshold int

	failures    int
	lastFailure time.Time
}

// NewHealthTracker creates a tracker. Failures older than decayWindow are
// forgotten; downThreshold consecutive failures flip the state from degraded
// to down. Zero values select 60s and 5.
func NewHealthTracker(decayWindow time.Duration, downThreshold int) *HealthTracker {
	if decayWindow <= 0 {
		decayWindow = time.Minute
	}
	if downThreshold <= 0 {
		downThreshold = 5
	}
	return &HealthTracker{
		decayWindow:   decayWindow,
		downThreshold: downThreshold,
	}
}

// RecordSuccess resets the consecutive failure count.
func (t *HealthTracker) RecordSuccess() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = 0
}

// RecordFailure increments the consecutive failure count.
func (t *HealthTracker) RecordFailure() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures++
	t.lastFailure = time.Now()
}

// State reports the current health classification. Failures past the decay
// window do not count, so a dependency quietly recovers to healthy without
// needing a successful call.
func (t *HealthTracker) State() HealthState {
	if t == nil {
		return StateHealthy
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failures == 0 || time.Since(t.lastFailure) > t.decayWindow {
		return StateHealthy
	}
	if t.failures >= t.downThreshold {
		return StateDown
	}
	return StateDegraded
}

// Failures returns the current consecutive failure count for monitoring.
func (t *HealthTracker) Failures() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures
}
