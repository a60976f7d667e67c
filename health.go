package sandbox

import (
	"sync"
	"time"
)

// Backoff defaults for the daemon health gate.
const (
	DefaultBackoffFloor     = time.Second
	DefaultBackoffCeiling   = 30 * time.Second
	DefaultFailureThreshold = 3
)

// HealthMonitor tracks container-daemon reachability as explicit, injected
// state: constructed once, passed by reference into the backend and the
// engine. It is the only state shared across sessions.
//
// After a run of consecutive failures crosses the threshold the monitor
// reports the daemon unavailable, and MayAttempt gates new provisioning
// behind an exponentially growing backoff window so a flapping or down
// daemon is not hammered on every incoming request.
//
// All methods are safe for concurrent use.
type HealthMonitor struct {
	mu                  sync.Mutex
	available           bool
	everChecked         bool
	consecutiveFailures int
	backoff             time.Duration
	lastChecked         time.Time

	floor     time.Duration
	ceiling   time.Duration
	threshold int

	now func() time.Time // test hook
}

// HealthSnapshot is a read-only view of the monitor, exposed unchanged by
// Engine.Health.
type HealthSnapshot struct {
	Available           bool          `json:"isAvailable"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	Backoff             time.Duration `json:"-"`
	LastChecked         time.Time     `json:"-"`
}

// NewHealthMonitor constructs a monitor in the "unknown" state: no daemon
// call has happened yet, so MayAttempt allows the first probe through.
// Non-positive arguments fall back to the defaults.
func NewHealthMonitor(floor, ceiling time.Duration, threshold int) *HealthMonitor {
	if floor <= 0 {
		floor = DefaultBackoffFloor
	}
	if ceiling <= 0 {
		ceiling = DefaultBackoffCeiling
	}
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &HealthMonitor{
		backoff:   floor,
		floor:     floor,
		ceiling:   ceiling,
		threshold: threshold,
		now:       time.Now,
	}
}

// RecordSuccess marks a successful daemon interaction: failures reset,
// backoff returns to its floor, and the daemon is available again.
func (h *HealthMonitor) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.available = true
	h.everChecked = true
	h.consecutiveFailures = 0
	h.backoff = h.floor
	h.lastChecked = h.now()
}

// RecordFailure marks a failed daemon interaction. The backoff window
// doubles up to the ceiling; availability drops once the consecutive
// failure count crosses the threshold.
func (h *HealthMonitor) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.everChecked = true
	h.consecutiveFailures++
	if h.consecutiveFailures > 1 {
		h.backoff *= 2
		if h.backoff > h.ceiling {
			h.backoff = h.ceiling
		}
	}
	h.available = h.consecutiveFailures < h.threshold
	h.lastChecked = h.now()
}

// MayAttempt reports whether a daemon call should be attempted now: true
// when the daemon is available, was never probed, or the backoff window
// has elapsed since the last check.
func (h *HealthMonitor) MayAttempt() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.everChecked || h.available {
		return true
	}
	return h.now().Sub(h.lastChecked) >= h.backoff
}

// Snapshot returns the current monitor state.
func (h *HealthMonitor) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthSnapshot{
		Available:           h.available || !h.everChecked,
		ConsecutiveFailures: h.consecutiveFailures,
		Backoff:             h.backoff,
		LastChecked:         h.lastChecked,
	}
}
