package sandbox

import (
	"fmt"
	"sync"
	"time"
)

// SessionState is one node of the session lifecycle:
//
//	Created → Provisioning → Running → {Completed | TimedOut |
//	ProvisioningFailed | RuntimeFailed} → Reaped
//
// Reaped is terminal and unconditional — every session that left Created
// reaches it via Backend.Teardown, including on caller cancellation.
type SessionState int

const (
	StateCreated SessionState = iota
	StateProvisioning
	StateRunning
	StateCompleted
	StateTimedOut
	StateProvisioningFailed
	StateRuntimeFailed
	StateReaped
)

var stateNames = map[SessionState]string{
	StateCreated:            "created",
	StateProvisioning:       "provisioning",
	StateRunning:            "running",
	StateCompleted:          "completed",
	StateTimedOut:           "timed_out",
	StateProvisioningFailed: "provisioning_failed",
	StateRuntimeFailed:      "runtime_failed",
	StateReaped:             "reaped",
}

func (s SessionState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether s is an outcome state (everything after Running
// except Reaped itself, which is post-terminal).
func (s SessionState) Terminal() bool {
	switch s {
	case StateCompleted, StateTimedOut, StateProvisioningFailed, StateRuntimeFailed:
		return true
	}
	return false
}

// legalTransitions lists the permitted next states for each state.
// Teardown (→ Reaped) is allowed from any non-initial state, which covers
// abort-at-any-point cancellation.
var legalTransitions = map[SessionState][]SessionState{
	StateCreated:            {StateProvisioning},
	StateProvisioning:       {StateRunning, StateProvisioningFailed, StateReaped},
	StateRunning:            {StateCompleted, StateTimedOut, StateRuntimeFailed, StateReaped},
	StateCompleted:          {StateReaped},
	StateTimedOut:           {StateReaped},
	StateProvisioningFailed: {StateReaped},
	StateRuntimeFailed:      {StateReaped},
	StateReaped:             {},
}

// Session binds one accepted request to exactly one container and its
// outcome. A session never outlives its container: when the pipeline hits a
// terminal state the container is removed and the session marked reaped.
type Session struct {
	// ID is a UUIDv7, also embedded in the container name.
	ID string
	// Language is the resolved config this session runs under.
	Language LanguageConfig
	// ContainerID is the daemon's handle. Set once during provisioning;
	// never reassigned — one container per session, ever.
	ContainerID string
	// CreatedAt is when provisioning began.
	CreatedAt time.Time
	// Deadline is CreatedAt plus the language timeout.
	Deadline time.Time

	mu    sync.Mutex
	state SessionState
}

// NewSession creates a session in StateCreated for lang.
func NewSession(lang LanguageConfig) *Session {
	now := time.Now()
	return &Session{
		ID:        NewID(),
		Language:  lang,
		CreatedAt: now,
		Deadline:  now.Add(lang.DefaultTimeout),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to next, enforcing the lifecycle graph.
// A repeated transition to StateReaped is a no-op: teardown is idempotent
// and may race between natural completion and a timeout-triggered kill.
func (s *Session) Transition(next SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReaped && next == StateReaped {
		return nil
	}
	for _, allowed := range legalTransitions[s.state] {
		if allowed == next {
			s.state = next
			return nil
		}
	}
	return fmt.Errorf("session %s: illegal transition %s → %s", s.ID, s.state, next)
}

// Reaped reports whether teardown has completed for this session.
func (s *Session) Reaped() bool { return s.State() == StateReaped }
