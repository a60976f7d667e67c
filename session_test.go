package sandbox

import (
	"testing"
	"time"
)

func testLang() LanguageConfig {
	return LanguageConfig{
		ID:             "python",
		FileExtension:  ".py",
		RunCommand:     []string{"python3", "{file}"},
		DefaultTimeout: 10 * time.Second,
	}
}

func TestNewSession(t *testing.T) {
	s := NewSession(testLang())
	if s.ID == "" {
		t.Fatal("session must get an ID")
	}
	if s.State() != StateCreated {
		t.Fatalf("initial state = %v, want created", s.State())
	}
	if got := s.Deadline.Sub(s.CreatedAt); got != 10*time.Second {
		t.Fatalf("deadline offset = %v, want language timeout", got)
	}
}

func TestHappyPathLifecycle(t *testing.T) {
	s := NewSession(testLang())
	for _, next := range []SessionState{StateProvisioning, StateRunning, StateCompleted, StateReaped} {
		if err := s.Transition(next); err != nil {
			t.Fatalf("Transition(%v): %v", next, err)
		}
	}
	if !s.Reaped() {
		t.Fatal("session should be reaped")
	}
}

func TestIllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []SessionState
		next SessionState
	}{
		{"created to running", nil, StateRunning},
		{"created to reaped", nil, StateReaped},
		{"skip provisioning", nil, StateCompleted},
		{"completed to running", []SessionState{StateProvisioning, StateRunning, StateCompleted}, StateRunning},
		{"reaped is final", []SessionState{StateProvisioning, StateReaped}, StateRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(testLang())
			for _, st := range tt.path {
				if err := s.Transition(st); err != nil {
					t.Fatalf("setup Transition(%v): %v", st, err)
				}
			}
			if err := s.Transition(tt.next); err == nil {
				t.Fatalf("Transition(%v) from %v should fail", tt.next, s.State())
			}
		})
	}
}

func TestReapedFromEveryActiveState(t *testing.T) {
	paths := map[string][]SessionState{
		"provisioning":        {StateProvisioning},
		"running":             {StateProvisioning, StateRunning},
		"completed":           {StateProvisioning, StateRunning, StateCompleted},
		"timed out":           {StateProvisioning, StateRunning, StateTimedOut},
		"provisioning failed": {StateProvisioning, StateProvisioningFailed},
		"runtime failed":      {StateProvisioning, StateRunning, StateRuntimeFailed},
	}
	for name, path := range paths {
		t.Run(name, func(t *testing.T) {
			s := NewSession(testLang())
			for _, st := range path {
				if err := s.Transition(st); err != nil {
					t.Fatalf("setup Transition(%v): %v", st, err)
				}
			}
			if err := s.Transition(StateReaped); err != nil {
				t.Fatalf("teardown must be reachable from %v: %v", path[len(path)-1], err)
			}
		})
	}
}

func TestReapedIsIdempotent(t *testing.T) {
	s := NewSession(testLang())
	must := func(st SessionState) {
		t.Helper()
		if err := s.Transition(st); err != nil {
			t.Fatalf("Transition(%v): %v", st, err)
		}
	}
	must(StateProvisioning)
	must(StateRunning)
	must(StateCompleted)
	must(StateReaped)
	// A second reap is the natural-exit vs. deadline-kill race; it must
	// be a quiet no-op.
	if err := s.Transition(StateReaped); err != nil {
		t.Fatalf("repeated reap: %v", err)
	}
}

func TestTerminal(t *testing.T) {
	terminal := map[SessionState]bool{
		StateCreated:            false,
		StateProvisioning:       false,
		StateRunning:            false,
		StateCompleted:          true,
		StateTimedOut:           true,
		StateProvisioningFailed: true,
		StateRuntimeFailed:      true,
		StateReaped:             false,
	}
	for st, want := range terminal {
		if st.Terminal() != want {
			t.Errorf("%v.Terminal() = %v, want %v", st, st.Terminal(), want)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateTimedOut.String() != "timed_out" {
		t.Fatalf("String = %q", StateTimedOut.String())
	}
	if SessionState(99).String() != "state(99)" {
		t.Fatalf("unknown state String = %q", SessionState(99).String())
	}
}
