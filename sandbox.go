package sandbox

import (
	"context"
	"time"
)

// Request is one caller invocation: a language, a source snippet, and
// optional standard input. Immutable once accepted by the validator.
type Request struct {
	// Language is the registry identifier, e.g. "python" or "cpp".
	Language string `json:"language"`
	// SourceCode is the program text. Bounded by the validator.
	SourceCode string `json:"code"`
	// Stdin is fed to the program's standard input. Optional, bounded.
	Stdin string `json:"stdin,omitempty"`
	// Args are appended to the run command. Optional.
	Args []string `json:"args,omitempty"`
}

// Phase identifies which step of the pipeline produced a failing result.
type Phase string

const (
	PhaseCompile Phase = "compile"
	PhaseRun     Phase = "run"
)

// Result is the terminal artifact of a session, produced exactly once.
//
// CompileError, RuntimeError, and TimeoutError are well-formed Results with
// Success=false — they are expected outcomes of running untrusted code, not
// system faults.
type Result struct {
	// Success is true only for a clean run: compiled (if applicable),
	// exited zero, and finished before the deadline.
	Success bool `json:"success"`
	// Stdout holds captured standard output, up to the capture cap.
	Stdout string `json:"output"`
	// Stderr holds captured standard error, up to the capture cap.
	Stderr string `json:"error,omitempty"`
	// ExitCode is nil when the program never ran to completion
	// (timeout, or provisioning died mid-flight).
	ExitCode *int `json:"exitCode"`
	// Duration is wall-clock time from injection to completion.
	Duration time.Duration `json:"-"`
	// DurationMs mirrors Duration for the wire format.
	DurationMs int64 `json:"executionTimeMs"`
	// TimedOut is true when the deadline fired before natural completion.
	TimedOut bool `json:"timedOut"`
	// Truncated is true when output exceeded the capture cap and the
	// excess was dropped.
	Truncated bool `json:"truncated"`
	// Phase is set on failing results: "compile" or "run".
	Phase Phase `json:"phase,omitempty"`
}

// ExecStatus is the outcome of one command executed inside a session's
// container.
type ExecStatus struct {
	ExitCode  int
	TimedOut  bool
	Stdout    string
	Stderr    string
	Truncated bool
}

// Backend provisions, drives, and tears down one container per execution.
// Implementations own the daemon connection and all container-handle
// operations; the engine never touches the daemon directly.
//
// All methods honor ctx cancellation. Teardown must be idempotent: a handle
// the daemon no longer knows about is treated as already torn down.
type Backend interface {
	// Provision creates and starts a fresh container for lang: network
	// disabled, memory capped, non-root, exclusively owned by the
	// returned session.
	Provision(ctx context.Context, lang LanguageConfig) (*Session, error)

	// Inject writes the source file into the container's workspace.
	// The transfer is binary-safe; source bytes never pass through a
	// shell command line.
	Inject(ctx context.Context, sess *Session, source []byte) error

	// Exec runs argv inside the container, feeding stdin to the process
	// and capturing stdout/stderr up to the backend's capture cap. It
	// returns when the process exits or ctx is done; a deadline
	// expiration is reported as ExecStatus.TimedOut rather than an error.
	Exec(ctx context.Context, sess *Session, argv []string, stdin []byte) (ExecStatus, error)

	// Teardown force-stops and removes the session's container and marks
	// the session reaped. Safe to call in any state and more than once.
	Teardown(ctx context.Context, sess *Session) error
}
