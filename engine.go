package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency caps simultaneously running sandboxes when
// WithConcurrency is not set.
const DefaultConcurrency = 8

// defaultTeardownTimeout bounds the deferred teardown call so a wedged
// daemon cannot block the response path.
const defaultTeardownTimeout = 15 * time.Second

// nopLogger discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(slog.DiscardHandler)

// Engine composes validation, the language registry, the health gate, and a
// backend into one request/response cycle. It is safe for concurrent use;
// each call runs in its own session with its own container.
type Engine struct {
	backend   Backend
	health    *HealthMonitor
	registry  *Registry
	validator *Validator
	sem       *semaphore.Weighted
	logger    *slog.Logger

	teardownTimeout time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	registry       *Registry
	concurrency    int64
	maxSourceBytes int
	maxStdinBytes  int
	logger         *slog.Logger
}

// WithRegistry replaces the built-in language catalog.
func WithRegistry(r *Registry) EngineOption {
	return func(c *engineConfig) { c.registry = r }
}

// WithConcurrency caps the number of sandboxes running at once. Requests
// beyond the cap queue on the limiter rather than provisioning unbounded
// containers (default: DefaultConcurrency).
func WithConcurrency(n int) EngineOption {
	return func(c *engineConfig) {
		if n > 0 {
			c.concurrency = int64(n)
		}
	}
}

// WithLimits sets the validator's source and stdin byte ceilings.
func WithLimits(maxSourceBytes, maxStdinBytes int) EngineOption {
	return func(c *engineConfig) {
		c.maxSourceBytes = maxSourceBytes
		c.maxStdinBytes = maxStdinBytes
	}
}

// WithLogger sets the structured logger for engine events. If not set, a
// no-op logger is used (no output).
func WithLogger(l *slog.Logger) EngineOption {
	return func(c *engineConfig) { c.logger = l }
}

// NewEngine builds an engine over backend, gated by health.
func NewEngine(backend Backend, health *HealthMonitor, opts ...EngineOption) *Engine {
	cfg := engineConfig{concurrency: DefaultConcurrency}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.registry == nil {
		cfg.registry = NewRegistry()
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	return &Engine{
		backend:         backend,
		health:          health,
		registry:        cfg.registry,
		validator:       NewValidator(cfg.registry, cfg.maxSourceBytes, cfg.maxStdinBytes),
		sem:             semaphore.NewWeighted(cfg.concurrency),
		logger:          cfg.logger,
		teardownTimeout: defaultTeardownTimeout,
	}
}

// Languages returns the public view of the registry: id, display name, and
// file extension. Image references and command templates stay internal.
func (e *Engine) Languages() []LanguageInfo { return e.registry.List() }

// Health returns a read-only view of the daemon health monitor, letting the
// calling layer short-circuit before even forming a request.
func (e *Engine) Health() HealthSnapshot { return e.health.Snapshot() }

// Execute runs one request end to end: validate, gate on daemon health,
// provision a session, inject the source, compile if the language requires
// it, run, and always tear the sandbox down.
//
// The error return is reserved for infrastructure: *ValidationError,
// *ProvisioningError, or context cancellation. Compile errors, nonzero
// exits, and timeouts come back as a Result with Success=false.
func (e *Engine) Execute(ctx context.Context, req Request) (Result, error) {
	if err := e.validator.Validate(req); err != nil {
		return Result{}, err
	}
	lang, err := e.registry.Resolve(req.Language)
	if err != nil {
		return Result{}, err
	}

	// Fail fast while the backoff window is closed. Without this gate an
	// unresponsive daemon turns every request into a full-timeout hang.
	if !e.health.MayAttempt() {
		return Result{}, &ProvisioningError{Reason: "daemon unavailable, backing off"}
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer e.sem.Release(1)

	sess, err := e.backend.Provision(ctx, lang)
	if err != nil {
		if IsProvisioning(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, err
		}
		return Result{}, &ProvisioningError{Reason: "provision sandbox", Err: err}
	}

	e.logger.Debug("session provisioned",
		"session", sess.ID,
		"language", lang.ID,
		"container", sess.ContainerID)

	// Teardown is unconditional, on every path from here on, under its
	// own context so caller cancellation cannot skip it.
	defer e.teardown(sess)

	res, err := e.run(ctx, sess, lang, req)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// run drives inject → compile → run for a provisioned session. Steps are
// strictly sequential; the session's deadline bounds the whole cycle.
func (e *Engine) run(ctx context.Context, sess *Session, lang LanguageConfig, req Request) (Result, error) {
	if err := e.backend.Inject(ctx, sess, []byte(req.SourceCode)); err != nil {
		return Result{}, fmt.Errorf("inject source: %w", err)
	}

	runCtx, cancel := context.WithDeadline(ctx, sess.Deadline)
	defer cancel()

	start := time.Now()
	sourcePath := sess.Language.SourceName()

	if lang.Compiled() {
		st, err := e.backend.Exec(runCtx, sess, renderArgv(lang.CompileCommand, sourcePath), nil)
		if err != nil {
			e.finish(sess, StateRuntimeFailed, Result{})
			return Result{}, fmt.Errorf("compile step: %w", err)
		}
		if st.TimedOut {
			return e.finish(sess, StateTimedOut, timedOutResult(st, PhaseCompile, start)), nil
		}
		if st.ExitCode != 0 {
			// Compiler diagnostics are the payload, not an error.
			return e.finish(sess, StateCompleted, failedResult(st, PhaseCompile, start)), nil
		}
	}

	argv := append(renderArgv(lang.RunCommand, sourcePath), req.Args...)
	st, err := e.backend.Exec(runCtx, sess, argv, []byte(req.Stdin))
	if err != nil {
		e.finish(sess, StateRuntimeFailed, Result{})
		return Result{}, fmt.Errorf("run step: %w", err)
	}
	if st.TimedOut {
		return e.finish(sess, StateTimedOut, timedOutResult(st, PhaseRun, start)), nil
	}

	res := Result{
		Success:   st.ExitCode == 0,
		Stdout:    st.Stdout,
		Stderr:    st.Stderr,
		ExitCode:  &st.ExitCode,
		Duration:  time.Since(start),
		Truncated: st.Truncated,
	}
	res.DurationMs = res.Duration.Milliseconds()
	if !res.Success {
		res.Phase = PhaseRun
	}
	return e.finish(sess, StateCompleted, res), nil
}

// finish records the session's terminal state and returns res unchanged.
// An illegal transition here is a programming error; it is logged and the
// result still returned — teardown problems must never mask the primary
// result.
func (e *Engine) finish(sess *Session, state SessionState, res Result) Result {
	if err := sess.Transition(state); err != nil {
		e.logger.Warn("session state error", "session", sess.ID, "error", err)
	}
	return res
}

// teardown reaps the session under a fresh context. Failures are logged and
// retried by the backend in the background; they never reach the caller.
func (e *Engine) teardown(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), e.teardownTimeout)
	defer cancel()
	if err := e.backend.Teardown(ctx, sess); err != nil {
		e.logger.Warn("teardown failed",
			"session", sess.ID,
			"container", sess.ContainerID,
			"error", err)
		return
	}
	e.logger.Debug("session reaped", "session", sess.ID)
}

func timedOutResult(st ExecStatus, phase Phase, start time.Time) Result {
	d := time.Since(start)
	return Result{
		Stdout:     st.Stdout,
		Stderr:     st.Stderr,
		Duration:   d,
		DurationMs: d.Milliseconds(),
		TimedOut:   true,
		Truncated:  st.Truncated,
		Phase:      phase,
	}
}

func failedResult(st ExecStatus, phase Phase, start time.Time) Result {
	d := time.Since(start)
	code := st.ExitCode
	return Result{
		Stdout:     st.Stdout,
		Stderr:     st.Stderr,
		ExitCode:   &code,
		Duration:   d,
		DurationMs: d.Milliseconds(),
		Truncated:  st.Truncated,
		Phase:      phase,
	}
}
