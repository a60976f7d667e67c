// Package sandbox is a sandboxed, multi-language code-execution engine.
//
// Given a language identifier, a source snippet, and optional standard input,
// it compiles (when the language requires it) and runs the snippet inside an
// isolated, resource-bounded, network-disabled container, and returns captured
// output, exit status, and timing.
//
// # Quick Start
//
// Create an engine backed by the local Docker daemon:
//
//	health := sandbox.NewHealthMonitor(0, 0, 0) // defaults
//	backend, err := docker.New(docker.Config{}, health)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer backend.Close()
//
//	engine := sandbox.NewEngine(backend, health,
//		sandbox.WithConcurrency(8),
//		sandbox.WithLogger(slog.Default()),
//	)
//
//	res, err := engine.Execute(ctx, sandbox.Request{
//		Language:   "python",
//		SourceCode: `print("Hello, World!")`,
//	})
//
// # Core Contracts
//
// The root package defines the contracts that backends implement:
//
//   - [Backend] — provisions, drives, and tears down one container per execution
//   - [Registry] — static catalog of supported languages
//   - [Validator] — request admission before any container is touched
//   - [HealthMonitor] — daemon reachability gate with exponential backoff
//   - [Engine] — composes the above into one request/response cycle
//
// User code failing to compile, exiting nonzero, or exceeding its time budget
// is a normal [Result] with Success=false, never a Go error. Errors are
// reserved for infrastructure faults: [ValidationError] and
// [ProvisioningError].
//
// # Included Implementations
//
// Backends: docker (container per execution via the Docker Engine API).
// Observability: observer (OTEL traces and metrics around the engine).
//
// See cmd/sandboxd for a complete HTTP execution service.
package sandbox
