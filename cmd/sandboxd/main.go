// Command sandboxd is the code execution service.
//
// It receives code via HTTP, runs it in a throwaway hardened container on
// the configured Docker daemon, and returns the captured result. One
// container per request; nothing persists between executions.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sandbox "github.com/jerewy/codejoin-sandbox"
	"github.com/jerewy/codejoin-sandbox/docker"
	"github.com/jerewy/codejoin-sandbox/internal/config"
	"github.com/jerewy/codejoin-sandbox/observer"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmsgprefix)
	log.SetPrefix("[sandboxd] ")

	cfg := config.Load(os.Getenv("SANDBOX_CONFIG"))
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	health := sandbox.NewHealthMonitor(
		cfg.Health.BackoffFloor(),
		cfg.Health.BackoffCeiling(),
		cfg.Health.FailureThreshold,
	)

	backend, err := docker.New(docker.Config{
		Host:           cfg.Docker.Host,
		MaxOutputBytes: cfg.Limits.MaxOutputBytes,
		PullImages:     cfg.Docker.PullImages,
		Logger:         logger.With("component", "docker"),
	}, health)
	if err != nil {
		log.Fatalf("docker backend: %v", err)
	}
	defer backend.Close()

	engineOpts := []sandbox.EngineOption{
		sandbox.WithLogger(logger.With("component", "engine")),
	}
	if cfg.Limits.Concurrency > 0 {
		engineOpts = append(engineOpts, sandbox.WithConcurrency(cfg.Limits.Concurrency))
	}
	if cfg.Limits.MaxSourceBytes > 0 || cfg.Limits.MaxStdinBytes > 0 {
		engineOpts = append(engineOpts, sandbox.WithLimits(cfg.Limits.MaxSourceBytes, cfg.Limits.MaxStdinBytes))
	}
	if reg := registryFromConfig(cfg); reg != nil {
		engineOpts = append(engineOpts, sandbox.WithRegistry(reg))
	}

	var engine observer.Executor = sandbox.NewEngine(backend, health, engineOpts...)

	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(context.Background())
		if err != nil {
			log.Fatalf("observer init: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				log.Printf("observer shutdown: %v", err)
			}
		}()
		engine = observer.WrapEngine(engine, inst)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newHandler(engine),
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	log.Println("stopped")
}

// registryFromConfig builds a registry when limit overrides apply to the
// built-in catalog, nil to use the library default.
func registryFromConfig(cfg config.Config) *sandbox.Registry {
	if cfg.Limits.TimeoutSecs <= 0 && cfg.Limits.MemoryMB <= 0 {
		return nil
	}
	builtin := sandbox.NewRegistry()
	var overrides []sandbox.LanguageConfig
	for _, info := range builtin.List() {
		lc, err := builtin.Resolve(info.ID)
		if err != nil {
			continue
		}
		if cfg.Limits.TimeoutSecs > 0 {
			lc.DefaultTimeout = time.Duration(cfg.Limits.TimeoutSecs) * time.Second
		}
		if cfg.Limits.MemoryMB > 0 {
			lc.MemoryLimit = cfg.Limits.MemoryMB << 20
		}
		overrides = append(overrides, lc)
	}
	return sandbox.NewRegistry(overrides...)
}
