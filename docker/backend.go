// Package docker implements sandbox.Backend against the Docker Engine API:
// one ephemeral container per execution, network disabled, memory and pids
// capped, non-root, read-only rootfs with tmpfs workspaces.
//
// The daemon endpoint is treated as an opaque configured address; the
// package encodes no assumptions about socket paths or host OS.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	sandbox "github.com/jerewy/codejoin-sandbox"
)

const (
	// workspaceDir is the fixed in-container working directory. Source
	// files, compiled artifacts, and nothing else live here, on a tmpfs.
	workspaceDir = "/workspace"

	// nonRootUser is uid:gid 65534 (nobody), forced on every container
	// and exec regardless of what the image declares.
	nonRootUser = "65534:65534"

	// labelManaged marks containers owned by this engine so a startup
	// sweep can reap leftovers from a previous crash.
	labelManaged = "codejoin.sandbox"
	// labelSession carries the owning session ID for debugging.
	labelSession = "codejoin.session"

	containerNamePrefix = "codejoin-sbx-"

	// DefaultMaxOutputBytes caps each captured stream per exec.
	DefaultMaxOutputBytes = 512 * 1024

	workspaceTmpfsOpts = "rw,exec,nosuid,size=64m,uid=65534,gid=65534"
	scratchTmpfsOpts   = "rw,exec,nosuid,size=256m,uid=65534,gid=65534"

	teardownRetryQueueSize = 64
	teardownMaxAttempts    = 3
)

// Config configures the Docker backend.
type Config struct {
	// Host is the daemon endpoint. Empty means the client resolves it
	// from the environment (DOCKER_HOST et al.).
	Host string
	// MaxOutputBytes caps captured stdout and stderr per exec
	// (default: DefaultMaxOutputBytes). Excess bytes are dropped.
	MaxOutputBytes int
	// PullImages pulls a missing sandbox image on first use instead of
	// failing the provision.
	PullImages bool
	// Logger receives backend events. Nil means no output.
	Logger *slog.Logger
}

// Backend runs sandboxes on a Docker daemon. It owns the client connection
// and every container-handle operation; the health monitor is updated after
// each daemon interaction regardless of outcome.
type Backend struct {
	cli       *client.Client
	health    *sandbox.HealthMonitor
	logger    *slog.Logger
	maxOutput int
	pull      bool

	retryQ chan retryRemoval
	quit   chan struct{}
	doneCh chan struct{}
}

// compile-time check
var _ sandbox.Backend = (*Backend)(nil)

type retryRemoval struct {
	containerID string
	sessionID   string
	attempt     int
}

// New connects to the daemon and sweeps any containers left over from a
// previous process. The sweep is best-effort; a down daemon surfaces on the
// first provision, not here.
func New(cfg Config, health *sandbox.HealthMonitor) (*Backend, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxOutput := cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputBytes
	}

	b := &Backend{
		cli:       cli,
		health:    health,
		logger:    logger,
		maxOutput: maxOutput,
		pull:      cfg.PullImages,
		retryQ:    make(chan retryRemoval, teardownRetryQueueSize),
		quit:      make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go b.retryLoop()
	b.sweepOrphans(context.Background())
	return b, nil
}

// Close stops the teardown retry worker and releases the client. Queued
// removals are abandoned; the next process's startup sweep reclaims them.
func (b *Backend) Close() error {
	close(b.quit)
	<-b.doneCh
	return b.cli.Close()
}

// observe updates the health monitor from the outcome of one daemon call.
// Context expiry is the caller's deadline, not a daemon verdict, and a
// not-found answer is a healthy daemon saying no.
func (b *Backend) observe(err error) {
	switch {
	case err == nil:
		b.health.RecordSuccess()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case cerrdefs.IsNotFound(err):
		b.health.RecordSuccess()
	default:
		b.health.RecordFailure()
	}
}

// Provision creates and starts one container for lang and binds it to a
// fresh session. Fails fast without touching the daemon while the health
// monitor's backoff window is closed.
func (b *Backend) Provision(ctx context.Context, lang sandbox.LanguageConfig) (*sandbox.Session, error) {
	if !b.health.MayAttempt() {
		return nil, &sandbox.ProvisioningError{Reason: "daemon unavailable, backing off"}
	}

	sess := sandbox.NewSession(lang)
	if err := sess.Transition(sandbox.StateProvisioning); err != nil {
		return nil, err
	}

	id, err := b.createContainer(ctx, sess, lang)
	if err != nil {
		b.failProvision(sess)
		return nil, err
	}
	sess.ContainerID = id

	if err := b.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		b.observe(err)
		b.removeQuietly(id, sess.ID)
		b.failProvision(sess)
		return nil, &sandbox.ProvisioningError{Reason: "start container", Err: err}
	}
	b.observe(nil)

	if err := sess.Transition(sandbox.StateRunning); err != nil {
		b.removeQuietly(id, sess.ID)
		return nil, err
	}
	return sess, nil
}

func (b *Backend) createContainer(ctx context.Context, sess *sandbox.Session, lang sandbox.LanguageConfig) (string, error) {
	cfg := &container.Config{
		Image: lang.Image,
		// Keep-alive init; real work happens through execs so compile
		// and run phases stay separable.
		Cmd:             []string{"/bin/sh", "-c", "while :; do sleep 3600; done"},
		WorkingDir:      workspaceDir,
		User:            nonRootUser,
		Env:             lang.Env,
		NetworkDisabled: lang.NetworkDisabled,
		Labels: map[string]string{
			labelManaged: "true",
			labelSession: sess.ID,
		},
	}
	pids := lang.PidsLimit
	host := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges:true"},
		Tmpfs: map[string]string{
			workspaceDir: workspaceTmpfsOpts,
			"/tmp":       scratchTmpfsOpts,
		},
		Resources: container.Resources{
			Memory:     lang.MemoryLimit,
			MemorySwap: lang.MemoryLimit,
			NanoCPUs:   int64(lang.CPULimit * 1e9),
			PidsLimit:  &pids,
		},
	}
	name := containerNamePrefix + strings.ReplaceAll(sess.ID, "-", "")

	resp, err := b.cli.ContainerCreate(ctx, cfg, host, nil, nil, name)
	if err != nil && cerrdefs.IsNotFound(err) && b.pull {
		b.observe(err)
		if pullErr := b.pullImage(ctx, lang.Image); pullErr != nil {
			return "", &sandbox.ProvisioningError{Reason: "pull image " + lang.Image, Err: pullErr}
		}
		resp, err = b.cli.ContainerCreate(ctx, cfg, host, nil, nil, name)
	}
	b.observe(err)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return "", &sandbox.ProvisioningError{Reason: "image missing: " + lang.Image, Err: err}
		}
		return "", &sandbox.ProvisioningError{Reason: "create container", Err: err}
	}
	return resp.ID, nil
}

func (b *Backend) pullImage(ctx context.Context, ref string) error {
	rc, err := b.cli.ImagePull(ctx, ref, image.PullOptions{})
	b.observe(err)
	if err != nil {
		return err
	}
	defer rc.Close()
	// The pull completes only once the progress stream is drained.
	_, err = io.Copy(io.Discard, rc)
	return err
}

// failProvision records the terminal provisioning state. The container, if
// one was created, has already been removed.
func (b *Backend) failProvision(sess *sandbox.Session) {
	if err := sess.Transition(sandbox.StateProvisioningFailed); err == nil {
		_ = sess.Transition(sandbox.StateReaped)
	}
}

// Teardown force-removes the session's container and marks the session
// reaped. Idempotent: a handle the daemon no longer knows about — the race
// between natural exit and a timeout-triggered kill — is success, noted at
// debug level only. Other failures are retried in the background a bounded
// number of times; the caller still sees them as an error to log, never as
// a result-masking fault.
func (b *Backend) Teardown(ctx context.Context, sess *sandbox.Session) error {
	if sess == nil || sess.Reaped() {
		return nil
	}
	if sess.ContainerID == "" {
		return sess.Transition(sandbox.StateReaped)
	}

	err := b.cli.ContainerRemove(ctx, sess.ContainerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	b.observe(err)
	if err == nil || cerrdefs.IsNotFound(err) {
		if err != nil {
			b.logger.Debug("container already gone",
				"session", sess.ID,
				"container", sess.ContainerID)
		}
		return sess.Transition(sandbox.StateReaped)
	}

	b.enqueueRetry(retryRemoval{containerID: sess.ContainerID, sessionID: sess.ID, attempt: 1})
	_ = sess.Transition(sandbox.StateReaped)
	return fmt.Errorf("remove container %s: %w", sess.ContainerID, err)
}

// removeQuietly is the cleanup path for half-provisioned containers.
func (b *Backend) removeQuietly(containerID, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := b.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		b.enqueueRetry(retryRemoval{containerID: containerID, sessionID: sessionID, attempt: 1})
	}
}

func (b *Backend) enqueueRetry(r retryRemoval) {
	select {
	case b.retryQ <- r:
	default:
		b.logger.Warn("teardown retry queue full, dropping",
			"container", r.containerID,
			"session", r.sessionID)
	}
}

// retryLoop drains the teardown retry queue until Close. Each entry gets a
// bounded number of attempts with a linear delay; the startup sweep of the
// next process is the final safety net.
func (b *Backend) retryLoop() {
	defer close(b.doneCh)
	for {
		var r retryRemoval
		select {
		case <-b.quit:
			return
		case r = <-b.retryQ:
		}

		select {
		case <-b.quit:
			return
		case <-time.After(time.Duration(r.attempt) * time.Second):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := b.cli.ContainerRemove(ctx, r.containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
		cancel()
		b.observe(err)

		if err == nil || cerrdefs.IsNotFound(err) {
			b.logger.Debug("container removed on retry",
				"container", r.containerID,
				"session", r.sessionID,
				"attempt", r.attempt)
			continue
		}
		if r.attempt >= teardownMaxAttempts {
			b.logger.Warn("giving up on container removal",
				"container", r.containerID,
				"session", r.sessionID,
				"attempts", r.attempt,
				"error", err)
			continue
		}
		r.attempt++
		b.enqueueRetry(r)
	}
}

// sweepOrphans removes containers carrying the engine's label that survived
// a previous process. Sessions are ephemeral; nothing labeled should exist
// at startup.
func (b *Backend) sweepOrphans(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	list, err := b.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelManaged+"=true")),
	})
	if err != nil {
		b.logger.Warn("orphan sweep failed", "error", err)
		return
	}
	for _, c := range list {
		if err := b.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil && !cerrdefs.IsNotFound(err) {
			b.logger.Warn("orphan removal failed", "container", c.ID, "error", err)
			continue
		}
		b.logger.Info("removed orphaned sandbox container", "container", c.ID)
	}
}
