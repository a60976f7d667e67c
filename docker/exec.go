package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	sandbox "github.com/jerewy/codejoin-sandbox"
)

// execInspectInterval paces exit-code polling after the output streams close.
const execInspectInterval = 50 * time.Millisecond

// Inject streams source into the session's container over an exec's stdin:
//
//	/bin/sh -c 'cat > /workspace/<name>'
//
// The destination path is the engine-chosen constant for the language, never
// request data, so no quoting or escaping question arises, and the stdin
// stream carries arbitrary bytes intact.
func (b *Backend) Inject(ctx context.Context, sess *sandbox.Session, source []byte) error {
	dest := workspaceDir + "/" + sess.Language.SourceName()

	resp, err := b.cli.ContainerExecCreate(ctx, sess.ContainerID, container.ExecOptions{
		User:         nonRootUser,
		WorkingDir:   workspaceDir,
		Cmd:          []string{"/bin/sh", "-c", "cat > " + dest},
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	b.observe(err)
	if err != nil {
		return &sandbox.ProvisioningError{Reason: "create inject exec", Err: err}
	}

	hijack, err := b.cli.ContainerExecAttach(ctx, resp.ID, container.ExecAttachOptions{})
	b.observe(err)
	if err != nil {
		return &sandbox.ProvisioningError{Reason: "attach inject exec", Err: err}
	}
	defer hijack.Close()

	if _, err := hijack.Conn.Write(source); err != nil {
		return &sandbox.ProvisioningError{Reason: "write source", Err: err}
	}
	if err := hijack.CloseWrite(); err != nil {
		return &sandbox.ProvisioningError{Reason: "close source stream", Err: err}
	}

	// cat exits once stdin closes; drain so the exec finishes.
	if _, err := stdcopy.StdCopy(io.Discard, io.Discard, hijack.Reader); err != nil && ctx.Err() == nil {
		return &sandbox.ProvisioningError{Reason: "drain inject exec", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	code, err := b.awaitExec(ctx, resp.ID)
	if err != nil {
		return err
	}
	if code != 0 {
		return &sandbox.ProvisioningError{Reason: fmt.Sprintf("inject exited with code %d", code)}
	}
	return nil
}

// Exec runs argv inside the session's container and captures both streams up
// to the configured cap. A context deadline is reported as a timed-out
// status with whatever output was captured, not as an error; the caller's
// teardown removes the container and with it any still-running process.
func (b *Backend) Exec(ctx context.Context, sess *sandbox.Session, argv []string, stdin []byte) (sandbox.ExecStatus, error) {
	resp, err := b.cli.ContainerExecCreate(ctx, sess.ContainerID, container.ExecOptions{
		User:         nonRootUser,
		WorkingDir:   workspaceDir,
		Env:          sess.Language.Env,
		Cmd:          argv,
		AttachStdin:  len(stdin) > 0,
		AttachStdout: true,
		AttachStderr: true,
	})
	b.observe(err)
	if err != nil {
		return sandbox.ExecStatus{}, fmt.Errorf("create exec: %w", err)
	}

	hijack, err := b.cli.ContainerExecAttach(ctx, resp.ID, container.ExecAttachOptions{})
	b.observe(err)
	if err != nil {
		return sandbox.ExecStatus{}, fmt.Errorf("attach exec: %w", err)
	}
	defer hijack.Close()

	if len(stdin) > 0 {
		go func() {
			// Write errors here mean the process exited without reading
			// stdin, which the exit code already reflects.
			_, _ = hijack.Conn.Write(stdin)
			_ = hijack.CloseWrite()
		}()
	}

	stdout := newCappedBuffer(b.maxOutput)
	stderr := newCappedBuffer(b.maxOutput)

	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, hijack.Reader)
		copyDone <- err
	}()

	select {
	case <-ctx.Done():
		// Unblock the copier; partial output stays valid.
		hijack.Close()
		<-copyDone
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return timedOutStatus(stdout, stderr), nil
		}
		return sandbox.ExecStatus{}, ctx.Err()
	case err := <-copyDone:
		if err != nil {
			return sandbox.ExecStatus{}, fmt.Errorf("stream exec output: %w", err)
		}
	}

	return b.finishExec(ctx, resp.ID, stdout, stderr)
}

// finishExec resolves the exec's exit code once its streams have closed.
// Closed streams do not prove the process exited — a program may close its
// own stdout/stderr and keep running — so a deadline hit while polling is
// still a timeout with the captured output, never an infrastructure error.
func (b *Backend) finishExec(ctx context.Context, execID string, stdout, stderr *cappedBuffer) (sandbox.ExecStatus, error) {
	code, err := b.awaitExec(ctx, execID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return timedOutStatus(stdout, stderr), nil
		}
		return sandbox.ExecStatus{}, err
	}
	return sandbox.ExecStatus{
		ExitCode:  code,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}, nil
}

func timedOutStatus(stdout, stderr *cappedBuffer) sandbox.ExecStatus {
	return sandbox.ExecStatus{
		TimedOut:  true,
		ExitCode:  -1,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}
}

// awaitExec polls exec inspect until the process is gone and returns its
// exit code. The streams closing almost always means the exec finished; the
// loop covers the daemon's small lag in recording the code.
func (b *Backend) awaitExec(ctx context.Context, execID string) (int, error) {
	for {
		ins, err := b.cli.ContainerExecInspect(ctx, execID)
		b.observe(err)
		if err != nil {
			return 0, fmt.Errorf("inspect exec: %w", err)
		}
		if !ins.Running {
			return ins.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(execInspectInterval):
		}
	}
}
