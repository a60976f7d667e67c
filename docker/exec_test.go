package docker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/docker/client"

	sandbox "github.com/jerewy/codejoin-sandbox"
)

// fakeDaemon serves just enough of the Engine API for exec-inspect tests:
// the version ping plus /exec/{id}/json, answered by inspect.
func fakeDaemon(t *testing.T, inspect func(w http.ResponseWriter)) *Backend {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/_ping"):
			w.Header().Set("API-Version", "1.44")
			w.Header().Set("OSType", "linux")
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(r.URL.Path, "/json"):
			inspect(w)
		default:
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	cli, err := client.NewClientWithOpts(
		client.WithHost("tcp://"+strings.TrimPrefix(srv.URL, "http://")),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	b := testBackend(sandbox.NewHealthMonitor(0, 0, 0))
	b.cli = cli
	return b
}

func writeInspect(w http.ResponseWriter, running bool, exitCode int) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ID":       "exec-1",
		"Running":  running,
		"ExitCode": exitCode,
	})
}

func TestFinishExecDeadlineWhileProcessAlive(t *testing.T) {
	// A program that closes its own stdout/stderr and keeps looping: the
	// streams reach EOF but inspect keeps reporting Running.
	b := fakeDaemon(t, func(w http.ResponseWriter) {
		writeInspect(w, true, 0)
	})

	stdout := newCappedBuffer(b.maxOutput)
	stderr := newCappedBuffer(b.maxOutput)
	stdout.Write([]byte("partial"))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	st, err := b.finishExec(ctx, "exec-1", stdout, stderr)
	if err != nil {
		t.Fatalf("a deadline on a live process must be a timeout, not an error: %v", err)
	}
	if !st.TimedOut {
		t.Fatalf("TimedOut not set: %+v", st)
	}
	if st.Stdout != "partial" {
		t.Fatalf("partial output lost: %q", st.Stdout)
	}
}

func TestFinishExecResolvesExitCode(t *testing.T) {
	b := fakeDaemon(t, func(w http.ResponseWriter) {
		writeInspect(w, false, 3)
	})

	stdout := newCappedBuffer(b.maxOutput)
	stderr := newCappedBuffer(b.maxOutput)
	stderr.Write([]byte("boom\n"))

	st, err := b.finishExec(context.Background(), "exec-1", stdout, stderr)
	if err != nil {
		t.Fatalf("finishExec: %v", err)
	}
	if st.TimedOut || st.ExitCode != 3 || st.Stderr != "boom\n" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestAwaitExecPollsUntilStopped(t *testing.T) {
	var calls atomic.Int32
	b := fakeDaemon(t, func(w http.ResponseWriter) {
		// Still running on the first inspect, exited on the second: the
		// daemon records the exit code a beat after the streams close.
		writeInspect(w, calls.Add(1) < 2, 0)
	})

	code, err := b.awaitExec(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("awaitExec: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if calls.Load() < 2 {
		t.Fatalf("inspect calls = %d, want at least 2", calls.Load())
	}
}
