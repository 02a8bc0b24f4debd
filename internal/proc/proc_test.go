package proc

import (
	"bytes"
	"context"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like shell")
	}
}

func shell(t *testing.T, script string) Options {
	t.Helper()
	return Options{Name: "test", Path: "/bin/sh", Args: []string{"-c", script}}
}

func waitExit(t *testing.T, h *Handle) Exit {
	t.Helper()
	e, ok := h.WaitExit(5 * time.Second)
	if !ok {
		t.Fatal("process did not exit in time")
	}
	return e
}

func TestStartCleanExit(t *testing.T) {
	requireUnix(t)
	h, err := Start(shell(t, "exit 0"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	e := waitExit(t, h)
	if e.Code != 0 || e.Err != nil {
		t.Fatalf("clean exit reported as %+v", e)
	}
}

func TestStartExitCode(t *testing.T) {
	requireUnix(t)
	h, err := Start(shell(t, "exit 3"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	e := waitExit(t, h)
	if e.Code != 3 {
		t.Fatalf("exit code = %d, want 3", e.Code)
	}
	if e.Err == nil {
		t.Fatal("non-zero exit should carry an error")
	}
}

func TestStartMissingBinary(t *testing.T) {
	if _, err := Start(Options{Name: "ghost", Path: "/nonexistent/binary"}); err == nil {
		t.Fatal("expected spawn error")
	}
}

func TestTerminate(t *testing.T) {
	requireUnix(t)
	h, err := Start(shell(t, "sleep 30"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !h.Alive() {
		t.Fatal("sleeper should be alive")
	}
	if err := h.Terminate(); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	e := waitExit(t, h)
	if e.Err == nil {
		t.Fatal("signal death should carry an error")
	}
	if h.Alive() {
		t.Fatal("handle still alive after exit")
	}
}

func TestKill(t *testing.T) {
	requireUnix(t)
	// Traps TERM so only KILL gets it down.
	h, err := Start(shell(t, "trap '' TERM; sleep 30"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = h.Terminate()
	time.Sleep(50 * time.Millisecond)
	if !h.Alive() {
		t.Fatal("TERM trap should have kept it alive")
	}
	if err := h.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	waitExit(t, h)
}

func TestTerminateReachesChildren(t *testing.T) {
	requireUnix(t)
	h, err := Start(shell(t, "sleep 30 & wait"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	_ = h.Terminate()
	e, ok := h.WaitExit(3 * time.Second)
	if !ok {
		t.Fatal("group signal did not end the tree")
	}
	_ = e
}

type closeRecorder struct {
	bytes.Buffer
	mu     sync.Mutex
	closed bool
}

func (c *closeRecorder) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *closeRecorder) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestWritersClosedAfterExit(t *testing.T) {
	requireUnix(t)
	out := &closeRecorder{}
	opts := shell(t, "echo captured")
	opts.Stdout = out
	h, err := Start(opts)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitExit(t, h)
	if !out.Closed() {
		t.Fatal("stdout writer not closed after exit")
	}
	if !strings.Contains(out.String(), "captured") {
		t.Fatalf("stdout not captured: %q", out.String())
	}
}

func TestRunCapturesFailureOutput(t *testing.T) {
	requireUnix(t)
	err := Run(context.Background(), shell(t, "echo init exploded >&2; exit 1"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "init exploded") {
		t.Fatalf("error lacks output tail: %v", err)
	}
}

func TestRunStdin(t *testing.T) {
	requireUnix(t)
	opts := shell(t, `read x; [ "$x" = "secret" ] || exit 1`)
	opts.Stdin = strings.NewReader("secret\n")
	if err := Run(context.Background(), opts); err != nil {
		t.Fatalf("stdin not delivered: %v", err)
	}
}

func TestRunContextCancel(t *testing.T) {
	requireUnix(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := Run(ctx, shell(t, "sleep 30"))
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("Run ignored context")
	}
}

func TestExitCodeMapping(t *testing.T) {
	if exitCode(nil) != 0 {
		t.Fatal("nil error should map to 0")
	}
	if exitCode(context.Canceled) != -1 {
		t.Fatal("non-exec error should map to -1")
	}
}
