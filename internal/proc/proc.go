package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Options describes one process launch: a daemon binary or a one-shot init
// command. Stdin is only consumed by Run; daemons get no stdin.
type Options struct {
	Name   string
	Path   string
	Args   []string
	Dir    string
	Env    []string
	Stdin  io.Reader
	Stdout io.WriteCloser
	Stderr io.WriteCloser
}

// Exit describes how a process left. Code is -1 when no exit status is
// available (signal death before wait, wait failure).
type Exit struct {
	Code int
	Err  error
}

// Handle owns one spawned process. A monitor goroutine holds the only
// cmd.Wait call; everyone else observes the exit through Done.
type Handle struct {
	name string
	cmd  *exec.Cmd
	pid  int

	exitCh chan Exit

	mu     sync.Mutex
	exited bool

	stdout io.WriteCloser
	stderr io.WriteCloser
}

// Start spawns the process in its own group and begins monitoring it. The
// returned handle is live; its exit arrives exactly once on Done.
func Start(opts Options) (*Handle, error) {
	cmd := exec.Command(opts.Path, opts.Args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	configureSysProcAttr(cmd, false)

	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if opts.Stderr != nil {
		cmd.Stderr = opts.Stderr
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}

	if err := cmd.Start(); err != nil {
		closeWriter(opts.Stdout)
		closeWriter(opts.Stderr)
		return nil, fmt.Errorf("spawn %s: %w", opts.Name, err)
	}

	h := &Handle{
		name:   opts.Name,
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		exitCh: make(chan Exit, 1),
		stdout: opts.Stdout,
		stderr: opts.Stderr,
	}
	go h.monitor()
	return h, nil
}

// monitor owns cmd.Wait. It closes the capture writers after the process is
// reaped so rotated logs are flushed, then publishes the exit.
func (h *Handle) monitor() {
	err := h.cmd.Wait()

	h.mu.Lock()
	h.exited = true
	h.mu.Unlock()

	closeWriter(h.stdout)
	closeWriter(h.stderr)

	h.exitCh <- Exit{Code: exitCode(err), Err: err}
}

// Done delivers the process exit exactly once.
func (h *Handle) Done() <-chan Exit { return h.exitCh }

func (h *Handle) PID() int { return h.pid }

func (h *Handle) Name() string { return h.name }

// Terminate asks the whole process group to shut down.
func (h *Handle) Terminate() error {
	return killProcess(-h.pid, syscall.SIGTERM)
}

// Kill forcibly ends the whole process group.
func (h *Handle) Kill() error {
	return killProcess(-h.pid, syscall.SIGKILL)
}

// Alive reports whether the process is still running. A reaped or zombie
// process counts as gone even before Done has been drained.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	exited := h.exited
	h.mu.Unlock()
	if exited {
		return false
	}
	// A quickly-exiting child can linger as a zombie until Wait reaps it.
	if runtime.GOOS == "linux" && isZombieLinux(h.pid) {
		return false
	}
	return processExists(h.pid)
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z) on Linux.
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// Run executes a short-lived command to completion, e.g. a daemon's identity
// init. Output is captured and the tail is folded into the error so a failed
// init explains itself.
func Run(ctx context.Context, opts Options) error {
	cmd := exec.CommandContext(ctx, opts.Path, opts.Args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = opts.Env
	}
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %s", opts.Name, err, outputTail(out))
	}
	return nil
}

// WaitExit drains the handle's exit with a bound, for callers outside the
// supervisor loop (tests, shutdown paths).
func (h *Handle) WaitExit(timeout time.Duration) (Exit, bool) {
	select {
	case e := <-h.exitCh:
		return e, true
	case <-time.After(timeout):
		return Exit{}, false
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func outputTail(out []byte) string {
	const max = 512
	s := bytes.TrimSpace(out)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	if len(s) == 0 {
		return "(no output)"
	}
	return string(s)
}

func closeWriter(w io.WriteCloser) {
	if w != nil {
		_ = w.Close()
	}
}
