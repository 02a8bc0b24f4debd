package supervisor

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a daemon landed in Error or died. All kinds
// except FailHealthCheck are terminal for the attempt: no automatic retry,
// a fresh Start must be issued.
type FailureKind int

const (
	FailUnknown FailureKind = iota
	FailBinaryNotFound
	FailConfigWrite
	FailIdentityInit
	FailPortExhausted
	FailSpawn
	FailStartupTimeout
	FailUnexpectedExit
	FailHealthCheck
)

func (k FailureKind) String() string {
	switch k {
	case FailBinaryNotFound:
		return "binary_not_found"
	case FailConfigWrite:
		return "config_write_failed"
	case FailIdentityInit:
		return "identity_init_failed"
	case FailPortExhausted:
		return "port_exhausted"
	case FailSpawn:
		return "spawn_failed"
	case FailStartupTimeout:
		return "startup_timeout"
	case FailUnexpectedExit:
		return "unexpected_exit"
	case FailHealthCheck:
		return "health_check_failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the kind ends the start attempt.
func (k FailureKind) Terminal() bool { return k != FailHealthCheck && k != FailUnknown }

// Failure is the error type surfaced by Status and transitions. It keeps
// the classification alongside a human-readable message.
type Failure struct {
	Kind    FailureKind
	Daemon  string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	msg := f.Message
	if msg == "" {
		msg = f.Kind.String()
	}
	if f.Err != nil {
		return fmt.Sprintf("daemon %s: %s: %v", f.Daemon, msg, f.Err)
	}
	return fmt.Sprintf("daemon %s: %s", f.Daemon, msg)
}

func (f *Failure) Unwrap() error { return f.Err }

func newFailure(kind FailureKind, daemon, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Daemon: daemon, Message: fmt.Sprintf(format, args...)}
}

func wrapFailure(kind FailureKind, daemon string, err error, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Daemon: daemon, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the failure classification from an error chain,
// FailUnknown when none is present.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailUnknown
}
