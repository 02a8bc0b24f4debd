package ports

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ErrExhausted reports that no free port was found within the scan range.
var ErrExhausted = errors.New("port range exhausted")

const (
	// DefaultSpan bounds how far FindAvailable scans past the starting port.
	DefaultSpan = 100
	// DefaultDialTimeout bounds the connect probe in IsOpen.
	DefaultDialTimeout = 500 * time.Millisecond
)

// Assignment describes the outcome of resolving a requested port.
type Assignment struct {
	Requested int
	Resolved  int
}

// Fallback reports whether the resolved port differs from the requested one.
func (a Assignment) Fallback() bool { return a.Resolved != a.Requested }

// Resolver answers which local ports are listening and which are free to
// bind. The zero value is usable; Host defaults to loopback.
type Resolver struct {
	Host        string
	DialTimeout time.Duration

	// canBind is swapped in tests to make exhaustion deterministic.
	canBind func(host string, port int) bool
}

func (r *Resolver) host() string {
	if r.Host == "" {
		return "127.0.0.1"
	}
	return r.Host
}

// IsOpen reports whether something is accepting TCP connections on port.
func (r *Resolver) IsOpen(port int) bool {
	timeout := r.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(r.host(), strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// CanBind reports whether port can be bound right now. A successful bind is
// immediately released.
func (r *Resolver) CanBind(port int) bool {
	if r.canBind != nil {
		return r.canBind(r.host(), port)
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(r.host(), strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// FindAvailable scans forward from start and returns the first bindable
// port. The scan covers at most span ports; ErrExhausted is returned when
// none of them can be bound.
func (r *Resolver) FindAvailable(start, span int) (int, error) {
	if span <= 0 {
		span = DefaultSpan
	}
	for port := start; port < start+span && port <= 65535; port++ {
		if r.CanBind(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w: no free port in %d-%d", ErrExhausted, start, start+span-1)
}

// Resolve assigns a port for a daemon that wants requested. The requested
// port is used when bindable; otherwise the scan continues from the next
// port. Whether a conflicting listener is a reusable daemon is decided by
// the caller before Resolve is consulted.
func (r *Resolver) Resolve(requested, span int) (Assignment, error) {
	if r.CanBind(requested) {
		return Assignment{Requested: requested, Resolved: requested}, nil
	}
	port, err := r.FindAvailable(requested+1, span)
	if err != nil {
		return Assignment{Requested: requested}, err
	}
	return Assignment{Requested: requested, Resolved: port}, nil
}
