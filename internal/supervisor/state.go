package supervisor

import (
	"fmt"
	"time"

	"github.com/peerviser/peerviser/internal/registry"
)

// State is the lifecycle state of one supervised daemon. Exactly one state
// holds per daemon at any instant; transitions happen only on the
// supervisor's own goroutine.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText lets State render as its name in JSON payloads.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "stopped":
		*s = StateStopped
	case "starting":
		*s = StateStarting
	case "running":
		*s = StateRunning
	case "stopping":
		*s = StateStopping
	case "error":
		*s = StateError
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// Status is the caller-visible answer of Status().
type Status struct {
	Daemon string
	State  State
	Err    error
}

// Transition is pushed to listeners on every state change.
type Transition struct {
	Daemon string
	From   State
	To     State
	Mode   registry.Mode
	Err    error
	At     time.Time
}

// Listener receives transitions synchronously on the supervisor goroutine;
// implementations must hand off, not block.
type Listener func(Transition)
