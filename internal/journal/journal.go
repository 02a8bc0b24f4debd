// Package journal defines the append-only lifecycle event log. Every state
// transition a supervisor makes can be exported to an external store for
// audit and analytics; sink failures never block lifecycle work.
package journal

import (
	"context"
	"time"
)

// Event is one recorded state transition.
type Event struct {
	Daemon  string    `json:"daemon"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Mode    string    `json:"mode"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Sink is a destination for lifecycle events. Implementations must be safe
// for concurrent use.
type Sink interface {
	Append(ctx context.Context, e Event) error
	Close() error
}
