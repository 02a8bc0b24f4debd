package registry

import (
	"sync"
	"time"
)

// Mode identifies who owns a daemon that is starting or running.
type Mode int

const (
	ModeNone Mode = iota
	ModeBundled
	ModeReused
	ModeExternal
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeBundled:
		return "bundled"
	case ModeReused:
		return "reused"
	case ModeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// MarshalText lets Mode render as its name in JSON payloads.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "bundled":
		*m = ModeBundled
	case "reused":
		*m = ModeReused
	case "external":
		*m = ModeExternal
	default:
		*m = ModeNone
	}
	return nil
}

// Record is the externally visible state of one daemon. StatusMessage is the
// persistent caller-set status line; TempMessage, when non-empty, overlays it
// for display without destroying it.
type Record struct {
	APIURL        string `json:"api_url,omitempty"`
	GatewayURL    string `json:"gateway_url,omitempty"`
	Mode          Mode   `json:"mode"`
	StatusMessage string `json:"status_message,omitempty"`
	TempMessage   string `json:"temp_message,omitempty"`
}

// DisplayMessage resolves the overlay: the temporary message when present,
// otherwise the persistent one.
func (r Record) DisplayMessage() string {
	if r.TempMessage != "" {
		return r.TempMessage
	}
	return r.StatusMessage
}

// Update carries a partial record mutation; nil fields are left untouched.
type Update struct {
	APIURL        *string
	GatewayURL    *string
	Mode          *Mode
	StatusMessage *string
}

// Snapshot is a full copy of the registry, keyed by daemon name. Observers
// receive one on every mutation.
type Snapshot map[string]Record

// Observer receives the full snapshot after each mutation. Observers are
// expected to be idempotent re-renderers, not stream consumers.
type Observer func(Snapshot)

type entry struct {
	rec        Record
	overlaySeq uint64
	overlayTmr *time.Timer
}

// Registry is the single source of truth for all daemons' externally visible
// state. Records are mutated only by the owning supervisors; the registry
// itself is safe for concurrent use across daemons.
type Registry struct {
	mu        sync.Mutex
	entries   map[string]*entry
	observers map[int]Observer
	nextObs   int
}

// New creates a registry seeded with a null record per daemon name.
func New(daemons ...string) *Registry {
	g := &Registry{
		entries:   make(map[string]*entry, len(daemons)),
		observers: make(map[int]Observer),
	}
	for _, name := range daemons {
		g.entries[name] = &entry{}
	}
	return g
}

// Add ensures a null record exists for name.
func (g *Registry) Add(name string) {
	g.mu.Lock()
	if _, ok := g.entries[name]; !ok {
		g.entries[name] = &entry{}
	}
	g.mu.Unlock()
}

// Subscribe registers an observer and returns its cancel function. The
// observer is invoked synchronously on the mutating goroutine.
func (g *Registry) Subscribe(fn Observer) func() {
	g.mu.Lock()
	id := g.nextObs
	g.nextObs++
	g.observers[id] = fn
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		delete(g.observers, id)
		g.mu.Unlock()
	}
}

// Snapshot returns a copy of all records.
func (g *Registry) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

// Get returns the record for name and whether it exists.
func (g *Registry) Get(name string) (Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[name]
	if !ok {
		return Record{}, false
	}
	return e.rec, true
}

// Update applies a partial mutation to name's record and broadcasts.
func (g *Registry) Update(name string, u Update) {
	g.mu.Lock()
	e := g.entryLocked(name)
	if u.APIURL != nil {
		e.rec.APIURL = *u.APIURL
	}
	if u.GatewayURL != nil {
		e.rec.GatewayURL = *u.GatewayURL
	}
	if u.Mode != nil {
		e.rec.Mode = *u.Mode
	}
	if u.StatusMessage != nil {
		e.rec.StatusMessage = *u.StatusMessage
	}
	g.mu.Unlock()
	g.broadcast()
}

// SetStatusMessage replaces the persistent status line, leaving any overlay
// in place.
func (g *Registry) SetStatusMessage(name, msg string) {
	g.mu.Lock()
	g.entryLocked(name).rec.StatusMessage = msg
	g.mu.Unlock()
	g.broadcast()
}

// SetErrorState overlays msg on top of the persistent status message. The
// persistent message is untouched and reappears once the overlay is cleared.
func (g *Registry) SetErrorState(name, msg string) {
	g.mu.Lock()
	g.setOverlayLocked(g.entryLocked(name), msg)
	g.mu.Unlock()
	g.broadcast()
}

// SetTempMessage overlays msg and clears it automatically after ttl. A ttl
// of zero keeps the overlay until it is cleared or replaced.
func (g *Registry) SetTempMessage(name, msg string, ttl time.Duration) {
	g.mu.Lock()
	e := g.entryLocked(name)
	g.setOverlayLocked(e, msg)
	if ttl > 0 {
		seq := e.overlaySeq
		e.overlayTmr = time.AfterFunc(ttl, func() { g.expireOverlay(name, seq) })
	}
	g.mu.Unlock()
	g.broadcast()
}

// ClearErrorState removes the overlay, revealing the persistent message.
func (g *Registry) ClearErrorState(name string) {
	g.mu.Lock()
	e := g.entryLocked(name)
	if e.rec.TempMessage == "" {
		g.mu.Unlock()
		return
	}
	g.clearOverlayLocked(e)
	g.mu.Unlock()
	g.broadcast()
}

// Clear resets name's record to the null record and broadcasts.
func (g *Registry) Clear(name string) {
	g.mu.Lock()
	e := g.entryLocked(name)
	g.clearOverlayLocked(e)
	e.rec = Record{}
	g.mu.Unlock()
	g.broadcast()
}

// Close cancels all overlay timers. Records are left as-is.
func (g *Registry) Close() {
	g.mu.Lock()
	for _, e := range g.entries {
		if e.overlayTmr != nil {
			e.overlayTmr.Stop()
			e.overlayTmr = nil
		}
	}
	g.mu.Unlock()
}

func (g *Registry) entryLocked(name string) *entry {
	e, ok := g.entries[name]
	if !ok {
		e = &entry{}
		g.entries[name] = e
	}
	return e
}

// setOverlayLocked replaces the overlay and invalidates any pending expiry
// belonging to the previous one.
func (g *Registry) setOverlayLocked(e *entry, msg string) {
	if e.overlayTmr != nil {
		e.overlayTmr.Stop()
		e.overlayTmr = nil
	}
	e.overlaySeq++
	e.rec.TempMessage = msg
}

func (g *Registry) clearOverlayLocked(e *entry) {
	if e.overlayTmr != nil {
		e.overlayTmr.Stop()
		e.overlayTmr = nil
	}
	e.overlaySeq++
	e.rec.TempMessage = ""
}

// expireOverlay clears the overlay from a timer callback, but only when it
// still belongs to the generation the timer was armed for.
func (g *Registry) expireOverlay(name string, seq uint64) {
	g.mu.Lock()
	e, ok := g.entries[name]
	if !ok || e.overlaySeq != seq || e.rec.TempMessage == "" {
		g.mu.Unlock()
		return
	}
	e.rec.TempMessage = ""
	e.overlayTmr = nil
	g.mu.Unlock()
	g.broadcast()
}

func (g *Registry) snapshotLocked() Snapshot {
	snap := make(Snapshot, len(g.entries))
	for name, e := range g.entries {
		snap[name] = e.rec
	}
	return snap
}

// broadcast delivers a fresh snapshot to every observer. It runs on the
// mutating goroutine; two racing mutations may deliver the same snapshot
// twice, which observers tolerate by being snapshot re-renderers.
func (g *Registry) broadcast() {
	g.mu.Lock()
	snap := g.snapshotLocked()
	obs := make([]Observer, 0, len(g.observers))
	for _, fn := range g.observers {
		obs = append(obs, fn)
	}
	g.mu.Unlock()
	for _, fn := range obs {
		fn(snap)
	}
}
