package peerviser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	cfg "github.com/peerviser/peerviser/internal/config"
	"github.com/peerviser/peerviser/internal/daemon"
	"github.com/peerviser/peerviser/internal/journal"
	"github.com/peerviser/peerviser/internal/journal/factory"
	"github.com/peerviser/peerviser/internal/metrics"
	"github.com/peerviser/peerviser/internal/registry"
	iapi "github.com/peerviser/peerviser/internal/server"
	"github.com/peerviser/peerviser/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Definition = daemon.Definition

type DaemonOptions = daemon.Options

type Status = supervisor.Status

type State = supervisor.State

type Transition = supervisor.Transition

type SuperviseOptions = supervisor.Options

type Record = registry.Record

type Snapshot = registry.Snapshot

type Observer = registry.Observer

// Definition constructors for the bundled daemons.

func ContentStore(o DaemonOptions) *Definition { return daemon.ContentStore(o) }
func FileSystem(o DaemonOptions) *Definition   { return daemon.FileSystem(o) }
func CodeCollab(o DaemonOptions) *Definition   { return daemon.CodeCollab(o) }

// Stack supervises a set of daemons as one unit: a shared service registry,
// a shared journal sink, and one supervisor per definition. It implements
// the controller surface the HTTP API serves.
type Stack struct {
	reg   *registry.Registry
	sink  journal.Sink
	names []string
	sups  map[string]*supervisor.Supervisor
}

// StackConfig assembles a Stack. Supervise acts as a template: its Registry
// and Journal are filled in by NewStack when unset.
type StackConfig struct {
	Definitions []*Definition
	Supervise   SuperviseOptions
	JournalDSN  string
}

// NewStack builds supervisors for every definition over a shared registry.
func NewStack(sc StackConfig) (*Stack, error) {
	if len(sc.Definitions) == 0 {
		return nil, errors.New("no daemons configured")
	}
	opts := sc.Supervise
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Journal == nil && sc.JournalDSN != "" {
		sink, err := factory.NewSinkFromDSN(sc.JournalDSN)
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		opts.Journal = sink
	}

	st := &Stack{
		reg:  opts.Registry,
		sink: opts.Journal,
		sups: make(map[string]*supervisor.Supervisor, len(sc.Definitions)),
	}
	for _, def := range sc.Definitions {
		if _, dup := st.sups[def.Name]; dup {
			st.shutdownSups(context.Background())
			return nil, fmt.Errorf("duplicate daemon %q", def.Name)
		}
		sup, err := supervisor.New(def, opts)
		if err != nil {
			st.shutdownSups(context.Background())
			return nil, err
		}
		st.names = append(st.names, def.Name)
		st.sups[def.Name] = sup
	}
	return st, nil
}

// NewStackFromConfig builds a Stack from a loaded TOML config.
func NewStackFromConfig(fc *cfg.FileConfig) (*Stack, error) {
	defs, err := fc.Definitions()
	if err != nil {
		return nil, err
	}
	opts := fc.SupervisorOptions()
	opts.Env, err = fc.GlobalEnv()
	if err != nil {
		return nil, err
	}
	return NewStack(StackConfig{
		Definitions: defs,
		Supervise:   opts,
		JournalDSN:  fc.Journal.DSN,
	})
}

// Daemons returns the managed daemon names in definition order.
func (st *Stack) Daemons() []string {
	out := make([]string, len(st.names))
	copy(out, st.names)
	return out
}

func (st *Stack) sup(name string) (*supervisor.Supervisor, error) {
	s, ok := st.sups[name]
	if !ok {
		return nil, fmt.Errorf("unknown daemon %q", name)
	}
	return s, nil
}

// Start requests a start of the named daemon. Startup runs in the
// background; watch Status or Subscribe for progress.
func (st *Stack) Start(name string) error {
	s, err := st.sup(name)
	if err != nil {
		return err
	}
	s.Start()
	return nil
}

// StartAll requests a start of every managed daemon.
func (st *Stack) StartAll() {
	for _, name := range st.names {
		st.sups[name].Start()
	}
}

// Stop stops the named daemon and waits for its processes to exit.
func (st *Stack) Stop(ctx context.Context, name string) error {
	s, err := st.sup(name)
	if err != nil {
		return err
	}
	return s.Stop(ctx)
}

// StopAll stops every managed daemon concurrently and waits for all of
// them, returning the joined errors.
func (st *Stack) StopAll(ctx context.Context) error {
	errs := make([]error, len(st.names))
	var wg sync.WaitGroup
	for i, name := range st.names {
		wg.Add(1)
		go func(i int, s *supervisor.Supervisor) {
			defer wg.Done()
			errs[i] = s.Stop(ctx)
		}(i, st.sups[name])
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Status reports the supervision state of one daemon.
func (st *Stack) Status(name string) (Status, error) {
	s, err := st.sup(name)
	if err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}

// StatusAll reports every daemon's state in definition order.
func (st *Stack) StatusAll() []Status {
	out := make([]Status, 0, len(st.names))
	for _, name := range st.names {
		out = append(out, st.sups[name].Status())
	}
	return out
}

// Snapshot returns the current service registry contents.
func (st *Stack) Snapshot() Snapshot { return st.reg.Snapshot() }

// Lookup returns the registry record for one daemon.
func (st *Stack) Lookup(name string) (Record, bool) { return st.reg.Get(name) }

// Subscribe registers a registry observer; the returned func unsubscribes.
func (st *Stack) Subscribe(fn Observer) func() { return st.reg.Subscribe(fn) }

// OnTransition registers fn with every supervisor's transition stream.
func (st *Stack) OnTransition(fn supervisor.Listener) {
	for _, name := range st.names {
		st.sups[name].OnTransition(fn)
	}
}

// CheckBinary reports whether the named daemon's binaries exist on disk.
func (st *Stack) CheckBinary(name string) (bool, error) {
	s, err := st.sup(name)
	if err != nil {
		return false, err
	}
	return s.CheckBinary(), nil
}

// Close stops all daemons, terminates the supervisors, and releases the
// registry and journal sink.
func (st *Stack) Close(ctx context.Context) error {
	err := st.shutdownSups(ctx)
	st.reg.Close()
	if st.sink != nil {
		err = errors.Join(err, st.sink.Close())
	}
	return err
}

func (st *Stack) shutdownSups(ctx context.Context) error {
	errs := make([]error, 0, len(st.names))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, name := range st.names {
		wg.Add(1)
		go func(s *supervisor.Supervisor) {
			defer wg.Done()
			if err := s.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(st.sups[name])
	}
	wg.Wait()
	return errors.Join(errs...)
}

// LoadConfig loads the TOML config file at path.
func LoadConfig(path string) (*cfg.FileConfig, error) {
	return cfg.Load(path)
}

// NewHTTPServer starts an HTTP server exposing the control API backed by the stack.
func NewHTTPServer(addr, basePath string, st *Stack) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, st)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
