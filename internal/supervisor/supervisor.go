// Package supervisor drives the lifecycle of one external daemon: reuse
// detection, binary and identity preparation, config enforcement, spawn,
// startup polling, steady-state health monitoring, and shutdown.
//
// All mutable lifecycle state is owned by a single goroutine per daemon;
// callers talk to it through commands, long-running start steps run in a
// worker goroutine and report back through events. The state machine is the
// serialization point: transitions for one daemon are totally ordered,
// daemons never share state.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/peerviser/peerviser/internal/daemon"
	"github.com/peerviser/peerviser/internal/env"
	"github.com/peerviser/peerviser/internal/journal"
	"github.com/peerviser/peerviser/internal/logger"
	"github.com/peerviser/peerviser/internal/metrics"
	"github.com/peerviser/peerviser/internal/ports"
	"github.com/peerviser/peerviser/internal/proc"
	"github.com/peerviser/peerviser/internal/registry"
)

const (
	DefaultStartupInterval = time.Second
	DefaultStartupAttempts = 60
	DefaultHealthInterval  = 5 * time.Second
	DefaultStopGrace       = 8 * time.Second
	DefaultProbeTimeout    = 2 * time.Second
	DefaultInitTimeout     = 60 * time.Second
)

// ErrClosed is returned for operations against a shut-down supervisor.
var ErrClosed = errors.New("supervisor closed")

// Options carries the shared collaborators and tuning knobs. The zero value
// works for tests; New fills defaults.
type Options struct {
	StartupInterval time.Duration
	StartupAttempts int
	HealthInterval  time.Duration
	StopGrace       time.Duration
	ProbeTimeout    time.Duration
	InitTimeout     time.Duration

	Resolver *ports.Resolver
	Registry *registry.Registry
	Env      *env.Env
	Log      *slog.Logger
	LogFiles logger.Config
	Journal  journal.Sink
}

func (o *Options) withDefaults() {
	if o.StartupInterval <= 0 {
		o.StartupInterval = DefaultStartupInterval
	}
	if o.StartupAttempts <= 0 {
		o.StartupAttempts = DefaultStartupAttempts
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = DefaultHealthInterval
	}
	if o.StopGrace <= 0 {
		o.StopGrace = DefaultStopGrace
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = DefaultInitTimeout
	}
	if o.Resolver == nil {
		o.Resolver = &ports.Resolver{}
	}
	if o.Registry == nil {
		o.Registry = registry.New()
	}
	if o.Env == nil {
		o.Env = env.New()
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
)

type command struct {
	kind  cmdKind
	reply chan error
}

type eventKind int

const (
	evReused eventKind = iota
	evSpawned
	evStartFailed
	evHealthy
	evStartupTimeout
	evAborted
	evHealthResult
)

// startRun identifies one start attempt. Events carry the run they belong
// to so results of a superseded attempt are discarded.
type startRun struct {
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time
}

type event struct {
	kind        eventKind
	run         *startRun
	err         error
	node        *proc.Handle
	gateway     *proc.Handle
	apiPort     int
	gatewayPort int
	fallback    bool
	healthy     bool
	healthGen   uint64
}

// Supervisor owns the full lifecycle of one daemon.
type Supervisor struct {
	def  *daemon.Definition
	opts Options
	log  *slog.Logger
	reg  *registry.Registry
	res  *ports.Resolver

	cmdCh    chan command
	evCh     chan event
	quitCh   chan struct{}
	doneCh   chan struct{}
	quitOnce sync.Once

	mu        sync.Mutex
	state     State
	lastErr   error
	listeners []Listener

	// Everything below is owned by the loop goroutine.
	mode         registry.Mode
	pending      bool
	run          *startRun
	node         *proc.Handle
	gateway      *proc.Handle
	apiPort      int
	gatewayPort  int
	usedFallback bool
	stopErr      error
	stopWaiters  []chan error
	abandoned    bool

	healthTicker *time.Ticker
	healthGen    uint64
	probing      bool

	graceT *time.Timer
	killT  *time.Timer
}

// New validates the definition and starts the supervisor goroutine. The
// daemon itself is not started until Start is called.
func New(def *daemon.Definition, opts Options) (*Supervisor, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	opts.withDefaults()
	s := &Supervisor{
		def:    def,
		opts:   opts,
		log:    opts.Log.With("daemon", def.Name),
		reg:    opts.Registry,
		res:    opts.Resolver,
		cmdCh:  make(chan command),
		evCh:   make(chan event, 8),
		quitCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		state:  StateStopped,
	}
	s.reg.Add(def.Name)
	go s.loop()
	return s, nil
}

func (s *Supervisor) Name() string { return s.def.Name }

// Start requests a daemon start. Fire-and-forget: progress is observable
// via Status and the transition stream. Calling it while Starting or
// Running is a no-op; while Stopping it queues exactly one deferred start.
func (s *Supervisor) Start() {
	reply := make(chan error, 1)
	select {
	case s.cmdCh <- command{kind: cmdStart, reply: reply}:
		<-reply
	case <-s.doneCh:
	}
}

// Stop requests a shutdown and blocks until the daemon's process(es) have
// actually exited, not merely been signalled. Stopping an already stopped
// daemon returns immediately.
func (s *Supervisor) Stop(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case s.cmdCh <- command{kind: cmdStop, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the current state and last error.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Daemon: s.def.Name, State: s.state, Err: s.lastErr}
}

// CheckBinary reports whether the platform binary (and gateway binary, if
// any) exists on disk.
func (s *Supervisor) CheckBinary() bool {
	if !fileExists(s.def.BinaryPath()) {
		return false
	}
	if s.def.HasGateway() && !fileExists(s.def.GatewayBinaryPath()) {
		return false
	}
	return true
}

// OnTransition registers a listener for every state change.
func (s *Supervisor) OnTransition(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Shutdown stops the daemon and terminates the supervisor goroutine.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	err := s.Stop(ctx)
	if errors.Is(err, ErrClosed) {
		err = nil
	}
	s.quitOnce.Do(func() { close(s.quitCh) })
	select {
	case <-s.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Supervisor) loop() {
	defer close(s.doneCh)
	for {
		select {
		case cmd := <-s.cmdCh:
			switch cmd.kind {
			case cmdStart:
				s.handleStart()
				cmd.reply <- nil
			case cmdStop:
				s.handleStop(cmd.reply)
			}
		case ev := <-s.evCh:
			s.handleEvent(ev)
		case exit := <-exitChan(s.node):
			s.handleNodeExit(exit)
		case exit := <-exitChan(s.gateway):
			s.handleGatewayExit(exit)
		case <-tickChan(s.healthTicker):
			s.handleHealthTick()
		case <-timerChan(s.graceT):
			s.graceT = nil
			s.handleGraceElapsed()
		case <-timerChan(s.killT):
			s.killT = nil
			s.handleKillDeadline()
		case <-s.quitCh:
			s.cleanup()
			return
		}
	}
}

// stateNow is the loop's own view; other goroutines use Status.
func (s *Supervisor) stateNow() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) handleStart() {
	switch s.stateNow() {
	case StateStarting, StateRunning:
		return
	case StateStopping:
		// one-slot deferred start, consumed once after Stopped
		s.pending = true
		return
	case StateError:
		if s.node != nil || s.gateway != nil || s.run != nil {
			// health overlay with a live process, or a teardown still
			// draining exits; nothing to start
			return
		}
	}
	s.beginStart()
}

func (s *Supervisor) beginStart() {
	s.abandoned = false
	s.stopErr = nil
	// a retry from Error must not keep showing the previous failure
	s.reg.ClearErrorState(s.def.Name)
	s.setState(StateStarting, nil)
	ctx, cancel := context.WithCancel(context.Background())
	run := &startRun{ctx: ctx, cancel: cancel, startedAt: time.Now()}
	s.run = run
	go s.runStart(run)
}

func (s *Supervisor) handleStop(reply chan error) {
	st := s.stateNow()
	if st == StateStopped {
		if reply != nil {
			reply <- nil
		}
		return
	}
	if reply != nil {
		s.stopWaiters = append(s.stopWaiters, reply)
	}
	if st == StateStopping {
		return
	}
	s.beginStop(nil)
}

// beginStop moves to Stopping and initiates teardown. cause is nil for a
// caller-requested stop and the fatal error when a process died on its own.
func (s *Supervisor) beginStop(cause error) {
	s.stopHealthMonitor()
	s.stopErr = cause
	s.setState(StateStopping, cause)
	if s.run != nil {
		s.run.cancel()
	}
	if s.mode == registry.ModeReused {
		// externally owned process is never touched
		s.checkStopComplete()
		return
	}
	s.signalShutdown()
	s.checkStopComplete()
}

// signalShutdown sends graceful termination. With a gateway in front of the
// node, the gateway goes first and the node follows after the grace delay.
func (s *Supervisor) signalShutdown() {
	if s.gateway != nil {
		_ = s.gateway.Terminate()
		if s.node != nil {
			s.armGrace()
		}
	} else if s.node != nil {
		_ = s.node.Terminate()
	}
	if s.node != nil || s.gateway != nil {
		s.armKill()
	}
}

func (s *Supervisor) armGrace() {
	grace := s.def.GatewayStopGrace
	if grace <= 0 {
		grace = daemon.DefaultGatewayStopGrace
	}
	if s.graceT == nil {
		s.graceT = time.NewTimer(grace)
	}
}

func (s *Supervisor) armKill() {
	if s.killT == nil {
		s.killT = time.NewTimer(s.opts.StopGrace)
	}
}

func (s *Supervisor) handleGraceElapsed() {
	if s.stateNow() == StateStopping && s.node != nil {
		_ = s.node.Terminate()
	}
}

func (s *Supervisor) handleKillDeadline() {
	if s.gateway != nil {
		s.log.Warn("force killing gateway after grace period")
		_ = s.gateway.Kill()
	}
	if s.node != nil {
		s.log.Warn("force killing node after grace period")
		_ = s.node.Kill()
	}
}

func (s *Supervisor) checkStopComplete() {
	if s.stateNow() != StateStopping {
		return
	}
	if s.run != nil || s.node != nil || s.gateway != nil {
		return
	}
	s.finishStop()
}

func (s *Supervisor) finishStop() {
	s.cancelTimer(&s.graceT)
	s.cancelTimer(&s.killT)
	cause := s.stopErr
	s.stopErr = nil
	s.mode = registry.ModeNone
	s.apiPort, s.gatewayPort, s.usedFallback = 0, 0, false
	s.setState(StateStopped, cause)
	s.reg.Clear(s.def.Name)
	metrics.IncStop(s.def.Name)
	for _, w := range s.stopWaiters {
		w <- nil
	}
	s.stopWaiters = nil
	if s.pending {
		s.pending = false
		s.beginStart()
	}
}

func (s *Supervisor) handleEvent(ev event) {
	if ev.kind == evHealthResult {
		s.handleHealthResult(ev)
		return
	}
	if ev.run == nil || ev.run != s.run {
		// superseded attempt; reap any handles it may carry
		if ev.node != nil {
			_ = ev.node.Kill()
		}
		if ev.gateway != nil {
			_ = ev.gateway.Kill()
		}
		return
	}
	switch ev.kind {
	case evReused:
		s.run = nil
		if s.stateNow() != StateStarting {
			s.checkStopComplete()
			return
		}
		s.mode = registry.ModeReused
		s.apiPort, s.gatewayPort = ev.apiPort, ev.gatewayPort
		s.usedFallback = false
		s.setState(StateRunning, nil)
		s.registerRecord()
		metrics.IncStart(s.def.Name, s.mode.String())
		metrics.ObserveStartDuration(s.def.Name, time.Since(ev.run.startedAt).Seconds())
		s.startHealthMonitor()
		s.log.Info("adopted already-running daemon", "api_port", s.apiPort)

	case evSpawned:
		s.node, s.gateway = ev.node, ev.gateway
		s.apiPort, s.gatewayPort, s.usedFallback = ev.apiPort, ev.gatewayPort, ev.fallback
		s.mode = registry.ModeBundled
		if s.stateNow() == StateStopping {
			// stop arrived mid-start; the fresh processes go straight down
			s.signalShutdown()
		}

	case evStartFailed:
		s.run = nil
		if s.stateNow() == StateStopping {
			s.checkStopComplete()
			return
		}
		s.setState(StateError, ev.err)
		s.reg.SetErrorState(s.def.Name, ev.err.Error())

	case evHealthy:
		s.run = nil
		if s.stateNow() != StateStarting {
			s.checkStopComplete()
			return
		}
		s.setState(StateRunning, nil)
		s.registerRecord()
		metrics.IncStart(s.def.Name, s.mode.String())
		metrics.ObserveStartDuration(s.def.Name, time.Since(ev.run.startedAt).Seconds())
		s.startHealthMonitor()
		s.log.Info("daemon ready", "api_port", s.apiPort, "fallback", s.usedFallback)

	case evStartupTimeout:
		s.run = nil
		if s.stateNow() == StateStopping {
			s.checkStopComplete()
			return
		}
		// abandon the processes; their exits must not read as crashes
		s.abandoned = true
		if s.gateway != nil {
			_ = s.gateway.Terminate()
		}
		if s.node != nil {
			_ = s.node.Terminate()
		}
		if s.node != nil || s.gateway != nil {
			s.armKill()
		}
		s.setState(StateError, ev.err)
		s.reg.SetErrorState(s.def.Name, ev.err.Error())

	case evAborted:
		s.run = nil
		s.checkStopComplete()
	}
}

func (s *Supervisor) handleNodeExit(exit proc.Exit) {
	s.node = nil
	if s.stateNow() == StateStopping {
		s.checkStopComplete()
		return
	}
	if s.abandoned {
		if s.gateway == nil {
			s.cancelTimer(&s.killT)
		}
		return
	}
	cause := newFailure(FailUnexpectedExit, s.def.Name, "node exited with code %d", exit.Code)
	s.log.Error("daemon exited unexpectedly", "code", exit.Code)
	s.beginStop(cause)
}

func (s *Supervisor) handleGatewayExit(exit proc.Exit) {
	s.gateway = nil
	if s.stateNow() == StateStopping {
		if s.graceT != nil {
			// gateway is down already; no point waiting out the delay
			s.cancelTimer(&s.graceT)
			if s.node != nil {
				_ = s.node.Terminate()
			}
		}
		s.checkStopComplete()
		return
	}
	if s.abandoned {
		if s.node == nil {
			s.cancelTimer(&s.killT)
		}
		return
	}
	cause := newFailure(FailUnexpectedExit, s.def.Name, "gateway exited with code %d", exit.Code)
	s.log.Error("gateway exited unexpectedly", "code", exit.Code)
	s.beginStop(cause)
}

func (s *Supervisor) startHealthMonitor() {
	if s.healthTicker == nil {
		s.healthTicker = time.NewTicker(s.opts.HealthInterval)
	}
}

func (s *Supervisor) stopHealthMonitor() {
	if s.healthTicker != nil {
		s.healthTicker.Stop()
		s.healthTicker = nil
	}
	s.healthGen++
	s.probing = false
}

func (s *Supervisor) handleHealthTick() {
	if s.probing {
		return
	}
	st := s.stateNow()
	if st != StateRunning && st != StateError {
		return
	}
	s.probing = true
	gen := s.healthGen
	port := s.probePortResolved()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ProbeTimeout)
		defer cancel()
		err := s.def.Probe.Check(ctx, daemon.BaseURL(port))
		s.sendEvent(event{kind: evHealthResult, healthy: err == nil, err: err, healthGen: gen})
	}()
}

func (s *Supervisor) handleHealthResult(ev event) {
	if ev.healthGen != s.healthGen {
		return
	}
	s.probing = false
	metrics.IncHealthCheck(s.def.Name, ev.healthy)
	st := s.stateNow()
	if ev.healthy {
		if st == StateError {
			s.setState(StateRunning, nil)
			s.reg.ClearErrorState(s.def.Name)
			s.log.Info("daemon recovered")
		}
		return
	}
	if st == StateRunning {
		f := wrapFailure(FailHealthCheck, s.def.Name, ev.err, "health check failed (%s)", s.def.Probe.Describe())
		s.setState(StateError, f)
		s.reg.SetErrorState(s.def.Name, f.Error())
		s.log.Warn("health check failed", "error", ev.err)
	}
}

// registerRecord publishes URLs and mode after reaching Running.
func (s *Supervisor) registerRecord() {
	api := daemon.BaseURL(s.apiPort)
	mode := s.mode
	u := registry.Update{APIURL: &api, Mode: &mode}
	var gw string
	if s.gatewayPort > 0 {
		gw = daemon.BaseURL(s.gatewayPort)
		u.GatewayURL = &gw
	}
	s.reg.Update(s.def.Name, u)
	if s.usedFallback {
		s.reg.SetStatusMessage(s.def.Name, fmt.Sprintf("using fallback port %d", s.probePortResolved()))
	}
}

func (s *Supervisor) probePortResolved() int {
	if s.def.ProbeGateway {
		return s.gatewayPort
	}
	return s.apiPort
}

func (s *Supervisor) setState(to State, cause error) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.lastErr = cause
	ls := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	metrics.RecordStateTransition(s.def.Name, from.String(), to.String())
	metrics.SetCurrentState(s.def.Name, from.String(), false)
	metrics.SetCurrentState(s.def.Name, to.String(), true)
	if cause != nil {
		s.log.Info("state changed", "from", from.String(), "to", to.String(), "error", cause)
	} else {
		s.log.Debug("state changed", "from", from.String(), "to", to.String())
	}
	s.journalAppend(from, to, cause)

	tr := Transition{Daemon: s.def.Name, From: from, To: to, Mode: s.mode, Err: cause, At: time.Now()}
	for _, fn := range ls {
		fn(tr)
	}
}

func (s *Supervisor) journalAppend(from, to State, cause error) {
	if s.opts.Journal == nil {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev := journal.Event{
		Daemon:  s.def.Name,
		From:    from.String(),
		To:      to.String(),
		Mode:    s.mode.String(),
		Message: msg,
		At:      time.Now(),
	}
	if err := s.opts.Journal.Append(ctx, ev); err != nil {
		s.log.Warn("journal append failed", "error", err)
	}
}

func (s *Supervisor) sendEvent(ev event) {
	select {
	case s.evCh <- ev:
	case <-s.doneCh:
	}
}

func (s *Supervisor) cleanup() {
	s.stopHealthMonitor()
	s.cancelTimer(&s.graceT)
	s.cancelTimer(&s.killT)
	if s.run != nil {
		s.run.cancel()
		s.run = nil
	}
	if s.gateway != nil {
		_ = s.gateway.Kill()
		s.gateway = nil
	}
	if s.node != nil {
		_ = s.node.Kill()
		s.node = nil
	}
	for _, w := range s.stopWaiters {
		w <- ErrClosed
	}
	s.stopWaiters = nil
}

func (s *Supervisor) cancelTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func exitChan(h *proc.Handle) <-chan proc.Exit {
	if h == nil {
		return nil
	}
	return h.Done()
}

func tickChan(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func timerChan(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
