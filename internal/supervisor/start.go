package supervisor

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/peerviser/peerviser/internal/daemon"
	"github.com/peerviser/peerviser/internal/proc"
)

// runStart performs one start attempt in a worker goroutine. Exactly one
// final event reaches the loop: evReused, evStartFailed, evHealthy,
// evStartupTimeout or evAborted. evSpawned is emitted in between so the
// loop owns the process handles while readiness polling is still going on.
func (s *Supervisor) runStart(run *startRun) {
	def := s.def

	// Detect an already-running instance on the probe port.
	if s.res.IsOpen(def.ProbePort()) {
		if s.probeOnce(run.ctx, def.ProbePort()) {
			s.sendEvent(event{
				kind:        evReused,
				run:         run,
				apiPort:     def.APIPort,
				gatewayPort: def.GatewayPort,
			})
			return
		}
		s.log.Debug("probe port occupied by an incompatible process", "port", def.ProbePort())
	}
	if s.startAborted(run) {
		return
	}

	// The binary must exist before anything touches disk state.
	binPath := def.BinaryPath()
	if !fileExists(binPath) {
		s.failStart(run, newFailure(FailBinaryNotFound, def.Name, "binary not found at %s", binPath))
		return
	}
	if def.HasGateway() {
		gwPath := def.GatewayBinaryPath()
		if !fileExists(gwPath) {
			s.failStart(run, newFailure(FailBinaryNotFound, def.Name, "gateway binary not found at %s", gwPath))
			return
		}
	}

	if err := def.EnsureDataDir(); err != nil {
		s.failStart(run, wrapFailure(FailConfigWrite, def.Name, err, "prepare data directory"))
		return
	}
	if err := def.RemoveStaleArtifacts(); err != nil {
		s.failStart(run, wrapFailure(FailConfigWrite, def.Name, err, "remove stale artifacts"))
		return
	}
	if s.startAborted(run) {
		return
	}

	// First run: one-shot identity init before the long-lived spawn.
	if def.NeedsInit() {
		s.log.Info("initializing daemon identity", "dir", def.DataDir)
		if err := s.runInit(run.ctx); err != nil {
			if run.ctx.Err() != nil {
				s.sendEvent(event{kind: evAborted, run: run})
				return
			}
			s.failStart(run, wrapFailure(FailIdentityInit, def.Name, err, "identity init"))
			return
		}
	}
	if s.startAborted(run) {
		return
	}

	apiPort, gatewayPort, fallback, err := s.resolvePorts()
	if err != nil {
		s.failStart(run, err)
		return
	}
	if fallback {
		s.log.Warn("default port busy, using fallback", "api_port", apiPort, "gateway_port", gatewayPort)
	}

	if def.EnforceConfig != nil {
		if err := def.EnforceConfig(def, apiPort, gatewayPort); err != nil {
			s.failStart(run, wrapFailure(FailConfigWrite, def.Name, err, "enforce config"))
			return
		}
	}
	if s.startAborted(run) {
		return
	}

	node, gateway, err := s.spawn(apiPort, gatewayPort)
	if err != nil {
		s.failStart(run, err)
		return
	}
	s.sendEvent(event{
		kind:        evSpawned,
		run:         run,
		node:        node,
		gateway:     gateway,
		apiPort:     apiPort,
		gatewayPort: gatewayPort,
		fallback:    fallback,
	})

	probePort := apiPort
	if def.ProbeGateway {
		probePort = gatewayPort
	}
	for attempt := 0; attempt < s.opts.StartupAttempts; attempt++ {
		if s.probeOnce(run.ctx, probePort) {
			s.sendEvent(event{
				kind:        evHealthy,
				run:         run,
				apiPort:     apiPort,
				gatewayPort: gatewayPort,
				fallback:    fallback,
			})
			return
		}
		select {
		case <-time.After(s.opts.StartupInterval):
		case <-run.ctx.Done():
			s.sendEvent(event{kind: evAborted, run: run})
			return
		}
	}
	s.sendEvent(event{
		kind: evStartupTimeout,
		run:  run,
		err: newFailure(FailStartupTimeout, def.Name, "not ready after %d attempts (%s)",
			s.opts.StartupAttempts, def.Probe.Describe()),
	})
}

func (s *Supervisor) startAborted(run *startRun) bool {
	if run.ctx.Err() != nil {
		s.sendEvent(event{kind: evAborted, run: run})
		return true
	}
	return false
}

func (s *Supervisor) failStart(run *startRun, err error) {
	s.sendEvent(event{kind: evStartFailed, run: run, err: err})
}

func (s *Supervisor) probeOnce(ctx context.Context, port int) bool {
	pctx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
	defer cancel()
	return s.def.Probe.Check(pctx, daemon.BaseURL(port)) == nil
}

func (s *Supervisor) runInit(ctx context.Context) error {
	def := s.def
	opts := proc.Options{
		Name: def.Name + "-init",
		Path: def.BinaryPath(),
		Args: def.InitArgs,
		Dir:  def.DataDir,
		Env:  s.mergedEnv(),
	}
	if def.PassphraseStdin {
		opts.Stdin = strings.NewReader(def.Passphrase + "\n")
	}
	ictx, cancel := context.WithTimeout(ctx, s.opts.InitTimeout)
	defer cancel()
	return proc.Run(ictx, opts)
}

// resolvePorts picks a bindable port for the API and, when configured, the
// gateway. The default is kept whenever it still binds; otherwise the scan
// walks forward through the fallback span.
func (s *Supervisor) resolvePorts() (api, gw int, fallback bool, err error) {
	def := s.def
	span := def.FallbackSpan
	if span <= 0 {
		span = daemon.DefaultFallbackSpan
	}
	resolveOne := func(port int) (int, bool, error) {
		a, rerr := s.res.Resolve(port, span)
		if rerr != nil {
			return 0, false, wrapFailure(FailPortExhausted, def.Name, rerr, "no bindable port for %d", port)
		}
		return a.Resolved, a.Fallback(), nil
	}
	var fb bool
	api, fb, err = resolveOne(def.APIPort)
	if err != nil {
		return 0, 0, false, err
	}
	fallback = fb
	if def.GatewayPort > 0 {
		gw, fb, err = resolveOne(def.GatewayPort)
		if err != nil {
			return 0, 0, false, err
		}
		fallback = fallback || fb
	}
	return api, gw, fallback, nil
}

// spawn launches the node process and, when configured, the gateway. A
// gateway spawn failure tears the node back down so no half-started pair
// leaks.
func (s *Supervisor) spawn(apiPort, gatewayPort int) (*proc.Handle, *proc.Handle, error) {
	def := s.def
	environ := s.mergedEnv()

	stdout, stderr, err := s.opts.LogFiles.Writers(def.Name)
	if err != nil {
		return nil, nil, wrapFailure(FailSpawn, def.Name, err, "open log writers")
	}
	node, err := proc.Start(proc.Options{
		Name:   def.Name,
		Path:   def.BinaryPath(),
		Args:   def.Args(def, apiPort, gatewayPort),
		Dir:    def.DataDir,
		Env:    environ,
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		return nil, nil, wrapFailure(FailSpawn, def.Name, err, "spawn %s", def.Binary)
	}
	if !def.HasGateway() {
		return node, nil, nil
	}

	gwOut, gwErr, err := s.opts.LogFiles.Writers(def.Name + "-gateway")
	if err != nil {
		_ = node.Terminate()
		node.WaitExit(2 * time.Second)
		return nil, nil, wrapFailure(FailSpawn, def.Name, err, "open gateway log writers")
	}
	gateway, err := proc.Start(proc.Options{
		Name:   def.Name + "-gateway",
		Path:   def.GatewayBinaryPath(),
		Args:   def.GatewayArgs(def, apiPort, gatewayPort),
		Dir:    def.DataDir,
		Env:    environ,
		Stdout: gwOut,
		Stderr: gwErr,
	})
	if err != nil {
		_ = node.Terminate()
		node.WaitExit(2 * time.Second)
		return nil, nil, wrapFailure(FailSpawn, def.Name, err, "spawn %s", def.GatewayBinary)
	}
	return node, gateway, nil
}

func (s *Supervisor) mergedEnv() []string {
	return s.opts.Env.Merge(s.def.Env())
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
