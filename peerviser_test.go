package peerviser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/peerviser/peerviser/internal/env"
	"github.com/peerviser/peerviser/internal/metrics"
	"github.com/peerviser/peerviser/internal/supervisor"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

type okProber struct{}

func (okProber) Check(context.Context, string) error { return nil }
func (okProber) Describe() string                    { return "stub" }

func writeScript(t *testing.T, binDir, name, body string) {
	t.Helper()
	dir := filepath.Join(binDir, runtime.GOOS+"-"+runtime.GOARCH)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

func scriptDef(t *testing.T, name, binary string) *Definition {
	t.Helper()
	binDir := t.TempDir()
	writeScript(t, binDir, binary, "#!/bin/sh\nsleep 30\n")
	return &Definition{
		Name:         name,
		Binary:       binary,
		BinDir:       binDir,
		DataDir:      t.TempDir(),
		APIPort:      freePort(t),
		FallbackSpan: 3,
		Probe:        okProber{},
		Args:         func(*Definition, int, int) []string { return nil },
	}
}

func fastOptions() SuperviseOptions {
	e := env.New()
	e.Set("PATH", os.Getenv("PATH"))
	return SuperviseOptions{
		StartupInterval: 10 * time.Millisecond,
		StartupAttempts: 100,
		HealthInterval:  25 * time.Millisecond,
		StopGrace:       400 * time.Millisecond,
		ProbeTimeout:    100 * time.Millisecond,
		Env:             e,
		Log:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func waitAll(t *testing.T, st *Stack, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		done := true
		for _, s := range st.StatusAll() {
			if s.State != want {
				done = false
			}
		}
		if done {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("daemons never reached %s: %+v", want, st.StatusAll())
}

func TestStackLifecycle(t *testing.T) {
	requireUnix(t)
	st, err := NewStack(StackConfig{
		Definitions: []*Definition{scriptDef(t, "cas", "casnode"), scriptDef(t, "dfs", "dfsnode")},
		Supervise:   fastOptions(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.Close(ctx)
	}()

	if got := st.Daemons(); len(got) != 2 || got[0] != "cas" || got[1] != "dfs" {
		t.Fatalf("daemons: %v", got)
	}

	st.StartAll()
	waitAll(t, st, supervisor.StateRunning)

	snap := st.Snapshot()
	for _, name := range []string{"cas", "dfs"} {
		if snap[name].APIURL == "" {
			t.Fatalf("%s has no api_url in registry: %+v", name, snap[name])
		}
	}
	rec, ok := st.Lookup("cas")
	if !ok || rec.APIURL == "" {
		t.Fatalf("lookup cas: %+v ok=%v", rec, ok)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Stop(ctx, "cas"); err != nil {
		t.Fatalf("stop cas: %v", err)
	}
	cst, err := st.Status("cas")
	if err != nil || cst.State != supervisor.StateStopped {
		t.Fatalf("cas after stop: %+v err=%v", cst, err)
	}
	if dst, _ := st.Status("dfs"); dst.State != supervisor.StateRunning {
		t.Fatalf("dfs should still run: %+v", dst)
	}

	if err := st.StopAll(ctx); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	waitAll(t, st, supervisor.StateStopped)
	if _, ok := st.Snapshot()["dfs"]; ok {
		t.Fatal("registry should be cleared after stop")
	}
}

func TestStackObservers(t *testing.T) {
	requireUnix(t)
	st, err := NewStack(StackConfig{
		Definitions: []*Definition{scriptDef(t, "code", "codenode")},
		Supervise:   fastOptions(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.Close(ctx)
	}()

	snaps := make(chan Snapshot, 64)
	unsub := st.Subscribe(func(s Snapshot) {
		select {
		case snaps <- s:
		default:
		}
	})
	defer unsub()

	trans := make(chan Transition, 64)
	st.OnTransition(func(tr Transition) {
		select {
		case trans <- tr:
		default:
		}
	})

	st.StartAll()
	waitAll(t, st, supervisor.StateRunning)

	sawRunning := false
	deadline := time.After(5 * time.Second)
	for !sawRunning {
		select {
		case tr := <-trans:
			if tr.Daemon == "code" && tr.To == supervisor.StateRunning {
				sawRunning = true
			}
		case <-deadline:
			t.Fatal("no transition to running observed")
		}
	}

	select {
	case <-snaps:
	case <-time.After(5 * time.Second):
		t.Fatal("no registry snapshot observed")
	}
}

func TestStackUnknownDaemon(t *testing.T) {
	requireUnix(t)
	st, err := NewStack(StackConfig{
		Definitions: []*Definition{scriptDef(t, "cas", "casnode")},
		Supervise:   fastOptions(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.Close(ctx)
	}()

	if err := st.Start("nope"); err == nil {
		t.Error("start of unknown daemon should fail")
	}
	if err := st.Stop(context.Background(), "nope"); err == nil {
		t.Error("stop of unknown daemon should fail")
	}
	if _, err := st.Status("nope"); err == nil {
		t.Error("status of unknown daemon should fail")
	}
	if _, err := st.CheckBinary("nope"); err == nil {
		t.Error("check of unknown daemon should fail")
	}
}

func TestStackDuplicateDaemon(t *testing.T) {
	requireUnix(t)
	_, err := NewStack(StackConfig{
		Definitions: []*Definition{scriptDef(t, "cas", "casnode"), scriptDef(t, "cas", "casnode")},
		Supervise:   fastOptions(),
	})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestStackEmpty(t *testing.T) {
	if _, err := NewStack(StackConfig{}); err == nil {
		t.Fatal("empty stack should fail")
	}
}

func TestStackFromConfig(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "journal.db")
	conf := fmt.Sprintf(`
bin_dir = %q

[journal]
dsn = "sqlite://%s"
`, filepath.Join(dir, "bin"), journalPath)
	p := filepath.Join(dir, "peerviser.toml")
	if err := os.WriteFile(p, []byte(conf), 0o644); err != nil {
		t.Fatal(err)
	}

	fc, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	st, err := NewStackFromConfig(fc)
	if err != nil {
		t.Fatalf("NewStackFromConfig: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.Close(ctx)
	}()

	if got := st.Daemons(); len(got) != 3 || got[0] != "cas" || got[1] != "dfs" || got[2] != "code" {
		t.Fatalf("default daemons: %v", got)
	}
	ok, err := st.CheckBinary("cas")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("cas binary should be missing")
	}
	if _, err := os.Stat(journalPath); err != nil {
		t.Fatalf("journal database not created: %v", err)
	}
}

func TestMetricsHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("RegisterMetricsDefault: %v", err)
	}
	metrics.SetCurrentState("m1", "running", true)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, req)
	if rr.Code != 200 {
		t.Fatalf("metrics handler status %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "peerviser_daemon_current_state") {
		t.Fatalf("metrics output missing peerviser metrics: %s", rr.Body.String())
	}
}

func TestNewHTTPServerServesStatus(t *testing.T) {
	requireUnix(t)
	st, err := NewStack(StackConfig{
		Definitions: []*Definition{scriptDef(t, "cas", "casnode")},
		Supervise:   fastOptions(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.Close(ctx)
	}()

	port := freePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv, err := NewHTTPServer(addr, "/api", st)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	var resp *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://" + addr + "/api/status")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint: %d", resp.StatusCode)
	}
}
