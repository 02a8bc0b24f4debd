// Package server exposes the control-plane HTTP API for the daemon stack.
// Endpoints:
//
//	POST {basePath}/start     query: daemon=<name>
//	POST {basePath}/stop      query: daemon=<name>&wait=30s (wait optional)
//	GET  {basePath}/status    query: daemon=<name> (optional; all when absent)
//	GET  {basePath}/registry
//	GET  {basePath}/healthz
//
// basePath may be empty or start with '/'; no trailing slash.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/peerviser/peerviser/internal/registry"
	"github.com/peerviser/peerviser/internal/supervisor"
)

// DefaultStopWait bounds how long a stop request blocks when the caller
// does not pass an explicit wait.
const DefaultStopWait = 30 * time.Second

// Controller is the lifecycle surface the HTTP API drives; the stack
// facade implements it.
type Controller interface {
	Start(name string) error
	Stop(ctx context.Context, name string) error
	Status(name string) (supervisor.Status, error)
	StatusAll() []supervisor.Status
	Snapshot() registry.Snapshot
}

// Router provides embeddable HTTP handlers for the daemon stack.
type Router struct {
	ctrl     Controller
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath: "/api" results in /api/start, /api/stop, ...
func NewRouter(ctrl Controller, basePath string) *Router {
	return &Router{ctrl: ctrl, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/status", r.handleStatus)
	group.GET("/registry", r.handleRegistry)
	group.GET("/healthz", r.handleHealthz)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Call Shutdown or Close on the returned server to stop it.
func NewServer(addr, basePath string, ctrl Controller) (*http.Server, error) {
	r := NewRouter(ctrl, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// statusPayload is the wire form of supervisor.Status.
type statusPayload struct {
	Daemon string `json:"daemon"`
	State  string `json:"state"`
	Error  string `json:"error,omitempty"`
}

func toPayload(st supervisor.Status) statusPayload {
	p := statusPayload{Daemon: st.Daemon, State: st.State.String()}
	if st.Err != nil {
		p.Error = st.Err.Error()
	}
	return p
}

func (r *Router) daemonParam(c *gin.Context) (string, bool) {
	name := c.Query("daemon")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "daemon query param required"})
		return "", false
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid daemon name"})
		return "", false
	}
	return name, true
}

func (r *Router) handleStart(c *gin.Context) {
	name, ok := r.daemonParam(c)
	if !ok {
		return
	}
	if err := r.ctrl.Start(name); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	name, ok := r.daemonParam(c)
	if !ok {
		return
	}
	wait := DefaultStopWait
	if ws := c.Query("wait"); ws != "" {
		if d, err := time.ParseDuration(ws); err == nil && d > 0 {
			wait = d
		}
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
	defer cancel()
	if err := r.ctrl.Stop(ctx, name); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("daemon")
	if name == "" {
		all := r.ctrl.StatusAll()
		payload := make([]statusPayload, len(all))
		for i, st := range all {
			payload[i] = toPayload(st)
		}
		writeJSON(c, http.StatusOK, payload)
		return
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid daemon name"})
		return
	}
	st, err := r.ctrl.Status(name)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, toPayload(st))
}

func (r *Router) handleRegistry(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctrl.Snapshot())
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
