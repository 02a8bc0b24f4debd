package main

import (
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/peerviser/peerviser"
)

// registry_echo: subscribe a web page to the service registry. Every registry
// mutation replaces the snapshot the echo server renders, so refreshing
// http://127.0.0.1:8099/ always shows the daemons' current addresses and
// status lines. Observers receive full snapshots, never diffs, which is what
// makes this kind of dumb re-renderer safe.
func main() {
	binDir := os.Getenv("PEERVISER_BIN_DIR")
	if binDir == "" {
		binDir = "./bin"
	}
	dataRoot, err := os.MkdirTemp("", "peerviser-echo-")
	if err != nil {
		panic(err)
	}
	defer func() { _ = os.RemoveAll(dataRoot) }()

	stack, err := peerviser.NewStack(peerviser.StackConfig{
		Definitions: []*peerviser.Definition{
			peerviser.ContentStore(peerviser.DaemonOptions{BinDir: binDir, DataDir: dataRoot + "/cas"}),
			peerviser.FileSystem(peerviser.DaemonOptions{BinDir: binDir, DataDir: dataRoot + "/dfs"}),
		},
	})
	if err != nil {
		panic(err)
	}

	var mu sync.RWMutex
	latest := stack.Snapshot()
	cancel := stack.Subscribe(func(snap peerviser.Snapshot) {
		mu.Lock()
		latest = snap
		mu.Unlock()
	})
	defer cancel()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.GET("/", func(c echo.Context) error {
		mu.RLock()
		defer mu.RUnlock()
		return c.JSON(http.StatusOK, latest)
	})

	stack.StartAll()
	fmt.Println("Serving live registry snapshots on http://127.0.0.1:8099/")
	if err := e.Start("127.0.0.1:8099"); err != nil {
		fmt.Println("server:", err)
	}
}
