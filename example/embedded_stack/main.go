package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/peerviser/peerviser"
)

// embedded_stack: build a daemon stack in-process, start all daemons, print
// transitions and the final registry, then shut everything down.
//
// Binaries are looked up under PEERVISER_BIN_DIR/<os>-<arch>/; point it at a
// directory containing casnode, dfsnode, codenode and codegate to see real
// daemons come up. Without them every daemon lands in the error state, which
// still demonstrates the transition stream.
func main() {
	binDir := os.Getenv("PEERVISER_BIN_DIR")
	if binDir == "" {
		binDir = "./bin"
	}
	dataRoot, err := os.MkdirTemp("", "peerviser-demo-")
	if err != nil {
		panic(err)
	}
	defer func() { _ = os.RemoveAll(dataRoot) }()

	stack, err := peerviser.NewStack(peerviser.StackConfig{
		Definitions: []*peerviser.Definition{
			peerviser.ContentStore(peerviser.DaemonOptions{BinDir: binDir, DataDir: dataRoot + "/cas"}),
			peerviser.FileSystem(peerviser.DaemonOptions{BinDir: binDir, DataDir: dataRoot + "/dfs"}),
			peerviser.CodeCollab(peerviser.DaemonOptions{BinDir: binDir, DataDir: dataRoot + "/code"}),
		},
	})
	if err != nil {
		panic(err)
	}

	// Metrics are optional; registering makes the supervisors record
	// transitions and health results on the default Prometheus registry.
	if err := peerviser.RegisterMetricsDefault(); err != nil {
		fmt.Println("metrics:", err)
	}

	stack.OnTransition(func(tr peerviser.Transition) {
		fmt.Printf("  %s: %s -> %s", tr.Daemon, tr.From, tr.To)
		if tr.Err != nil {
			fmt.Printf(" (%v)", tr.Err)
		}
		fmt.Println()
	})

	fmt.Println("Starting daemons...")
	stack.StartAll()
	time.Sleep(5 * time.Second)

	fmt.Println("Registry:")
	for name, rec := range stack.Snapshot() {
		fmt.Printf("  %-5s mode=%-8s api=%s msg=%q\n", name, rec.Mode, rec.APIURL, rec.DisplayMessage())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := stack.Close(ctx); err != nil {
		fmt.Println("shutdown:", err)
	}
	fmt.Println("Done. Tip: set PEERVISER_BIN_DIR to the directory holding the daemon binaries.")
}
