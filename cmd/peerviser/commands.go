package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/peerviser/peerviser"
	"github.com/peerviser/peerviser/pkg/client"
)

const defaultAPIUrl = "http://127.0.0.1:8080/api"

type command struct{}

func newAPIClient(apiURL string, timeout time.Duration) (*client.Client, string) {
	if apiURL == "" {
		apiURL = defaultAPIUrl
	}
	return client.New(client.Config{BaseURL: apiURL, Timeout: timeout}), apiURL
}

func requireReachable(cl *client.Client, apiURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if !cl.IsReachable(ctx) {
		return fmt.Errorf("supervisor not reachable at %s - start it first with 'peerviser serve'", apiURL)
	}
	return nil
}

// Start asks the supervisor to start one daemon.
func (command) Start(f DaemonFlags) error {
	if f.Daemon == "" {
		return fmt.Errorf("daemon name is required")
	}

	cl, apiURL := newAPIClient(f.APIUrl, f.APITimeout)
	if err := requireReachable(cl, apiURL); err != nil {
		return err
	}
	if err := cl.Start(context.Background(), f.Daemon); err != nil {
		return err
	}

	fmt.Printf("Requested start of %s\n", f.Daemon)
	return nil
}

// Stop asks the supervisor to stop one daemon and waits for it to exit.
func (command) Stop(f StopFlags) error {
	if f.Daemon == "" {
		return fmt.Errorf("daemon name is required")
	}
	if f.Wait <= 0 {
		f.Wait = 30 * time.Second
	}
	// The HTTP client must outlive the server-side wait.
	timeout := f.APITimeout
	if timeout <= f.Wait {
		timeout = f.Wait + 5*time.Second
	}

	cl, apiURL := newAPIClient(f.APIUrl, timeout)
	if err := requireReachable(cl, apiURL); err != nil {
		return err
	}
	if err := cl.Stop(context.Background(), f.Daemon, f.Wait); err != nil {
		return err
	}

	fmt.Printf("Stopped %s\n", f.Daemon)
	return nil
}

// Status prints one daemon's state as JSON, or a table of all daemons.
func (command) Status(f DaemonFlags) error {
	cl, apiURL := newAPIClient(f.APIUrl, f.APITimeout)
	if err := requireReachable(cl, apiURL); err != nil {
		return err
	}

	ctx := context.Background()
	if f.Daemon != "" {
		st, err := cl.Status(ctx, f.Daemon)
		if err != nil {
			return err
		}
		printJSON(st)
		return nil
	}

	sts, err := cl.StatusAll(ctx)
	if err != nil {
		return err
	}
	snap, err := cl.Registry(ctx)
	if err != nil {
		return err
	}
	printStatusTable(os.Stdout, sts, snap)
	return nil
}

// Registry prints the full service registry snapshot as JSON.
func (command) Registry(f DaemonFlags) error {
	cl, apiURL := newAPIClient(f.APIUrl, f.APITimeout)
	if err := requireReachable(cl, apiURL); err != nil {
		return err
	}

	snap, err := cl.Registry(context.Background())
	if err != nil {
		return err
	}
	printJSON(snap)
	return nil
}

// Check verifies the platform binaries of every configured daemon locally.
func (command) Check(f CheckFlags) error {
	if f.ConfigPath == "" {
		return fmt.Errorf("config file required for check command. Use --config=peerviser.toml")
	}
	fc, err := peerviser.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	defs, err := fc.Definitions()
	if err != nil {
		return err
	}

	missing, total := printCheckTable(os.Stdout, defs)
	if missing > 0 {
		return fmt.Errorf("missing %d of %d binaries", missing, total)
	}
	return nil
}
