package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peerviser/peerviser"
)

const stackStopTimeout = 60 * time.Second

func runServeCommand(configPath string, flags *ServeFlags) error {
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=peerviser.toml or provide as argument")
	}

	cfg, err := peerviser.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		pidfile := flags.PidFile
		if pidfile == "" {
			pidfile = cfg.Server.PidFile
		}
		logfile := flags.LogFile
		if logfile == "" {
			logfile = cfg.Server.LogFile
		}
		return daemonize(pidfile, logfile)
	}

	slog.SetDefault(cfg.Log.NewSlogger())

	st, err := peerviser.NewStackFromConfig(cfg)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		if err := peerviser.RegisterMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register metrics: %v\n", err)
		}
		if cfg.Metrics.Listen != "" {
			go func() {
				if err := peerviser.ServeMetrics(cfg.Metrics.Listen); err != nil {
					fmt.Printf("Metrics server error: %v\n", err)
				}
			}()
		}
	}

	listen := cfg.Server.Listen
	if listen == "" {
		listen = "127.0.0.1:8080"
	}
	basePath := cfg.Server.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	server, err := peerviser.NewHTTPServer(listen, basePath, st)
	if err != nil {
		closeStack(st)
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	fmt.Printf("Starting peerviser server on %s%s (daemons: %v)\n", listen, basePath, st.Daemons())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	closeStack(st)
	err = server.Close()
	_ = removePidFile(flags.PidFile)
	return err
}

func closeStack(st *peerviser.Stack) {
	ctx, cancel := context.WithTimeout(context.Background(), stackStopTimeout)
	defer cancel()
	if err := st.Close(ctx); err != nil {
		fmt.Printf("Warning: stack shutdown: %v\n", err)
	}
}
