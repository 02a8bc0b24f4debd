package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot assembles the root command and its subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}
	startFlags := &DaemonFlags{}
	stopFlags := &StopFlags{}
	statusFlags := &DaemonFlags{}
	registryFlags := &DaemonFlags{}

	cmds := command{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createStartCommand(cmds, startFlags),
		createStopCommand(cmds, stopFlags),
		createStatusCommand(cmds, statusFlags),
		createRegistryCommand(cmds, registryFlags),
		createCheckCommand(cmds, globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "peerviser",
		Short: "Supervisor and service registry for the bundled peer daemons",
		Long: `Peerviser supervises the bundled storage, filesystem, and code
collaboration daemons: it reuses compatible instances that are already
running, launches and configures the shipped binaries when needed, polls
them until ready, watches their health, and publishes their addresses
through a service registry.

Examples:
  peerviser serve --config=peerviser.toml   # Run the supervisor
  peerviser start --daemon=cas              # Start the storage node
  peerviser status                          # Show all daemon states
  peerviser check --config=peerviser.toml   # Verify bundled binaries`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the peerviser supervisor",
		Long: `Run the supervisor: load the TOML config, build one supervisor per
configured daemon, and serve the control API until SIGINT/SIGTERM.
Daemons are started on demand through the API or the start command.

Examples:
  peerviser serve --config=peerviser.toml
  peerviser serve peerviser.toml
  peerviser serve peerviser.toml --daemonize   # Run in the background`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			return runServeCommand(configPath, serveFlags)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write daemon PID to file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon logs to file")

	return cmd
}

// createStartCommand creates the start subcommand
func createStartCommand(cmds command, flags *DaemonFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a supervised daemon",
		Long: `Ask the running supervisor to start one daemon. The request returns
once accepted; use status to watch startup progress.

Examples:
  peerviser start --daemon=cas
  peerviser start --daemon=code --api-url=http://remote:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Start(*flags)
		},
	}

	cmd.Flags().StringVar(&flags.Daemon, "daemon", "", "daemon name: cas, dfs, or code (required)")
	addAPIFlags(cmd, &flags.APIUrl, &flags.APITimeout, 10*time.Second)
	if err := cmd.MarkFlagRequired("daemon"); err != nil {
		panic(err)
	}

	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand(cmds command, flags *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a supervised daemon",
		Long: `Ask the running supervisor to stop one daemon and wait for its
process(es) to exit.

Examples:
  peerviser stop --daemon=dfs
  peerviser stop --daemon=code --wait=1m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Stop(*flags)
		},
	}

	cmd.Flags().StringVar(&flags.Daemon, "daemon", "", "daemon name: cas, dfs, or code (required)")
	cmd.Flags().DurationVar(&flags.Wait, "wait", 30*time.Second, "how long to wait for the daemon to exit")
	addAPIFlags(cmd, &flags.APIUrl, &flags.APITimeout, 10*time.Second)
	if err := cmd.MarkFlagRequired("daemon"); err != nil {
		panic(err)
	}

	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(cmds command, flags *DaemonFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon supervision state",
		Long: `Show the supervision state of one daemon (JSON) or of every daemon
(table combining state and registry addresses).

Examples:
  peerviser status
  peerviser status --daemon=cas`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Status(*flags)
		},
	}

	cmd.Flags().StringVar(&flags.Daemon, "daemon", "", "daemon name: cas, dfs, or code")
	addAPIFlags(cmd, &flags.APIUrl, &flags.APITimeout, 10*time.Second)

	return cmd
}

// createRegistryCommand creates the registry subcommand
func createRegistryCommand(cmds command, flags *DaemonFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Dump the service registry",
		Long: `Print the current service registry snapshot as JSON: per-daemon
URLs, ownership mode, and status messages.

Examples:
  peerviser registry`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Registry(*flags)
		},
	}

	addAPIFlags(cmd, &flags.APIUrl, &flags.APITimeout, 10*time.Second)

	return cmd
}

// createCheckCommand creates the check subcommand
func createCheckCommand(cmds command, globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the bundled daemon binaries exist",
		Long: `Resolve every configured daemon's platform binary path and report
whether the file is present. Runs locally; no supervisor needed.

Examples:
  peerviser check --config=peerviser.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmds.Check(CheckFlags{ConfigPath: globalFlags.ConfigPath})
		},
	}

	return cmd
}

func addAPIFlags(cmd *cobra.Command, apiURL *string, timeout *time.Duration, def time.Duration) {
	cmd.Flags().StringVar(apiURL, "api-url", "", "supervisor URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(timeout, "api-timeout", def, "request timeout")
}
