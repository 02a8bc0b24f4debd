// Package config loads the supervisor's TOML configuration file and turns
// it into daemon definitions and runtime options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/peerviser/peerviser/internal/daemon"
	"github.com/peerviser/peerviser/internal/env"
	"github.com/peerviser/peerviser/internal/logger"
	"github.com/peerviser/peerviser/internal/supervisor"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	// BinDir is the default binary root for daemons that do not set
	// their own; binaries live under BinDir/<goos>-<goarch>/.
	BinDir string `toml:"bin_dir" mapstructure:"bin_dir"`

	Log       logger.Config   `toml:"log" mapstructure:"log"`
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	Metrics   MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	Journal   JournalConfig   `toml:"journal" mapstructure:"journal"`
	Supervise SuperviseConfig `toml:"supervise" mapstructure:"supervise"`
	Daemons   []DaemonConfig  `toml:"daemons" mapstructure:"daemons"`
}

// ServerConfig configures the control-plane HTTP API. PidFile and LogFile
// only apply when serving with --daemonize.
type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	PidFile  string `toml:"pidfile" mapstructure:"pidfile"`
	LogFile  string `toml:"logfile" mapstructure:"logfile"`
}

// MetricsConfig configures the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

// JournalConfig selects the lifecycle-event sink; empty DSN disables it.
type JournalConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// SuperviseConfig tunes the shared lifecycle timings.
type SuperviseConfig struct {
	StartupInterval time.Duration `toml:"startup_interval" mapstructure:"startup_interval"`
	StartupAttempts int           `toml:"startup_attempts" mapstructure:"startup_attempts"`
	HealthInterval  time.Duration `toml:"health_interval" mapstructure:"health_interval"`
	StopGrace       time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	ProbeTimeout    time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
}

// DaemonConfig customizes one of the known daemons. Name must be one of
// cas, dfs, code.
type DaemonConfig struct {
	Name        string `toml:"name" mapstructure:"name"`
	BinDir      string `toml:"bin_dir" mapstructure:"bin_dir"`
	DataDir     string `toml:"data_dir" mapstructure:"data_dir"`
	APIPort     int    `toml:"api_port" mapstructure:"api_port"`
	GatewayPort int    `toml:"gateway_port" mapstructure:"gateway_port"`
	Passphrase  string `toml:"passphrase" mapstructure:"passphrase"`
	Disabled    bool   `toml:"disabled" mapstructure:"disabled"`
}

// Load reads and decodes a TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Definitions builds the daemon definitions this config asks for. With no
// [[daemons]] entries all three daemons are supervised with defaults; the
// top-level bin_dir then applies to each.
func (fc *FileConfig) Definitions() ([]*daemon.Definition, error) {
	entries := fc.Daemons
	if len(entries) == 0 {
		entries = []DaemonConfig{{Name: "cas"}, {Name: "dfs"}, {Name: "code"}}
	}
	defs := make([]*daemon.Definition, 0, len(entries))
	for _, dc := range entries {
		if dc.Disabled {
			continue
		}
		binDir := dc.BinDir
		if binDir == "" {
			binDir = fc.BinDir
		}
		opts := daemon.Options{
			BinDir:      binDir,
			DataDir:     dc.DataDir,
			APIPort:     dc.APIPort,
			GatewayPort: dc.GatewayPort,
			Passphrase:  dc.Passphrase,
		}
		var def *daemon.Definition
		switch dc.Name {
		case "cas":
			def = daemon.ContentStore(opts)
		case "dfs":
			def = daemon.FileSystem(opts)
		case "code":
			def = daemon.CodeCollab(opts)
		default:
			return nil, fmt.Errorf("unknown daemon %q (want cas, dfs or code)", dc.Name)
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// SupervisorOptions maps the timing knobs; collaborators (registry,
// resolver, env, journal) are filled in by the caller.
func (fc *FileConfig) SupervisorOptions() supervisor.Options {
	return supervisor.Options{
		StartupInterval: fc.Supervise.StartupInterval,
		StartupAttempts: fc.Supervise.StartupAttempts,
		HealthInterval:  fc.Supervise.HealthInterval,
		StopGrace:       fc.Supervise.StopGrace,
		ProbeTimeout:    fc.Supervise.ProbeTimeout,
		LogFiles:        fc.Log,
	}
}

// GlobalEnv composes the environment daemons inherit. Precedence: OS env
// (when use_os_env) provides the base, env_files apply next in order, the
// top-level env list overrides last.
func (fc *FileConfig) GlobalEnv() (*env.Env, error) {
	e := env.New()
	if fc.UseOSEnv {
		e.FromOS()
	}
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			e.Set(k, v)
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
	return e, nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting
// with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
