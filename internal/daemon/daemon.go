package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/peerviser/peerviser/internal/conffile"
	"github.com/peerviser/peerviser/internal/probe"
)

// Defaults shared by all daemon definitions.
const (
	DefaultFallbackSpan     = 10
	DefaultGatewayStopGrace = 500 * time.Millisecond
)

// Definition describes one supervised daemon: where its binary lives, how
// to initialize and configure it, how to launch it, and how to tell a real
// instance apart from a stranger on the same port.
type Definition struct {
	Name string

	// Binary is the node binary's base name, resolved under
	// BinDir/<goos>-<goarch>/. GatewayBinary, when set, names a second
	// cooperating process launched after the node.
	Binary        string
	GatewayBinary string
	BinDir        string

	DataDir    string
	DataDirEnv string
	ExtraEnv   []string

	APIPort      int
	GatewayPort  int
	FallbackSpan int

	// Probe distinguishes a compatible daemon from an arbitrary listener.
	// ProbeGateway targets the probe (and health checks) at the gateway
	// port instead of the API port.
	Probe        probe.Prober
	ProbeGateway bool

	// ConfigFile is the config path relative to DataDir; EnforceConfig
	// rewrites its managed keys with the resolved ports.
	ConfigFile    string
	EnforceConfig func(d *Definition, apiPort, gatewayPort int) error

	// InitArgs run once against the node binary when IdentityPath is
	// absent. PassphraseStdin pipes Passphrase to that invocation.
	InitArgs        []string
	IdentityPath    string
	Passphrase      string
	PassphraseStdin bool

	// StaleArtifacts are lock/socket leftovers, relative to DataDir,
	// removed before every spawn.
	StaleArtifacts []string

	Args        func(d *Definition, apiPort, gatewayPort int) []string
	GatewayArgs func(d *Definition, apiPort, gatewayPort int) []string

	// GatewayStopGrace separates the gateway's shutdown from the node's
	// during a two-process stop.
	GatewayStopGrace time.Duration
}

// Options carries deployment-specific inputs to the definition constructors.
type Options struct {
	BinDir      string
	DataDir     string
	APIPort     int // overrides the daemon default when > 0
	GatewayPort int // overrides the daemon default when > 0
	Passphrase  string
}

func platformDir() string { return runtime.GOOS + "-" + runtime.GOARCH }

func exeName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}

// BinaryPath resolves the node binary for the current platform.
func (d *Definition) BinaryPath() string {
	return filepath.Join(d.BinDir, platformDir(), exeName(d.Binary))
}

// GatewayBinaryPath resolves the gateway binary; empty without a gateway.
func (d *Definition) GatewayBinaryPath() string {
	if d.GatewayBinary == "" {
		return ""
	}
	return filepath.Join(d.BinDir, platformDir(), exeName(d.GatewayBinary))
}

func (d *Definition) HasGateway() bool { return d.GatewayBinary != "" }

// ProbePort returns the default port the probe targets.
func (d *Definition) ProbePort() int {
	if d.ProbeGateway {
		return d.GatewayPort
	}
	return d.APIPort
}

// BaseURL builds the loopback URL for a resolved port.
func BaseURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

func (d *Definition) ConfigPath() string {
	if d.ConfigFile == "" {
		return ""
	}
	return filepath.Join(d.DataDir, d.ConfigFile)
}

// NeedsInit reports whether the one-shot identity init must run.
func (d *Definition) NeedsInit() bool {
	if len(d.InitArgs) == 0 || d.IdentityPath == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(d.DataDir, d.IdentityPath))
	return os.IsNotExist(err)
}

// EnsureDataDir creates the data directory tree.
func (d *Definition) EnsureDataDir() error {
	return os.MkdirAll(d.DataDir, 0o750)
}

// RemoveStaleArtifacts deletes leftovers from an unclean shutdown. Missing
// artifacts are not an error.
func (d *Definition) RemoveStaleArtifacts() error {
	for _, rel := range d.StaleArtifacts {
		path := filepath.Join(d.DataDir, rel)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale artifact %s: %w", path, err)
		}
	}
	return nil
}

// Env returns the per-daemon environment entries layered over the base.
func (d *Definition) Env() []string {
	out := make([]string, 0, len(d.ExtraEnv)+1)
	if d.DataDirEnv != "" {
		out = append(out, d.DataDirEnv+"="+d.DataDir)
	}
	out = append(out, d.ExtraEnv...)
	return out
}

func (d *Definition) Validate() error {
	if d.Name == "" {
		return errors.New("daemon name required")
	}
	if d.Binary == "" {
		return fmt.Errorf("daemon %s: binary required", d.Name)
	}
	if d.BinDir == "" {
		return fmt.Errorf("daemon %s: binary directory required", d.Name)
	}
	if d.DataDir == "" {
		return fmt.Errorf("daemon %s: data directory required", d.Name)
	}
	if d.APIPort <= 0 || d.APIPort > 65535 {
		return fmt.Errorf("daemon %s: invalid api port %d", d.Name, d.APIPort)
	}
	if d.HasGateway() && (d.GatewayPort <= 0 || d.GatewayPort > 65535) {
		return fmt.Errorf("daemon %s: invalid gateway port %d", d.Name, d.GatewayPort)
	}
	if d.Probe == nil {
		return fmt.Errorf("daemon %s: probe required", d.Name)
	}
	if d.Args == nil {
		return fmt.Errorf("daemon %s: args builder required", d.Name)
	}
	if d.HasGateway() && d.GatewayArgs == nil {
		return fmt.Errorf("daemon %s: gateway args builder required", d.Name)
	}
	return nil
}

func portOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// DefaultDataDir places a daemon's data under ~/.peerviser.
func DefaultDataDir(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".peerviser", name)
}

// ContentStore defines the content-addressed storage node. A single process
// serves both the API and the HTTP gateway; both addresses are managed
// through its JSON config, so the launch args carry no ports.
func ContentStore(opts Options) *Definition {
	d := &Definition{
		Name:           "cas",
		Binary:         "casnode",
		BinDir:         opts.BinDir,
		DataDir:        opts.DataDir,
		DataDirEnv:     "CASNODE_PATH",
		APIPort:        portOr(opts.APIPort, 5201),
		GatewayPort:    portOr(opts.GatewayPort, 8180),
		FallbackSpan:   DefaultFallbackSpan,
		ConfigFile:     "config",
		InitArgs:       []string{"init", "--profile", "embedded"},
		IdentityPath:   "config",
		StaleArtifacts: []string{"repo.lock", "api"},
		Probe: &probe.HTTP{
			Method:   http.MethodPost,
			Path:     "/api/v0/id",
			Validate: probe.NonEmptyJSONField("ID"),
		},
		EnforceConfig: enforceContentStoreConfig,
		Args: func(*Definition, int, int) []string {
			return []string{"daemon", "--migrate"}
		},
	}
	if d.DataDir == "" {
		d.DataDir = DefaultDataDir(d.Name)
	}
	return d
}

// enforceContentStoreConfig pins the managed keys of the casnode JSON
// config: loopback addresses on the resolved ports, embedded-scale
// connection limits, local discovery and relaying off, client-only routing.
// Identity and the API secret are daemon-generated and carried forward.
func enforceContentStoreConfig(d *Definition, apiPort, gatewayPort int) error {
	_, err := conffile.EnforceJSON(d.ConfigPath(), conffile.Values{
		"Addresses.API":              fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", apiPort),
		"Addresses.Gateway":          fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", gatewayPort),
		"Swarm.ConnMgr.LowWater":     32,
		"Swarm.ConnMgr.HighWater":    96,
		"Swarm.ConnMgr.GracePeriod":  "20s",
		"Discovery.MDNS.Enabled":     false,
		"Swarm.RelayService.Enabled": false,
		"Routing.Type":               "autoclient",
	})
	return err
}

// FileSystem defines the distributed-filesystem node: one process, TOML
// config, API only.
func FileSystem(opts Options) *Definition {
	d := &Definition{
		Name:           "dfs",
		Binary:         "dfsnode",
		BinDir:         opts.BinDir,
		DataDir:        opts.DataDir,
		DataDirEnv:     "DFSNODE_HOME",
		APIPort:        portOr(opts.APIPort, 5262),
		FallbackSpan:   DefaultFallbackSpan,
		ConfigFile:     "dfsd.toml",
		InitArgs:       []string{"init"},
		IdentityPath:   "identity.key",
		StaleArtifacts: []string{"LOCK"},
		Probe:          &probe.HTTP{Path: "/v0/status", Validate: probe.NonEmptyJSONField("node_id")},
		EnforceConfig:  enforceFileSystemConfig,
		Args: func(d *Definition, _, _ int) []string {
			return []string{"daemon", "--config", d.ConfigPath()}
		},
	}
	if d.DataDir == "" {
		d.DataDir = DefaultDataDir(d.Name)
	}
	return d
}

// enforceFileSystemConfig pins dfsd.toml's managed keys; the top-level
// auth_token the daemon mints on first run survives every rewrite.
func enforceFileSystemConfig(d *Definition, apiPort, _ int) error {
	_, err := conffile.EnforceTOML(d.ConfigPath(), conffile.Values{
		"api.address":             fmt.Sprintf("127.0.0.1:%d", apiPort),
		"peering.max_connections": 64,
		"discovery.mdns":          false,
		"routing.mode":            "client",
	})
	return err
}

// CodeCollab defines the code-collaboration daemon: a network node plus an
// HTTP gateway in front of it. Health is judged through the gateway since
// that is the surface callers use; stopping tears the gateway down first.
func CodeCollab(opts Options) *Definition {
	d := &Definition{
		Name:             "code",
		Binary:           "codenode",
		GatewayBinary:    "codegate",
		BinDir:           opts.BinDir,
		DataDir:          opts.DataDir,
		DataDirEnv:       "CODENODE_HOME",
		APIPort:          portOr(opts.APIPort, 8776),
		GatewayPort:      portOr(opts.GatewayPort, 8780),
		FallbackSpan:     DefaultFallbackSpan,
		ConfigFile:       "config.toml",
		InitArgs:         []string{"init", "--stdin-passphrase"},
		IdentityPath:     filepath.Join("keys", "node.key"),
		Passphrase:       opts.Passphrase,
		PassphraseStdin:  true,
		StaleArtifacts:   []string{"node.sock"},
		ProbeGateway:     true,
		Probe:            &probe.HTTP{Path: "/api/v1", Validate: probe.NonEmptyJSONField("version")},
		EnforceConfig:    enforceCodeCollabConfig,
		GatewayStopGrace: DefaultGatewayStopGrace,
		Args: func(_ *Definition, apiPort, _ int) []string {
			return []string{"daemon", "--listen", fmt.Sprintf("127.0.0.1:%d", apiPort)}
		},
		GatewayArgs: func(_ *Definition, apiPort, gatewayPort int) []string {
			return []string{
				"--node", BaseURL(apiPort),
				"--listen", fmt.Sprintf("127.0.0.1:%d", gatewayPort),
			}
		},
	}
	if d.DataDir == "" {
		d.DataDir = DefaultDataDir(d.Name)
	}
	return d
}

// enforceCodeCollabConfig pins config.toml's managed keys while keeping the
// daemon-minted session secret.
func enforceCodeCollabConfig(d *Definition, apiPort, gatewayPort int) error {
	_, err := conffile.EnforceTOML(d.ConfigPath(), conffile.Values{
		"node.listen":       fmt.Sprintf("127.0.0.1:%d", apiPort),
		"gateway.listen":    fmt.Sprintf("127.0.0.1:%d", gatewayPort),
		"node.max_sessions": 32,
		"discovery.enabled": false,
	})
	return err
}
