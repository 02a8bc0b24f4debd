package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/peerviser/peerviser"
)

// embedded_config_file: drive the stack from a TOML config file instead of
// code. The config also enables the sqlite lifecycle journal, so every state
// transition the supervisors make ends up queryable on disk.
func main() {
	dir, err := os.MkdirTemp("", "peerviser-config-")
	if err != nil {
		panic(err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	binDir := os.Getenv("PEERVISER_BIN_DIR")
	if binDir == "" {
		binDir = "./bin"
	}
	journalPath := filepath.Join(dir, "journal.db")
	configPath := filepath.Join(dir, "peerviser.toml")
	config := fmt.Sprintf(`
use_os_env = true
bin_dir = %q

[log.file]
dir = %q

[journal]
dsn = "sqlite://%s"

[supervise]
startup_interval = "500ms"
startup_attempts = 20

[[daemons]]
name = "dfs"
data_dir = %q
api_port = 5262
`, binDir, filepath.Join(dir, "logs"), journalPath, filepath.Join(dir, "dfs"))
	if err := os.WriteFile(configPath, []byte(config), 0o600); err != nil {
		panic(err)
	}

	fc, err := peerviser.LoadConfig(configPath)
	if err != nil {
		panic(err)
	}
	stack, err := peerviser.NewStackFromConfig(fc)
	if err != nil {
		panic(err)
	}

	stack.StartAll()
	time.Sleep(3 * time.Second)
	for _, st := range stack.StatusAll() {
		fmt.Printf("  %-5s state=%s", st.Daemon, st.State)
		if st.Err != nil {
			fmt.Printf(" err=%v", st.Err)
		}
		fmt.Println()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := stack.Close(ctx); err != nil {
		fmt.Println("shutdown:", err)
	}
	fmt.Println("Lifecycle journal written to", journalPath)
}
