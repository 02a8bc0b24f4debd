package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for captured daemon output.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // rotated files kept
	DefaultMaxAgeDays = 7  // days
)

// SlogConfig controls the supervisor's own structured logging.
type SlogConfig struct {
	Level  string `toml:"level" mapstructure:"level"`   // debug|info|warn|error
	Format string `toml:"format" mapstructure:"format"` // text|json
	Color  bool   `toml:"color" mapstructure:"color"`
}

// FileConfig controls capture of daemon stdout/stderr into rotating files.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Config bundles both logging concerns: the supervisor's slog output and
// the per-daemon file capture.
type Config struct {
	Slog SlogConfig `toml:"slog" mapstructure:"slog"`
	File FileConfig `toml:"file" mapstructure:"file"`
}

// NewSlogger builds the supervisor's logger from Slog settings. Unknown
// levels fall back to info, unknown formats to text.
func (c Config) NewSlogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Slog.Level)}
	if strings.EqualFold(c.Slog.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	if c.Slog.Color {
		return slog.New(NewColorTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// Writers returns rotating stdout/stderr writers for the named daemon as
// Dir/<name>.stdout.log and Dir/<name>.stderr.log. Both are nil when no
// directory is configured; callers then discard daemon output.
func (c Config) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	if c.File.Dir == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(c.File.Dir, 0o750); err != nil {
		return nil, nil, err
	}
	return c.rotating(filepath.Join(c.File.Dir, name+".stdout.log")),
		c.rotating(filepath.Join(c.File.Dir, name+".stderr.log")), nil
}

func (c Config) rotating(path string) io.WriteCloser {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
