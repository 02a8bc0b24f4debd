package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestWritersPaths(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{File: FileConfig{Dir: dir}}

	outW, errW, err := cfg.Writers("cas")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatal("expected writers when dir is set")
	}
	if _, err := outW.Write([]byte("hello stdout\n")); err != nil {
		t.Fatalf("write stdout: %v", err)
	}
	if _, err := errW.Write([]byte("hello stderr\n")); err != nil {
		t.Fatalf("write stderr: %v", err)
	}
	_ = outW.Close()
	_ = errW.Close()

	out, err := os.ReadFile(filepath.Join(dir, "cas.stdout.log"))
	if err != nil || !strings.Contains(string(out), "hello stdout") {
		t.Fatalf("stdout capture: %v %q", err, out)
	}
	if _, err := os.Stat(filepath.Join(dir, "cas.stderr.log")); err != nil {
		t.Fatalf("stderr capture: %v", err)
	}
}

func TestWritersNilWithoutDir(t *testing.T) {
	outW, errW, err := Config{}.Writers("dfs")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	if outW != nil || errW != nil {
		t.Fatal("expected nil writers with no dir")
	}
}

func TestWritersCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	cfg := Config{File: FileConfig{Dir: dir}}
	outW, _, err := cfg.Writers("code")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	if _, err := outW.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = outW.Close()
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
}

func TestWritersRotationSettings(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{File: FileConfig{Dir: dir, MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}}
	outW, errW, err := cfg.Writers("cas")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	ol, ok := outW.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is %T, want lumberjack", outW)
	}
	if ol.MaxSize != 1 || ol.MaxBackups != 9 || ol.MaxAge != 11 || !ol.Compress {
		t.Fatalf("overrides not applied: %+v", ol)
	}
	_ = outW.Close()
	_ = errW.Close()

	cfg = Config{File: FileConfig{Dir: dir}}
	outW, errW, _ = cfg.Writers("dfs")
	dl := outW.(*lj.Logger)
	if dl.MaxSize != DefaultMaxSizeMB || dl.MaxBackups != DefaultMaxBackups || dl.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("defaults not applied: %+v", dl)
	}
	_ = outW.Close()
	_ = errW.Close()
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestColorTextHandlerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	log.Error("node crashed")
	if s := buf.String(); !strings.Contains(s, "\033[31m") || !strings.Contains(s, "node crashed") {
		t.Fatalf("error line missing red tag: %q", s)
	}

	buf.Reset()
	log.Info("node ready")
	if s := buf.String(); !strings.Contains(s, "\033[32m") {
		t.Fatalf("info line missing green tag: %q", s)
	}
}

func TestColorTextHandlerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be disabled at warn level")
	}
}

func TestNewSloggerFormats(t *testing.T) {
	if l := (Config{Slog: SlogConfig{Format: "json"}}).NewSlogger(); l == nil {
		t.Fatal("json logger nil")
	}
	if l := (Config{Slog: SlogConfig{Color: true}}).NewSlogger(); l == nil {
		t.Fatal("color logger nil")
	}
	if l := (Config{}).NewSlogger(); l == nil {
		t.Fatal("default logger nil")
	}
}
