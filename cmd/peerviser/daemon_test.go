package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestPidFileRoundTrip(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "peerviser.pid")

	if err := writePidFile(pidFile, os.Getpid()); err != nil {
		t.Fatalf("writePidFile: %v", err)
	}
	if _, err := os.Stat(pidFile); err != nil {
		t.Fatalf("PID file not created: %v", err)
	}

	if err := removePidFile(pidFile); err != nil {
		t.Fatalf("removePidFile: %v", err)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatal("PID file not removed")
	}

	if err := removePidFile(""); err != nil {
		t.Fatalf("empty pidfile should be a no-op: %v", err)
	}
}

func TestDaemonChildArgs(t *testing.T) {
	cases := []struct {
		name    string
		in      []string
		pidFile string
		logFile string
		want    []string
	}{
		{
			name: "strips daemonize",
			in:   []string{"serve", "cfg.toml", "--daemonize"},
			want: []string{"serve", "cfg.toml"},
		},
		{
			name: "strips flag with separate value",
			in:   []string{"serve", "--daemonize", "--pidfile", "/tmp/a.pid"},
			want: []string{"serve"},
		},
		{
			name: "strips equals form",
			in:   []string{"serve", "--daemonize=true", "--logfile=/tmp/a.log"},
			want: []string{"serve"},
		},
		{
			name:    "re-appends resolved paths",
			in:      []string{"serve", "cfg.toml", "--daemonize"},
			pidFile: "/run/p.pid",
			logFile: "/var/log/p.log",
			want:    []string{"serve", "cfg.toml", "--pidfile", "/run/p.pid", "--logfile", "/var/log/p.log"},
		},
	}
	for _, tc := range cases {
		got := daemonChildArgs(tc.in, tc.pidFile, tc.logFile)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s: daemonChildArgs(%v) = %v, want %v", tc.name, tc.in, got, tc.want)
		}
	}
}
