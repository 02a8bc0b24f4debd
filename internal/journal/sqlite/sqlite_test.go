package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/peerviser/peerviser/internal/journal"
)

func TestSinkAppendAndSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	sink, err := New(dbPath)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("close sink: %v", err)
		}
	}()

	ctx := context.Background()
	events := []journal.Event{
		{Daemon: "cas", From: "stopped", To: "starting", Mode: "none", At: time.Now().UTC()},
		{Daemon: "cas", From: "starting", To: "running", Mode: "bundled", At: time.Now().UTC()},
		{Daemon: "cas", From: "running", To: "error", Mode: "bundled", Message: "health check failed", At: time.Now().UTC()},
	}
	for _, e := range events {
		if err := sink.Append(ctx, e); err != nil {
			t.Fatalf("append %v -> %v: %v", e.From, e.To, err)
		}
	}

	var n int
	if err := sink.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM daemon_events WHERE daemon = ?`, "cas").Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if n != len(events) {
		t.Fatalf("expected %d rows, got %d", len(events), n)
	}

	var msg string
	err = sink.db.QueryRowContext(ctx,
		`SELECT message FROM daemon_events WHERE to_state = ?`, "error").Scan(&msg)
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if msg != "health check failed" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestSinkDSNPrefix(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "prefixed.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("create sink with sqlite:// prefix: %v", err)
	}
	defer func() { _ = sink.Close() }()

	if err := sink.Append(context.Background(), journal.Event{
		Daemon: "dfs", From: "stopped", To: "starting", Mode: "none", At: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestSinkEmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestSinkInMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := sink.Append(ctx, journal.Event{
			Daemon: "code", From: "running", To: "error", Mode: "bundled", At: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}
