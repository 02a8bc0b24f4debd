// Package sqlite persists lifecycle events to a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/peerviser/peerviser/internal/journal"
)

// Sink writes lifecycle events to SQLite.
type Sink struct {
	db *sql.DB
}

// New opens (or creates) the database and ensures the schema.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" or ":memory:" (without prefix)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty sqlite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &Sink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daemon_events(
			occurred_at TIMESTAMP NOT NULL,
			daemon TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			mode TEXT NOT NULL,
			message TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_daemon_events_daemon ON daemon_events(daemon);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Append(ctx context.Context, e journal.Event) error {
	msg := interface{}(nil)
	if e.Message != "" {
		msg = e.Message
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daemon_events(occurred_at, daemon, from_state, to_state, mode, message)
		VALUES(?, ?, ?, ?, ?, ?);`,
		e.At.UTC(), e.Daemon, e.From, e.To, e.Mode, msg)
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
