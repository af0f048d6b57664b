// Package sqlite is the standalone memory backend: a single-file
// database, no server, WAL mode for concurrent readers.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is fixed-width UTC so stored strings compare lexically in
// timestamp order. Sub-second ties are broken by the time-ordered ids.
const timeFormat = "2006-01-02 15:04:05"

// Store is a sqlite-backed memory store.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath and applies the
// schema.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("store: sqlite opened", "path", dbPath)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			agent_type TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS memory (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(scope, memory_type, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_scope ON memory(scope, memory_type)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_type ON memory(memory_type)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// parseTime accepts the native format plus RFC3339 variants so rows
// imported from other tools still scan.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{timeFormat, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
