// Package pg implements the memory store on PostgreSQL for managed
// deployments where several machines share one memory.
package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/recall/internal/store"
)

// Store is the PostgreSQL-backed memory store.
type Store struct {
	db *sqlx.DB
}

// New connects to Postgres, applies migrations and returns the store.
func New(dsn string) (*Store, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, err
	}
	db, err := openDB(dsn)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Stats returns row counts for doctor output.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	counts := []struct {
		dst   *int64
		query string
		args  []any
	}{
		{&st.Events, `SELECT COUNT(*) FROM events`, nil},
		{&st.EventsLast24, `SELECT COUNT(*) FROM events WHERE timestamp > $1`, []any{nowUTC().Add(-24 * time.Hour)}},
		{&st.Hints, `SELECT COUNT(*) FROM memory WHERE memory_type = $1`, []any{store.MemoryContextHint}},
		{&st.Knowledge, `SELECT COUNT(*) FROM memory WHERE memory_type = $1`, []any{store.MemorySemantic}},
	}
	for _, c := range counts {
		if err := s.db.GetContext(ctx, c.dst, c.query, c.args...); err != nil {
			return st, fmt.Errorf("count: %w", err)
		}
	}
	return st, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
