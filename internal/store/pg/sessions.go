package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nextlevelbuilder/recall/internal/store"
)

type sessionRow struct {
	SessionID        string         `db:"session_id"`
	CurrentBranch    string         `db:"current_branch"`
	UncommittedFiles pq.StringArray `db:"uncommitted_files"`
	SpecsInProgress  pq.StringArray `db:"specs_in_progress"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// SaveSession upserts one session into the shared registry.
func (s *Store) SaveSession(ctx context.Context, rec store.SessionRecord) error {
	if rec.SessionID == "" {
		return errors.New("session id required")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, current_branch, uncommitted_files, specs_in_progress, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id)
		 DO UPDATE SET current_branch = EXCLUDED.current_branch,
		               uncommitted_files = EXCLUDED.uncommitted_files,
		               specs_in_progress = EXCLUDED.specs_in_progress,
		               updated_at = EXCLUDED.updated_at`,
		rec.SessionID, rec.CurrentBranch,
		pq.StringArray(rec.UncommittedFiles), pq.StringArray(rec.SpecsInProgress),
		rec.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LatestSession returns the most recently updated session.
func (s *Store) LatestSession(ctx context.Context) (store.SessionRecord, error) {
	var r sessionRow
	err := s.db.GetContext(ctx, &r,
		`SELECT session_id, current_branch, uncommitted_files, specs_in_progress, updated_at
		 FROM sessions ORDER BY updated_at DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.SessionRecord{}, sql.ErrNoRows
		}
		return store.SessionRecord{}, fmt.Errorf("query latest session: %w", err)
	}
	return store.SessionRecord{
		SessionID:        r.SessionID,
		CurrentBranch:    r.CurrentBranch,
		UncommittedFiles: []string(r.UncommittedFiles),
		SpecsInProgress:  []string(r.SpecsInProgress),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}, nil
}
