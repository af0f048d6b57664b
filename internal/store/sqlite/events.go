package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/recall/internal/store"
)

// RecordEvent appends one event to the log. A zero timestamp and empty
// id are filled in here.
func (s *Store) RecordEvent(ctx context.Context, ev store.EpisodicEvent) error {
	if err := store.ValidateEventType(ev.EventType); err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = store.GenNewID().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = nowUTC()
	}
	meta := "{}"
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, event_type, agent_id, agent_type, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.EventType, ev.AgentID, ev.AgentType, formatTime(ev.Timestamp), meta)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// EventsWithin returns events inside the trailing window, newest first.
// Rows that fail to scan or decode are skipped.
func (s *Store) EventsWithin(ctx context.Context, window time.Duration) ([]store.EpisodicEvent, error) {
	cutoff := formatTime(nowUTC().Add(-window))

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, agent_id, agent_type, timestamp, metadata
		 FROM events
		 WHERE timestamp > ?
		 ORDER BY timestamp DESC, id DESC`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []store.EpisodicEvent
	for rows.Next() {
		var ev store.EpisodicEvent
		var ts, meta string
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.AgentID, &ev.AgentType, &ts, &meta); err != nil {
			slog.Debug("store: skipping unscannable event row", "error", err)
			continue
		}
		t, err := parseTime(ts)
		if err != nil {
			slog.Debug("store: skipping event with bad timestamp", "id", ev.ID, "error", err)
			continue
		}
		ev.Timestamp = t
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
				slog.Debug("store: skipping event with bad metadata", "id", ev.ID, "error", err)
				continue
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PruneEvents deletes events strictly older than cutoff.
func (s *Store) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats counts log and memory rows.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	cutoff := formatTime(nowUTC().Add(-store.EpisodicWindow))

	queries := []struct {
		dst   *int64
		query string
		args  []any
	}{
		{&st.Events, `SELECT COUNT(*) FROM events`, nil},
		{&st.EventsLast24, `SELECT COUNT(*) FROM events WHERE timestamp > ?`, []any{cutoff}},
		{&st.Hints, `SELECT COUNT(*) FROM memory WHERE memory_type = ?`, []any{store.MemoryContextHint}},
		{&st.Knowledge, `SELECT COUNT(*) FROM memory WHERE memory_type = ?`, []any{store.MemorySemantic}},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query, q.args...).Scan(q.dst); err != nil && err != sql.ErrNoRows {
			return store.Stats{}, fmt.Errorf("stats: %w", err)
		}
	}
	return st, nil
}
