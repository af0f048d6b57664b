package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/recall/internal/store"
)

type eventRow struct {
	ID        uuid.UUID `db:"id"`
	EventType string    `db:"event_type"`
	AgentID   string    `db:"agent_id"`
	AgentType string    `db:"agent_type"`
	Timestamp time.Time `db:"timestamp"`
	Metadata  []byte    `db:"metadata"`
}

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
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, event_type, agent_id, agent_type, timestamp, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.EventType, ev.AgentID, ev.AgentType, ev.Timestamp.UTC(), meta)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// EventsWithin returns events inside the trailing window, newest first.
// Rows that fail to decode are skipped.
func (s *Store) EventsWithin(ctx context.Context, window time.Duration) ([]store.EpisodicEvent, error) {
	cutoff := nowUTC().Add(-window)

	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, event_type, agent_id, agent_type, timestamp, metadata
		 FROM events
		 WHERE timestamp > $1
		 ORDER BY timestamp DESC, id DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	out := make([]store.EpisodicEvent, 0, len(rows))
	for _, r := range rows {
		ev := store.EpisodicEvent{
			ID:        r.ID.String(),
			EventType: r.EventType,
			AgentID:   r.AgentID,
			AgentType: r.AgentType,
			Timestamp: r.Timestamp.UTC(),
		}
		if len(r.Metadata) > 0 && string(r.Metadata) != "{}" {
			if err := json.Unmarshal(r.Metadata, &ev.Metadata); err != nil {
				slog.Debug("store: skipping event with bad metadata", "id", ev.ID, "error", err)
				continue
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

// PruneEvents deletes events strictly older than cutoff.
func (s *Store) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
