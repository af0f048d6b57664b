package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/recall/internal/store"
)

type dumpMemoryRow struct {
	Scope      string    `db:"scope"`
	MemoryType string    `db:"memory_type"`
	Key        string    `db:"key"`
	Value      []byte    `db:"value"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Dump copies every event and memory row out, oldest first, for backup
// and export. Rows that fail to decode are skipped with a warning.
func (s *Store) Dump(ctx context.Context) (store.Dump, error) {
	d := store.Dump{ExportedAt: nowUTC()}

	var evRows []eventRow
	err := s.db.SelectContext(ctx, &evRows,
		`SELECT id, event_type, agent_id, agent_type, timestamp, metadata
		 FROM events ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return d, fmt.Errorf("dump events: %w", err)
	}
	for _, r := range evRows {
		ev := store.EpisodicEvent{
			ID:        r.ID.String(),
			EventType: r.EventType,
			AgentID:   r.AgentID,
			AgentType: r.AgentType,
			Timestamp: r.Timestamp.UTC(),
		}
		if len(r.Metadata) > 0 && string(r.Metadata) != "{}" {
			if err := json.Unmarshal(r.Metadata, &ev.Metadata); err != nil {
				slog.Warn("store: dump skipping event with bad metadata", "id", ev.ID)
				continue
			}
		}
		d.Events = append(d.Events, ev)
	}

	var memRows []dumpMemoryRow
	err = s.db.SelectContext(ctx, &memRows,
		`SELECT scope, memory_type, key, value, updated_at
		 FROM memory ORDER BY scope ASC, memory_type ASC, key ASC`)
	if err != nil {
		return d, fmt.Errorf("dump memory: %w", err)
	}
	for _, r := range memRows {
		switch r.MemoryType {
		case store.MemoryContextHint:
			payload, err := store.DecodeHint(r.Value)
			if err != nil {
				slog.Warn("store: dump skipping malformed hint", "scope", r.Scope, "key", r.Key)
				continue
			}
			d.Hints = append(d.Hints, store.PreferenceRecord{
				Scope:     r.Scope,
				Key:       r.Key,
				Value:     payload.Hint,
				UpdatedAt: r.UpdatedAt.UTC(),
			})
		case store.MemorySemantic:
			payload, err := store.DecodeSemantic(r.Value)
			if err != nil {
				slog.Warn("store: dump skipping malformed knowledge", "scope", r.Scope, "key", r.Key)
				continue
			}
			d.Knowledge = append(d.Knowledge, store.SemanticKnowledge{
				Topic:      r.Key,
				Pattern:    payload.Pattern,
				Confidence: payload.Confidence,
				LastUsed:   payload.LastUsed,
			})
		}
	}

	return d, nil
}
