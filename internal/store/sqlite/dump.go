package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/recall/internal/store"
)

// Dump copies every event and memory row out, oldest first, for backup
// and export. Rows that fail to decode are skipped with a warning.
func (s *Store) Dump(ctx context.Context) (store.Dump, error) {
	d := store.Dump{ExportedAt: nowUTC()}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, agent_id, agent_type, timestamp, metadata
		 FROM events ORDER BY timestamp ASC, id ASC`)
	if err != nil {
		return d, fmt.Errorf("dump events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ev store.EpisodicEvent
		var ts, meta string
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.AgentID, &ev.AgentType, &ts, &meta); err != nil {
			slog.Warn("store: dump skipping unscannable event row", "error", err)
			continue
		}
		t, err := parseTime(ts)
		if err != nil {
			slog.Warn("store: dump skipping event with bad timestamp", "id", ev.ID)
			continue
		}
		ev.Timestamp = t
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
				slog.Warn("store: dump skipping event with bad metadata", "id", ev.ID)
				continue
			}
		}
		d.Events = append(d.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return d, fmt.Errorf("dump events: %w", err)
	}

	mrows, err := s.db.QueryContext(ctx,
		`SELECT scope, memory_type, key, value, updated_at
		 FROM memory ORDER BY scope ASC, memory_type ASC, key ASC`)
	if err != nil {
		return d, fmt.Errorf("dump memory: %w", err)
	}
	defer mrows.Close()

	for mrows.Next() {
		var scope, memoryType, key, value, updated string
		if err := mrows.Scan(&scope, &memoryType, &key, &value, &updated); err != nil {
			slog.Warn("store: dump skipping unscannable memory row", "error", err)
			continue
		}
		t, err := parseTime(updated)
		if err != nil {
			slog.Warn("store: dump skipping memory row with bad updated_at", "scope", scope, "key", key)
			continue
		}
		switch memoryType {
		case store.MemoryContextHint:
			payload, err := store.DecodeHint([]byte(value))
			if err != nil {
				slog.Warn("store: dump skipping malformed hint", "scope", scope, "key", key)
				continue
			}
			d.Hints = append(d.Hints, store.PreferenceRecord{
				Scope:     scope,
				Key:       key,
				Value:     payload.Hint,
				UpdatedAt: t,
			})
		case store.MemorySemantic:
			payload, err := store.DecodeSemantic([]byte(value))
			if err != nil {
				slog.Warn("store: dump skipping malformed knowledge", "scope", scope, "key", key)
				continue
			}
			d.Knowledge = append(d.Knowledge, store.SemanticKnowledge{
				Topic:      key,
				Pattern:    payload.Pattern,
				Confidence: payload.Confidence,
				LastUsed:   payload.LastUsed,
			})
		}
	}
	if err := mrows.Err(); err != nil {
		return d, fmt.Errorf("dump memory: %w", err)
	}

	return d, nil
}
