package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/recall/internal/store"
)

// topKHeadroom keeps the knowledge query correct when rows inside the
// SQL top-K turn out malformed and get dropped during decode.
const topKHeadroom = 15

// Preferences returns context-hint rows for a scope, key-ascending.
func (s *Store) Preferences(ctx context.Context, scope string) ([]store.PreferenceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM memory
		 WHERE scope = ? AND memory_type = ?
		 ORDER BY key ASC`,
		scope, store.MemoryContextHint)
	if err != nil {
		return nil, fmt.Errorf("query hints: %w", err)
	}
	defer rows.Close()

	var out []store.PreferenceRecord
	for rows.Next() {
		var key, value, updated string
		if err := rows.Scan(&key, &value, &updated); err != nil {
			slog.Debug("store: skipping unscannable hint row", "scope", scope, "error", err)
			continue
		}
		payload, err := store.DecodeHint([]byte(value))
		if err != nil {
			slog.Debug("store: skipping malformed hint", "scope", scope, "key", key)
			continue
		}
		t, err := parseTime(updated)
		if err != nil {
			slog.Debug("store: skipping hint with bad updated_at", "scope", scope, "key", key)
			continue
		}
		out = append(out, store.PreferenceRecord{
			Scope:     scope,
			Key:       key,
			Value:     payload.Hint,
			UpdatedAt: t,
		})
	}
	return out, rows.Err()
}

// TopKnowledge returns up to k semantic entries, confidence-descending,
// last_used breaking ties. Malformed payloads are dropped.
func (s *Store) TopKnowledge(ctx context.Context, k int) ([]store.SemanticKnowledge, error) {
	if k <= 0 {
		k = store.KnowledgeTopK
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM memory
		 WHERE scope = ? AND memory_type = ?
		 ORDER BY CAST(json_extract(value, '$.confidence') AS REAL) DESC,
		          json_extract(value, '$.last_used') DESC
		 LIMIT ?`,
		store.ScopeKnowledge, store.MemorySemantic, k+topKHeadroom)
	if err != nil {
		return nil, fmt.Errorf("query knowledge: %w", err)
	}
	defer rows.Close()

	var out []store.SemanticKnowledge
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			slog.Debug("store: skipping unscannable knowledge row", "error", err)
			continue
		}
		payload, err := store.DecodeSemantic([]byte(value))
		if err != nil {
			slog.Debug("store: skipping malformed knowledge", "topic", key)
			continue
		}
		out = append(out, store.SemanticKnowledge{
			Topic:      key,
			Pattern:    payload.Pattern,
			Confidence: payload.Confidence,
			LastUsed:   payload.LastUsed,
		})
		if len(out) == k {
			break
		}
	}
	return out, rows.Err()
}

// PutHint upserts a context-hint row.
func (s *Store) PutHint(ctx context.Context, scope, key, hint string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	value, err := json.Marshal(store.ContextHintPayload{Hint: hint})
	if err != nil {
		return fmt.Errorf("marshal hint: %w", err)
	}
	return s.upsertMemory(ctx, scope, store.MemoryContextHint, key, string(value))
}

// LearnKnowledge upserts a semantic entry, stamping last_used now.
func (s *Store) LearnKnowledge(ctx context.Context, topic, pattern string, confidence float64) error {
	if err := store.ValidateKey(topic); err != nil {
		return err
	}
	if err := store.ValidateConfidence(confidence); err != nil {
		return err
	}
	value, err := json.Marshal(store.SemanticPayload{
		Pattern:    pattern,
		Confidence: confidence,
		LastUsed:   nowUTC().Truncate(time.Second),
	})
	if err != nil {
		return fmt.Errorf("marshal knowledge: %w", err)
	}
	return s.upsertMemory(ctx, store.ScopeKnowledge, store.MemorySemantic, topic, string(value))
}

// TouchKnowledge bumps last_used on a semantic entry.
func (s *Store) TouchKnowledge(ctx context.Context, topic string, usedAt time.Time) error {
	if usedAt.IsZero() {
		usedAt = nowUTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory
		 SET value = json_set(value, '$.last_used', ?), updated_at = ?
		 WHERE scope = ? AND memory_type = ? AND key = ?`,
		usedAt.UTC().Truncate(time.Second).Format(time.RFC3339),
		formatTime(nowUTC()),
		store.ScopeKnowledge, store.MemorySemantic, topic)
	if err != nil {
		return fmt.Errorf("touch knowledge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ForgetMemory deletes one memory row.
func (s *Store) ForgetMemory(ctx context.Context, scope, memoryType, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory WHERE scope = ? AND memory_type = ? AND key = ?`,
		scope, memoryType, key)
	if err != nil {
		return fmt.Errorf("forget memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DecayKnowledge ages semantic entries unused since cutoff: confidence
// is multiplied by factor (clamped at floor); entries already at the
// floor are deleted.
func (s *Store) DecayKnowledge(ctx context.Context, cutoff time.Time, factor, floor float64) (int64, error) {
	if factor <= 0 || factor >= 1 {
		return 0, errors.New("decay factor must be in (0,1)")
	}
	cut := cutoff.UTC().Truncate(time.Second).Format(time.RFC3339)

	del, err := s.db.ExecContext(ctx,
		`DELETE FROM memory
		 WHERE scope = ? AND memory_type = ?
		   AND json_extract(value, '$.last_used') < ?
		   AND CAST(json_extract(value, '$.confidence') AS REAL) <= ?`,
		store.ScopeKnowledge, store.MemorySemantic, cut, floor)
	if err != nil {
		return 0, fmt.Errorf("decay delete: %w", err)
	}
	deleted, _ := del.RowsAffected()

	upd, err := s.db.ExecContext(ctx,
		`UPDATE memory
		 SET value = json_set(value, '$.confidence',
		         MAX(CAST(json_extract(value, '$.confidence') AS REAL) * ?, ?)),
		     updated_at = ?
		 WHERE scope = ? AND memory_type = ?
		   AND json_extract(value, '$.last_used') < ?`,
		factor, floor, formatTime(nowUTC()), store.ScopeKnowledge, store.MemorySemantic, cut)
	if err != nil {
		return deleted, fmt.Errorf("decay update: %w", err)
	}
	updated, _ := upd.RowsAffected()

	return deleted + updated, nil
}

func (s *Store) upsertMemory(ctx context.Context, scope, memoryType, key, value string) error {
	now := formatTime(nowUTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory (id, scope, memory_type, key, value, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(scope, memory_type, key)
		 DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		store.GenNewID().String(), scope, memoryType, key, value, now)
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}
