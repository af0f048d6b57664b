package pg

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

// topKHeadroom over-fetches so malformed rows can be dropped without
// shrinking the result below k.
const topKHeadroom = 15

type memoryRow struct {
	Key       string    `db:"key"`
	Value     []byte    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Preferences returns all context hints in a scope, key-ascending.
func (s *Store) Preferences(ctx context.Context, scope string) ([]store.PreferenceRecord, error) {
	var rows []memoryRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT key, value, updated_at FROM memory
		 WHERE scope = $1 AND memory_type = $2
		 ORDER BY key ASC`, scope, store.MemoryContextHint)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}

	prefs := make([]store.PreferenceRecord, 0, len(rows))
	for _, r := range rows {
		payload, err := store.DecodeHint(r.Value)
		if err != nil {
			slog.Debug("store: skipping malformed hint", "scope", scope, "key", r.Key)
			continue
		}
		prefs = append(prefs, store.PreferenceRecord{
			Scope:     scope,
			Key:       r.Key,
			Value:     payload.Hint,
			UpdatedAt: r.UpdatedAt.UTC(),
		})
	}
	return prefs, nil
}

// TopKnowledge returns up to k semantic entries by confidence, most recently
// used first within equal confidence.
func (s *Store) TopKnowledge(ctx context.Context, k int) ([]store.SemanticKnowledge, error) {
	if k <= 0 {
		k = store.KnowledgeTopK
	}

	var rows []memoryRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT key, value, updated_at FROM memory
		 WHERE scope = $1 AND memory_type = $2
		 ORDER BY (value->>'confidence')::float DESC, value->>'last_used' DESC
		 LIMIT $3`, store.ScopeKnowledge, store.MemorySemantic, k+topKHeadroom)
	if err != nil {
		return nil, fmt.Errorf("query knowledge: %w", err)
	}

	entries := make([]store.SemanticKnowledge, 0, min(k, len(rows)))
	for _, r := range rows {
		payload, err := store.DecodeSemantic(r.Value)
		if err != nil {
			slog.Debug("store: skipping malformed knowledge", "topic", r.Key)
			continue
		}
		entries = append(entries, store.SemanticKnowledge{
			Topic:      r.Key,
			Pattern:    payload.Pattern,
			Confidence: payload.Confidence,
			LastUsed:   payload.LastUsed,
		})
		if len(entries) == k {
			break
		}
	}
	return entries, nil
}

// PutHint upserts a context hint in the given scope.
func (s *Store) PutHint(ctx context.Context, scope, key, hint string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	value, err := json.Marshal(store.ContextHintPayload{Hint: hint})
	if err != nil {
		return fmt.Errorf("marshal hint: %w", err)
	}
	return s.upsertMemory(ctx, scope, store.MemoryContextHint, key, value)
}

// LearnKnowledge upserts a semantic entry under the knowledge scope.
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
	return s.upsertMemory(ctx, store.ScopeKnowledge, store.MemorySemantic, topic, value)
}

// TouchKnowledge bumps last_used on a semantic entry.
func (s *Store) TouchKnowledge(ctx context.Context, topic string, usedAt time.Time) error {
	if usedAt.IsZero() {
		usedAt = nowUTC()
	}
	used := usedAt.UTC().Truncate(time.Second).Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`UPDATE memory
		 SET value = jsonb_set(value, '{last_used}', to_jsonb($1::text)), updated_at = $2
		 WHERE scope = $3 AND memory_type = $4 AND key = $5`,
		used, nowUTC(), store.ScopeKnowledge, store.MemorySemantic, topic)
	if err != nil {
		return fmt.Errorf("touch knowledge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ForgetMemory removes one memory row.
func (s *Store) ForgetMemory(ctx context.Context, scope, memoryType, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory WHERE scope = $1 AND memory_type = $2 AND key = $3`,
		scope, memoryType, key)
	if err != nil {
		return fmt.Errorf("forget memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DecayKnowledge multiplies confidence by factor for entries not used since
// cutoff, deleting those already at or below floor. Returns rows touched.
func (s *Store) DecayKnowledge(ctx context.Context, cutoff time.Time, factor, floor float64) (int64, error) {
	if factor <= 0 || factor >= 1 {
		return 0, errors.New("decay factor must be in (0,1)")
	}
	cut := cutoff.UTC().Truncate(time.Second).Format(time.RFC3339)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory
		 WHERE scope = $1 AND memory_type = $2
		   AND value->>'last_used' < $3
		   AND (value->>'confidence')::float <= $4`,
		store.ScopeKnowledge, store.MemorySemantic, cut, floor)
	if err != nil {
		return 0, fmt.Errorf("delete decayed knowledge: %w", err)
	}
	deleted, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		`UPDATE memory
		 SET value = jsonb_set(value, '{confidence}',
		       to_jsonb(GREATEST((value->>'confidence')::float * $1, $2))),
		     updated_at = $3
		 WHERE scope = $4 AND memory_type = $5 AND value->>'last_used' < $6`,
		factor, floor, nowUTC(), store.ScopeKnowledge, store.MemorySemantic, cut)
	if err != nil {
		return deleted, fmt.Errorf("decay knowledge: %w", err)
	}
	updated, _ := res.RowsAffected()
	return deleted + updated, nil
}

func (s *Store) upsertMemory(ctx context.Context, scope, memoryType, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory (id, scope, memory_type, key, value, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (scope, memory_type, key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		store.GenNewID(), scope, memoryType, key, value, nowUTC())
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}
