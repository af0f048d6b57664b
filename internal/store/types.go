// Package store defines the memory data model shared by all backends:
// an append-only episodic event log plus a keyed memory table whose
// values are typed payloads selected by memory_type.
package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Event types recorded in the episodic log.
const (
	EventSpawn    = "spawn"
	EventComplete = "complete"
	EventError    = "error"
)

// Memory row types. Rows with any other memory_type are skipped on read.
const (
	MemoryContextHint = "context_hint"
	MemorySemantic    = "semantic"
)

// ScopeUserPreferences is the scope that holds user-level preference hints.
const ScopeUserPreferences = "user.preferences"

// ScopeKnowledge is the canonical scope for semantic entries.
const ScopeKnowledge = "knowledge"

// EpisodicWindow is the trailing window for recent-event queries.
const EpisodicWindow = 24 * time.Hour

// KnowledgeTopK is how many semantic entries a knowledge query returns.
const KnowledgeTopK = 10

// EpisodicEvent is one entry in the append-only event log.
type EpisodicEvent struct {
	ID        string            `json:"id" yaml:"id"`
	EventType string            `json:"event_type" yaml:"event_type"`
	AgentID   string            `json:"agent_id" yaml:"agent_id"`
	AgentType string            `json:"agent_type" yaml:"agent_type"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// PreferenceRecord is a context-hint row surfaced to the synthesizer,
// used both for user preferences and per-project hints.
type PreferenceRecord struct {
	Scope     string    `json:"scope" yaml:"scope"`
	Key       string    `json:"key" yaml:"key"`
	Value     string    `json:"value" yaml:"value"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// SemanticKnowledge is a learned pattern with a confidence weight.
type SemanticKnowledge struct {
	Topic      string    `json:"topic" yaml:"topic"`
	Pattern    string    `json:"pattern" yaml:"pattern"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
	LastUsed   time.Time `json:"last_used" yaml:"last_used"`
}

// ContextHintPayload is the value encoding for context_hint rows.
type ContextHintPayload struct {
	Hint string `json:"hint"`
}

// SemanticPayload is the value encoding for semantic rows.
type SemanticPayload struct {
	Pattern    string    `json:"pattern"`
	Confidence float64   `json:"confidence"`
	LastUsed   time.Time `json:"last_used"`
}

// Stats summarizes store contents for doctor and the stats surfaces.
type Stats struct {
	Events       int64 `json:"events"`
	EventsLast24 int64 `json:"events_last_24h"`
	Hints        int64 `json:"hints"`
	Knowledge    int64 `json:"knowledge"`
}

// Dump is a complete copy of the store for backup and export. Hints
// keep their scope so an import can restore them verbatim.
type Dump struct {
	ExportedAt time.Time           `json:"exported_at" yaml:"exported_at"`
	Events     []EpisodicEvent     `json:"events" yaml:"events"`
	Hints      []PreferenceRecord  `json:"hints" yaml:"hints"`
	Knowledge  []SemanticKnowledge `json:"knowledge" yaml:"knowledge"`
}

// Store is the backend contract. Reads never mutate; malformed rows are
// dropped per row, never failing the whole query.
type Store interface {
	// Preferences returns all context-hint rows for a scope,
	// key-ascending for stable output.
	Preferences(ctx context.Context, scope string) ([]PreferenceRecord, error)

	// EventsWithin returns events whose timestamp falls inside the
	// trailing window, strictly timestamp-descending.
	EventsWithin(ctx context.Context, window time.Duration) ([]EpisodicEvent, error)

	// TopKnowledge returns up to k semantic entries ordered by
	// confidence descending, ties broken by last_used descending.
	TopKnowledge(ctx context.Context, k int) ([]SemanticKnowledge, error)

	RecordEvent(ctx context.Context, ev EpisodicEvent) error
	PutHint(ctx context.Context, scope, key, hint string) error
	LearnKnowledge(ctx context.Context, topic, pattern string, confidence float64) error
	TouchKnowledge(ctx context.Context, topic string, usedAt time.Time) error
	ForgetMemory(ctx context.Context, scope, memoryType, key string) error

	// PruneEvents deletes events strictly older than cutoff and reports
	// how many rows went away.
	PruneEvents(ctx context.Context, cutoff time.Time) (int64, error)

	// DecayKnowledge multiplies confidence by factor for entries not
	// used since cutoff, clamping at floor. Entries already at or below
	// floor and unused since cutoff are deleted.
	DecayKnowledge(ctx context.Context, cutoff time.Time, factor, floor float64) (int64, error)

	// Dump copies every row out for backup and export. Rows that fail
	// to decode are skipped with a warning, same as the scoped reads.
	Dump(ctx context.Context) (Dump, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// SessionRecord mirrors the local session-state file for backends that
// keep a central registry of sessions across machines.
type SessionRecord struct {
	SessionID        string    `json:"session_id"`
	CurrentBranch    string    `json:"current_branch"`
	UncommittedFiles []string  `json:"uncommitted_files"`
	SpecsInProgress  []string  `json:"specs_in_progress"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SessionRegistry is implemented by backends that can persist session
// state centrally in addition to the local state file.
type SessionRegistry interface {
	SaveSession(ctx context.Context, rec SessionRecord) error
	LatestSession(ctx context.Context) (SessionRecord, error)
}

// Config selects and parameterizes a backend.
type Config struct {
	Mode        string // "standalone" (default) or "managed"
	SQLitePath  string
	PostgresDSN string
}

// IsManaged returns true if the system is in managed (Postgres) mode.
func (c Config) IsManaged() bool {
	return c.PostgresDSN != "" && c.Mode == "managed"
}

// GenNewID generates a new UUID v7 (time-ordered).
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// ProjectScope builds the memory scope for a project name. Names are
// NFC-normalized and lowercased so lookups from differently composed
// input hit the same rows.
func ProjectScope(name string) string {
	n := strings.ToLower(strings.TrimSpace(norm.NFC.String(name)))
	if n == "" {
		return "project.default"
	}
	return "project." + n
}

// DecodeHint parses a context_hint value. Bare JSON scalars are accepted
// for compatibility with rows written before payloads were typed.
func DecodeHint(raw []byte) (ContextHintPayload, error) {
	var p ContextHintPayload
	if err := json.Unmarshal(raw, &p); err == nil && p.Hint != "" {
		return p, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ContextHintPayload{Hint: s}, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return ContextHintPayload{Hint: n.String()}, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return ContextHintPayload{Hint: "true"}, nil
		}
		return ContextHintPayload{Hint: "false"}, nil
	}
	return ContextHintPayload{}, ErrMalformedRecord
}

// DecodeSemantic parses a semantic value and range-checks confidence.
func DecodeSemantic(raw []byte) (SemanticPayload, error) {
	var p SemanticPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return SemanticPayload{}, ErrMalformedRecord
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return SemanticPayload{}, ErrMalformedRecord
	}
	return p, nil
}
