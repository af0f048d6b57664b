// Package snapshot persists the context bundle a session was started
// with, for later in-session consumers. The file always holds exactly
// the latest run; writes go through a temp file and rename so readers
// never see a half-written snapshot.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nextlevelbuilder/recall/internal/synthesis"
)

// FileName is the snapshot file under the per-session directory.
const FileName = "context.json"

// SessionContextSnapshot is the on-disk record of one pipeline run.
type SessionContextSnapshot struct {
	SessionID string            `json:"session_id"`
	LoadedAt  time.Time         `json:"loaded_at"`
	Context   synthesis.Context `json:"context"`
}

// Path returns the snapshot location for a session under a data dir.
func Path(dataDir, sessionID string) string {
	return filepath.Join(dataDir, "sessions", sessionID, FileName)
}

// Write stores the snapshot atomically, creating parent directories as
// needed.
func Write(path string, snap SessionContextSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".context-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot back.
func Load(path string) (SessionContextSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SessionContextSnapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap SessionContextSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return SessionContextSnapshot{}, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, nil
}
