// Package session tracks what a coding session left behind: the git
// branch, uncommitted work and specs still in progress. The state file
// is written when a session ends and read back when the next one starts.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StateFileName is the file the finalizer writes under the data dir.
const StateFileName = "session-state.json"

// State is the handoff between one session and the next. A zero State
// is valid and means a clean slate.
type State struct {
	LastUpdated        time.Time `json:"last_updated"`
	CurrentBranch      string    `json:"current_branch"`
	UncommittedChanges bool      `json:"uncommitted_changes"`
	UncommittedFiles   []string  `json:"uncommitted_files,omitempty"`
	SpecsInProgress    []string  `json:"specs_in_progress,omitempty"`
}

// StatePath returns the state file location under a data dir.
func StatePath(dataDir string) string {
	return filepath.Join(dataDir, StateFileName)
}

// Load reads the state file. A missing file is a normal first run and
// returns a zero state with no error. A corrupt file also returns a
// zero state so callers can continue without prior-session context,
// with the parse error for anyone who wants to report it.
func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("read session state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parse session state: %w", err)
	}
	return st, nil
}

// Save writes the state file atomically via temp file and rename.
func Save(path string, st State) error {
	if st.LastUpdated.IsZero() {
		st.LastUpdated = time.Now().UTC()
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write session state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close session state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace session state: %w", err)
	}
	return nil
}
