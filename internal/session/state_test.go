package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFile(t *testing.T) {
	st, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.CurrentBranch != "" || st.UncommittedChanges || len(st.SpecsInProgress) != 0 {
		t.Errorf("missing file should load as zero state, got %+v", st)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	if err := os.WriteFile(path, []byte(`{"current_branch": "main", "specs`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	st, err := Load(path)
	if err == nil {
		t.Errorf("expected parse error for corrupt file")
	}
	if st.CurrentBranch != "" || len(st.UncommittedFiles) != 0 {
		t.Errorf("corrupt file should load as zero state, got %+v", st)
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	want := State{
		LastUpdated:        time.Date(2026, 8, 20, 17, 30, 0, 0, time.UTC),
		CurrentBranch:      "feature/retry",
		UncommittedChanges: true,
		UncommittedFiles:   []string{"a.go", "b.go", "c_test.go"},
		SpecsInProgress:    []string{"SPEC-001", "SPEC-002"},
	}
	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.CurrentBranch != want.CurrentBranch {
		t.Errorf("branch = %q, want %q", got.CurrentBranch, want.CurrentBranch)
	}
	if !got.UncommittedChanges || len(got.UncommittedFiles) != 3 {
		t.Errorf("uncommitted = %v/%d, want true/3", got.UncommittedChanges, len(got.UncommittedFiles))
	}
	if len(got.SpecsInProgress) != 2 || got.SpecsInProgress[0] != "SPEC-001" {
		t.Errorf("specs = %v", got.SpecsInProgress)
	}
	if !got.LastUpdated.Equal(want.LastUpdated) {
		t.Errorf("last_updated = %v, want %v", got.LastUpdated, want.LastUpdated)
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", StateFileName)
	if err := Save(path, State{CurrentBranch: "main"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("state file missing: %v", err)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, StateFileName)
	if err := Save(path, State{CurrentBranch: "main"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != StateFileName {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("unexpected dir contents: %v", names)
	}
}

func TestSaveStampsLastUpdated(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	if err := Save(path, State{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LastUpdated.IsZero() {
		t.Errorf("last_updated not stamped")
	}
}
