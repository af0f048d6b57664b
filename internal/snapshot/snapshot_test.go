package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/recall/internal/store"
	"github.com/nextlevelbuilder/recall/internal/synthesis"
)

func emptyContext() synthesis.Context {
	return synthesis.Context{
		UserPreferences:      map[string]string{},
		RecentEpisodes:       []store.EpisodicEvent{},
		RelevantKnowledge:    []store.SemanticKnowledge{},
		SuggestedNextActions: []string{},
	}
}

func TestWriteLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "sess-1")

	ctx := emptyContext()
	ctx.UserPreferences["workflow"] = "tdd"
	ctx.SuggestedNextActions = append(ctx.SuggestedNextActions, "continue SPEC-001")
	want := SessionContextSnapshot{
		SessionID: "sess-1",
		LoadedAt:  time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC),
		Context:   ctx,
	}
	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.SessionID != "sess-1" {
		t.Errorf("session_id = %q", got.SessionID)
	}
	if !got.LoadedAt.Equal(want.LoadedAt) {
		t.Errorf("loaded_at = %v, want %v", got.LoadedAt, want.LoadedAt)
	}
	if got.Context.UserPreferences["workflow"] != "tdd" {
		t.Errorf("preferences = %v", got.Context.UserPreferences)
	}
	if len(got.Context.SuggestedNextActions) != 1 {
		t.Errorf("suggestions = %v", got.Context.SuggestedNextActions)
	}
}

func TestWriteEmptyContextKeepsArrays(t *testing.T) {
	path := Path(t.TempDir(), "sess-empty")
	snap := SessionContextSnapshot{SessionID: "sess-empty", LoadedAt: time.Now().UTC(), Context: emptyContext()}
	if err := Write(path, snap); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	text := string(data)
	for _, want := range []string{`"user_preferences": {}`, `"recent_episodes": []`, `"relevant_knowledge": []`, `"suggested_next_actions": []`} {
		if !strings.Contains(text, want) {
			t.Errorf("snapshot missing %s:\n%s", want, text)
		}
	}
}

func TestWriteReplacesWholeFile(t *testing.T) {
	path := Path(t.TempDir(), "sess-2")

	first := SessionContextSnapshot{SessionID: "sess-2", Context: emptyContext()}
	first.Context.SuggestedNextActions = []string{"continue SPEC-001", "continue SPEC-002"}
	if err := Write(path, first); err != nil {
		t.Fatalf("Write first: %v", err)
	}

	second := SessionContextSnapshot{SessionID: "sess-2", Context: emptyContext()}
	if err := Write(path, second); err != nil {
		t.Fatalf("Write second: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Context.SuggestedNextActions) != 0 {
		t.Errorf("old suggestions survived overwrite: %v", got.Context.SuggestedNextActions)
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "sess-3")
	if err := Write(path, SessionContextSnapshot{SessionID: "sess-3", Context: emptyContext()}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	sessDir := filepath.Dir(path)
	entries, err := os.ReadDir(sessDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != FileName {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("unexpected files: %v", names)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Errorf("expected error for missing snapshot")
	}
}
