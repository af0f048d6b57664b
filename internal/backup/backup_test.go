package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/recall/internal/store"
	"github.com/nextlevelbuilder/recall/internal/store/sqlite"
)

func seededStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "recall.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	if err := st.PutHint(ctx, store.ScopeUserPreferences, "editor", "nvim"); err != nil {
		t.Fatalf("put hint: %v", err)
	}
	if err := st.LearnKnowledge(ctx, "retry-with-backoff", "wrap transient failures in jittered retries", 0.8); err != nil {
		t.Fatalf("learn: %v", err)
	}
	if err := st.RecordEvent(ctx, store.EpisodicEvent{
		EventType: store.EventSpawn,
		AgentID:   "coder-1",
		AgentType: "coder",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	return st
}

func TestWriteArchive(t *testing.T) {
	st := seededStore(t)

	var buf bytes.Buffer
	if err := WriteArchive(context.Background(), st, &buf); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	var d store.Dump
	if err := json.Unmarshal(buf.Bytes(), &d); err != nil {
		t.Fatalf("archive is not valid JSON: %v", err)
	}
	if len(d.Events) != 1 {
		t.Errorf("expected 1 event, got %d", len(d.Events))
	}
	if len(d.Hints) != 1 || d.Hints[0].Key != "editor" {
		t.Errorf("unexpected hints: %+v", d.Hints)
	}
	if len(d.Knowledge) != 1 || d.Knowledge[0].Topic != "retry-with-backoff" {
		t.Errorf("unexpected knowledge: %+v", d.Knowledge)
	}
	if d.ExportedAt.IsZero() {
		t.Error("expected export timestamp")
	}
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2025, 3, 10, 12, 34, 56, 0, time.UTC)
	got := ObjectKey("recall/", at)
	want := "recall/recall-20250310-123456.json"
	if got != want {
		t.Errorf("key = %q, want %q", got, want)
	}
}

func TestUploadRequiresBucket(t *testing.T) {
	st := seededStore(t)
	if _, err := Upload(context.Background(), st, Options{}); err == nil {
		t.Fatal("expected error without a bucket")
	}
}
