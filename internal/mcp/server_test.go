package mcp

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	mcppkg "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/recall/internal/bootstrap"
	"github.com/nextlevelbuilder/recall/internal/config"
	"github.com/nextlevelbuilder/recall/internal/store"
	"github.com/nextlevelbuilder/recall/internal/store/sqlite"
)

func newMCPTestStore(t *testing.T) (store.Store, *bootstrap.Loader) {
	t.Helper()
	dataDir := t.TempDir()

	st, err := sqlite.New(filepath.Join(dataDir, "recall.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.DataDir = dataDir
	return st, bootstrap.New(cfg, st)
}

func callTool(args map[string]any) mcppkg.CallToolRequest {
	return mcppkg.CallToolRequest{Params: mcppkg.CallToolParams{Arguments: args}}
}

func callResultText(t *testing.T, res *mcppkg.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("expected non-empty tool result")
	}
	text, ok := mcppkg.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("expected text content")
	}
	return text.Text
}

func TestNewServerRegistersTools(t *testing.T) {
	st, loader := newMCPTestStore(t)
	srv := NewServer(st, loader)
	if srv == nil {
		t.Fatalf("expected MCP server instance")
	}
}

func TestHandleRecordValidEvent(t *testing.T) {
	st, _ := newMCPTestStore(t)
	h := handleRecord(st)

	res, err := h(context.Background(), callTool(map[string]any{
		"event_type": "spawn",
		"agent_id":   "coder-1",
		"agent_type": "coder",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", callResultText(t, res))
	}
	if !strings.Contains(callResultText(t, res), "Recorded spawn event") {
		t.Errorf("unexpected result: %q", callResultText(t, res))
	}

	stats, err := st.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Events != 1 {
		t.Errorf("expected 1 stored event, got %d", stats.Events)
	}
}

func TestHandleRecordRejectsUnknownType(t *testing.T) {
	st, _ := newMCPTestStore(t)
	h := handleRecord(st)

	res, err := h(context.Background(), callTool(map[string]any{
		"event_type": "reboot",
		"agent_id":   "coder-1",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error for unknown event type")
	}
}

func TestHandleLearnAndStats(t *testing.T) {
	st, _ := newMCPTestStore(t)

	res, err := handleLearn(st)(context.Background(), callTool(map[string]any{
		"topic":      "sqlite-busy-timeout",
		"pattern":    "set busy_timeout to avoid SQLITE_BUSY under concurrent writers",
		"confidence": 0.8,
	}))
	if err != nil {
		t.Fatalf("learn error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", callResultText(t, res))
	}

	res, err = handleStats(st)(context.Background(), callTool(nil))
	if err != nil {
		t.Fatalf("stats error: %v", err)
	}
	text := callResultText(t, res)
	if !strings.Contains(text, "Knowledge entries: 1") {
		t.Errorf("expected knowledge count in stats, got %q", text)
	}
}

func TestHandleLearnRequiresTopicAndPattern(t *testing.T) {
	st, _ := newMCPTestStore(t)

	res, err := handleLearn(st)(context.Background(), callTool(map[string]any{
		"topic": "half-formed",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error when pattern is missing")
	}
}

func TestHandlePreferencesSetThenList(t *testing.T) {
	st, _ := newMCPTestStore(t)
	h := handlePreferences(st)

	res, err := h(context.Background(), callTool(map[string]any{
		"key":   "editor",
		"value": "nvim",
	}))
	if err != nil {
		t.Fatalf("set error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", callResultText(t, res))
	}

	res, err = h(context.Background(), callTool(nil))
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	text := callResultText(t, res)
	if !strings.Contains(text, "editor: nvim") {
		t.Errorf("expected stored preference in listing, got %q", text)
	}
}

func TestHandlePreferencesRejectsKeyWithoutValue(t *testing.T) {
	st, _ := newMCPTestStore(t)

	res, err := handlePreferences(st)(context.Background(), callTool(map[string]any{
		"key": "editor",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error when value is missing")
	}
}

func TestHandleContextEmptyStore(t *testing.T) {
	_, loader := newMCPTestStore(t)

	res, err := handleContext(loader)(context.Background(), callTool(nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", callResultText(t, res))
	}
	if !strings.Contains(callResultText(t, res), "No session context") {
		t.Errorf("unexpected result: %q", callResultText(t, res))
	}
}

func TestHandleContextSurfacesMemory(t *testing.T) {
	st, loader := newMCPTestStore(t)
	if err := st.PutHint(context.Background(), store.ScopeUserPreferences, "editor", "nvim"); err != nil {
		t.Fatalf("put hint: %v", err)
	}

	res, err := handleContext(loader)(context.Background(), callTool(map[string]any{
		"session": "sess-mcp",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	text := callResultText(t, res)
	if !strings.Contains(text, "**editor**: nvim") {
		t.Errorf("expected preference in context, got %q", text)
	}
}
