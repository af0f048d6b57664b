package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/recall/internal/bus"
	"github.com/nextlevelbuilder/recall/internal/snapshot"
	"github.com/nextlevelbuilder/recall/internal/store"
	"github.com/nextlevelbuilder/recall/internal/store/sqlite"
	"github.com/nextlevelbuilder/recall/internal/synthesis"
)

func newTestServer(t *testing.T, token string) (*Server, store.Store, string) {
	t.Helper()
	dataDir := t.TempDir()

	st, err := sqlite.New(filepath.Join(dataDir, "recall.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	feed := bus.New()
	t.Cleanup(feed.Close)

	s := New(Options{
		Addr:    "127.0.0.1:0",
		Token:   token,
		DataDir: dataDir,
		Store:   st,
		Feed:    feed,
	})
	return s, st, dataDir
}

func doRequest(s *Server, method, path, token string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzNoAuth(t *testing.T) {
	s, _, _ := newTestServer(t, "secret")

	rec := doRequest(s, "GET", "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	s, _, _ := newTestServer(t, "secret")

	if rec := doRequest(s, "GET", "/v1/stats", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", rec.Code)
	}
	if rec := doRequest(s, "GET", "/v1/stats", "wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token = %d, want 401", rec.Code)
	}
	if rec := doRequest(s, "GET", "/v1/stats", "secret", ""); rec.Code != http.StatusOK {
		t.Errorf("good token = %d, want 200", rec.Code)
	}
}

func TestAuthDisabledWhenNoToken(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	if rec := doRequest(s, "GET", "/v1/stats", "", ""); rec.Code != http.StatusOK {
		t.Errorf("open server = %d, want 200", rec.Code)
	}
}

func TestEventsPostPersists(t *testing.T) {
	s, st, _ := newTestServer(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.writerLoop(ctx)

	body := `{"event_type":"spawn","agent_id":"coder-1","agent_type":"coder"}`
	rec := doRequest(s, "POST", "/v1/events", "", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("post = %d, body %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		events, err := st.EventsWithin(context.Background(), store.EpisodicWindow)
		if err != nil {
			t.Fatalf("EventsWithin: %v", err)
		}
		if len(events) == 1 {
			if events[0].EventType != store.EventSpawn || events[0].AgentID != "coder-1" {
				t.Fatalf("persisted event = %+v", events[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("event never persisted, have %d", len(events))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEventsPostRejectsUnknownType(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	rec := doRequest(s, "POST", "/v1/events", "", `{"event_type":"reboot","agent_id":"a"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad type = %d, want 400", rec.Code)
	}
}

func TestEventsPostRejectsMissingAgent(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	rec := doRequest(s, "POST", "/v1/events", "", `{"event_type":"spawn"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing agent = %d, want 400", rec.Code)
	}
}

func TestEventsPostDeduplicates(t *testing.T) {
	s, st, _ := newTestServer(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.writerLoop(ctx)

	body := `{"id":"11111111-1111-7111-8111-111111111111","event_type":"spawn","agent_id":"a"}`
	first := doRequest(s, "POST", "/v1/events", "", body)
	if first.Code != http.StatusAccepted {
		t.Fatalf("first post = %d", first.Code)
	}
	second := doRequest(s, "POST", "/v1/events", "", body)
	if second.Code != http.StatusOK || !strings.Contains(second.Body.String(), "duplicate") {
		t.Fatalf("second post = %d, body %s", second.Code, second.Body.String())
	}

	time.Sleep(100 * time.Millisecond)
	events, err := st.EventsWithin(context.Background(), store.EpisodicWindow)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("stored %d events, want 1", len(events))
	}
}

func TestContextGet(t *testing.T) {
	s, _, dataDir := newTestServer(t, "")

	snap := snapshot.SessionContextSnapshot{
		SessionID: "sess-1",
		LoadedAt:  time.Now().UTC(),
		Context: synthesis.Context{
			UserPreferences:      map[string]string{"workflow": "tdd"},
			RecentEpisodes:       []store.EpisodicEvent{},
			RelevantKnowledge:    []store.SemanticKnowledge{},
			SuggestedNextActions: []string{},
		},
	}
	if err := snapshot.Write(snapshot.Path(dataDir, "sess-1"), snap); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(s, "GET", "/v1/context/sess-1", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d, body %s", rec.Code, rec.Body.String())
	}
	var got snapshot.SessionContextSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "sess-1" || got.Context.UserPreferences["workflow"] != "tdd" {
		t.Errorf("got %+v", got)
	}
}

func TestContextGetMissing(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	if rec := doRequest(s, "GET", "/v1/context/nope", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing snapshot = %d, want 404", rec.Code)
	}
}

func TestContextGetRejectsBadSession(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	// Ids with path-meaningful characters must not reach the
	// filesystem.
	for _, id := range []string{"a.b", "UPPER", "-lead"} {
		if rec := doRequest(s, "GET", "/v1/context/"+id, "", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("id %q = %d, want 400", id, rec.Code)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	if !rl.Allow("1.2.3.4") {
		t.Fatal("first request must pass")
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("burst exceeded must fail")
	}
	// Separate keys have separate buckets.
	if !rl.Allow("5.6.7.8") {
		t.Fatal("other client must pass")
	}

	off := NewRateLimiter(0, 0)
	for i := 0; i < 50; i++ {
		if !off.Allow("x") {
			t.Fatal("disabled limiter must always allow")
		}
	}
	if off.Enabled() {
		t.Error("Enabled() = true for disabled limiter")
	}
}
