package http

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/recall/internal/snapshot"
	"github.com/nextlevelbuilder/recall/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("http: response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.feed.Subscribers(),
	})
}

// handleContextGet serves the snapshot written at session start, for
// in-session consumers that want the context bundle later.
func (s *Server) handleContextGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	if !isValidSlug(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	snap, err := snapshot.Load(snapshot.Path(s.dataDir, sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "no snapshot for session")
			return
		}
		slog.Error("http: snapshot read failed", "session", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "snapshot unreadable")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// eventRequest is the ingest body for POST /v1/events.
type eventRequest struct {
	ID        string            `json:"id,omitempty"`
	EventType string            `json:"event_type"`
	AgentID   string            `json:"agent_id"`
	AgentType string            `json:"agent_type,omitempty"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// handleEventsPost queues an episodic event. The write happens in the
// background; 202 means the event is accepted, not yet durable.
func (s *Server) handleEventsPost(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed event: "+err.Error())
		return
	}
	if err := store.ValidateEventType(req.EventType); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := store.ValidateAgentID(req.AgentID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev := store.EpisodicEvent{
		ID:        req.ID,
		EventType: req.EventType,
		AgentID:   req.AgentID,
		AgentType: req.AgentType,
		Timestamp: req.Timestamp,
		Metadata:  req.Metadata,
	}
	if ev.ID == "" {
		ev.ID = store.GenNewID().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if s.dedupe.IsDuplicate(ev.ID) {
		writeJSON(w, http.StatusOK, map[string]string{"id": ev.ID, "status": "duplicate"})
		return
	}
	if !s.feed.Ingest(ev) {
		writeError(w, http.StatusServiceUnavailable, "ingest queue full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": ev.ID, "status": "accepted"})
}

func (s *Server) handleStatsGet(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		slog.Error("http: stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
