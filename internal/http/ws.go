package http

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/recall/internal/bus"
	"github.com/nextlevelbuilder/recall/internal/snapshot"
	"github.com/nextlevelbuilder/recall/internal/store"
	"github.com/nextlevelbuilder/recall/pkg/protocol"
)

// maxWSMessageSize caps inbound frames. Gorilla closes the connection
// when a client exceeds it.
const maxWSMessageSize = 256 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// wsClient is one live WebSocket subscriber.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan []byte
	once   sync.Once
}

// handleWS authenticates, upgrades and runs the connection until the
// peer goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !tokenMatch(extractBearerToken(r), s.token) {
		writeError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}
	if !s.limiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("http: ws upgrade failed", "remote", clientKey(r), "error", err)
		return
	}

	c := &wsClient{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, 256),
	}
	slog.Info("http: ws connected", "client", c.id, "remote", clientKey(r))

	s.feed.Subscribe(c.id, func(ev bus.Event) {
		c.sendEvent(protocol.EventFrame{
			Type:    protocol.FrameTypeEvent,
			Event:   ev.Name,
			Payload: ev.Payload,
			Seq:     s.nextSeq(),
		})
	})

	c.sendEvent(protocol.EventFrame{
		Type:    protocol.FrameTypeEvent,
		Event:   protocol.EventHandshake,
		Payload: map[string]any{"protocol": protocol.ProtocolVersion, "client_id": c.id},
	})

	go c.writePump()
	c.readPump(r.Context())

	// Unsubscribe blocks until in-flight broadcasts finish, so the
	// send channel is quiet before it closes.
	s.feed.Unsubscribe(c.id)
	c.close()
	slog.Info("http: ws disconnected", "client", c.id)
}

func (c *wsClient) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxWSMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("http: ws read error", "client", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		c.handleFrame(ctx, data)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handleFrame(ctx context.Context, data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		c.sendError("", protocol.ErrInvalidRequest, "invalid frame: "+err.Error())
		return
	}
	if frameType != protocol.FrameTypeRequest {
		c.sendError("", protocol.ErrInvalidRequest, "unexpected frame type: "+frameType)
		return
	}

	var req protocol.RequestFrame
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", protocol.ErrInvalidRequest, "malformed request: "+err.Error())
		return
	}

	slog.Debug("http: ws method", "method", req.Method, "client", c.id, "req_id", req.ID)
	switch req.Method {
	case protocol.MethodContextGet:
		c.handleContextGet(&req)
	case protocol.MethodEventsRecord:
		c.handleEventsRecord(&req)
	case protocol.MethodLearn:
		c.handleLearn(ctx, &req)
	case protocol.MethodStatsGet:
		c.handleStats(ctx, &req)
	default:
		c.sendError(req.ID, protocol.ErrInvalidRequest, "unknown method: "+req.Method)
	}
}

func (c *wsClient) handleContextGet(req *protocol.RequestFrame) {
	var params struct {
		Session string `json:"session"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if !isValidSlug(params.Session) {
		c.sendError(req.ID, protocol.ErrInvalidRequest, "invalid session id")
		return
	}

	snap, err := snapshot.Load(snapshot.Path(c.server.dataDir, params.Session))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.sendError(req.ID, protocol.ErrNotFound, "no snapshot for session")
			return
		}
		c.sendError(req.ID, protocol.ErrInternal, "snapshot unreadable")
		return
	}
	c.sendResponse(protocol.NewOKResponse(req.ID, snap))
}

func (c *wsClient) handleEventsRecord(req *protocol.RequestFrame) {
	var params eventRequest
	if req.Params == nil {
		c.sendError(req.ID, protocol.ErrInvalidRequest, "missing params")
		return
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.sendError(req.ID, protocol.ErrInvalidRequest, "malformed event: "+err.Error())
		return
	}
	if err := store.ValidateEventType(params.EventType); err != nil {
		c.sendError(req.ID, protocol.ErrInvalidRequest, err.Error())
		return
	}
	if err := store.ValidateAgentID(params.AgentID); err != nil {
		c.sendError(req.ID, protocol.ErrInvalidRequest, err.Error())
		return
	}

	ev := store.EpisodicEvent{
		ID:        params.ID,
		EventType: params.EventType,
		AgentID:   params.AgentID,
		AgentType: params.AgentType,
		Timestamp: params.Timestamp,
		Metadata:  params.Metadata,
	}
	if ev.ID == "" {
		ev.ID = store.GenNewID().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if c.server.dedupe.IsDuplicate(ev.ID) {
		c.sendResponse(protocol.NewOKResponse(req.ID, map[string]string{"id": ev.ID, "status": "duplicate"}))
		return
	}
	if !c.server.feed.Ingest(ev) {
		c.sendError(req.ID, protocol.ErrResourceExhausted, "ingest queue full")
		return
	}
	c.sendResponse(protocol.NewOKResponse(req.ID, map[string]string{"id": ev.ID, "status": "accepted"}))
}

func (c *wsClient) handleLearn(ctx context.Context, req *protocol.RequestFrame) {
	var params struct {
		Topic      string  `json:"topic"`
		Pattern    string  `json:"pattern"`
		Confidence float64 `json:"confidence"`
	}
	if req.Params == nil {
		c.sendError(req.ID, protocol.ErrInvalidRequest, "missing params")
		return
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.sendError(req.ID, protocol.ErrInvalidRequest, "malformed params: "+err.Error())
		return
	}

	err := c.server.store.LearnKnowledge(ctx, params.Topic, params.Pattern, params.Confidence)
	if err != nil {
		c.sendError(req.ID, protocol.ErrInvalidRequest, err.Error())
		return
	}
	c.server.cast.Broadcast(bus.Event{
		Name:    protocol.EventLearned,
		Payload: map[string]any{"topic": params.Topic, "confidence": params.Confidence},
	})
	c.sendResponse(protocol.NewOKResponse(req.ID, map[string]string{"status": "ok"}))
}

func (c *wsClient) handleStats(ctx context.Context, req *protocol.RequestFrame) {
	stats, err := c.server.store.Stats(ctx)
	if err != nil {
		c.sendError(req.ID, protocol.ErrUnavailable, "stats unavailable")
		return
	}
	c.sendResponse(protocol.NewOKResponse(req.ID, stats))
}

func (c *wsClient) sendResponse(resp *protocol.ResponseFrame) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("http: marshal response failed", "error", err)
		return
	}
	c.enqueue(data)
}

func (c *wsClient) sendEvent(frame protocol.EventFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("http: marshal event failed", "error", err)
		return
	}
	c.enqueue(data)
}

func (c *wsClient) sendError(id, code, message string) {
	c.sendResponse(protocol.NewErrorResponse(id, code, message))
}

// enqueue drops the message when the send buffer is full; a slow
// client must not stall the feed.
func (c *wsClient) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Warn("http: ws send buffer full, dropping", "client", c.id)
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}
