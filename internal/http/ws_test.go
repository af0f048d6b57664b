package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/recall/pkg/protocol"
)

func dialWS(t *testing.T, s *Server, token string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if token != "" {
		url += "?access_token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("ws frame decode: %v\n%s", err, data)
	}
	return frame
}

func frameString(t *testing.T, frame map[string]json.RawMessage, key string) string {
	t.Helper()
	raw, ok := frame[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("frame[%s] not a string: %s", key, raw)
	}
	return s
}

func TestWSHandshake(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	conn := dialWS(t, s, "")

	hello := readFrame(t, conn)
	if got := frameString(t, hello, "event"); got != protocol.EventHandshake {
		t.Fatalf("first frame event = %q, want %q", got, protocol.EventHandshake)
	}
}

func TestWSRejectsBadToken(t *testing.T) {
	s, _, _ := newTestServer(t, "secret")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?access_token=wrong"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("dial with bad token must fail")
	}
}

func TestWSStatsRoundtrip(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	conn := dialWS(t, s, "")
	readFrame(t, conn) // hello

	req := protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: "r1", Method: protocol.MethodStatsGet}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatal(err)
	}

	res := readFrame(t, conn)
	if got := frameString(t, res, "type"); got != protocol.FrameTypeResponse {
		t.Fatalf("frame type = %q", got)
	}
	if got := frameString(t, res, "id"); got != "r1" {
		t.Errorf("response id = %q", got)
	}
	var ok bool
	if err := json.Unmarshal(res["ok"], &ok); err != nil || !ok {
		t.Errorf("ok = %v (err %v)", ok, err)
	}
}

func TestWSUnknownMethod(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	conn := dialWS(t, s, "")
	readFrame(t, conn) // hello

	req := protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: "r2", Method: "bogus.method"}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatal(err)
	}

	res := readFrame(t, conn)
	var ok bool
	json.Unmarshal(res["ok"], &ok)
	if ok {
		t.Fatal("unknown method must fail")
	}
	var errShape protocol.ErrorShape
	if err := json.Unmarshal(res["error"], &errShape); err != nil {
		t.Fatal(err)
	}
	if errShape.Code != protocol.ErrInvalidRequest {
		t.Errorf("error code = %q", errShape.Code)
	}
}

func TestWSEventFeed(t *testing.T) {
	s, _, _ := newTestServer(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.writerLoop(ctx)

	conn := dialWS(t, s, "")
	readFrame(t, conn) // hello

	// Record through the RPC surface; the persisted event must come
	// back on the feed.
	req := protocol.RequestFrame{
		Type:   protocol.FrameTypeRequest,
		ID:     "r3",
		Method: protocol.MethodEventsRecord,
		Params: json.RawMessage(`{"event_type":"complete","agent_id":"coder-9"}`),
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatal(err)
	}

	sawResponse, sawEvent := false, false
	for i := 0; i < 3 && !(sawResponse && sawEvent); i++ {
		frame := readFrame(t, conn)
		switch frameString(t, frame, "type") {
		case protocol.FrameTypeResponse:
			sawResponse = true
		case protocol.FrameTypeEvent:
			if frameString(t, frame, "event") == protocol.EventRecorded {
				sawEvent = true
			}
		}
	}
	if !sawResponse || !sawEvent {
		t.Fatalf("sawResponse=%v sawEvent=%v", sawResponse, sawEvent)
	}
}
