package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	realtimeTypes "github.com/ricochet1k/orbitlink/pkg/realtime"
)

type recordingHandler struct {
	opened   chan struct{}
	closed   chan string
	errs     chan error
	messages chan realtimeTypes.ServerEnvelope
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opened:   make(chan struct{}, 4),
		closed:   make(chan string, 4),
		errs:     make(chan error, 4),
		messages: make(chan realtimeTypes.ServerEnvelope, 16),
	}
}

func (h *recordingHandler) OnOpen()                                    { h.opened <- struct{}{} }
func (h *recordingHandler) OnClose(reason string)                      { h.closed <- reason }
func (h *recordingHandler) OnError(err error)                          { h.errs <- err }
func (h *recordingHandler) OnMessage(msg realtimeTypes.ServerEnvelope) { h.messages <- msg }

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoServer answers ping with pong and closes normally when it receives a
// command with operation "bye".
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg realtimeTypes.ClientEnvelope
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case realtimeTypes.ClientMessageTypePing:
				_ = conn.WriteJSON(realtimeTypes.ServerEnvelope{Type: realtimeTypes.ServerMessageTypePong})
			case realtimeTypes.ClientMessageTypeJoinProject:
				_ = conn.WriteJSON(realtimeTypes.ServerEnvelope{
					Type:      realtimeTypes.ServerMessageTypeProjectReady,
					ProjectID: msg.ProjectID,
				})
			case realtimeTypes.ClientMessageTypeCommand:
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
					time.Now().Add(time.Second))
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitOpen(t *testing.T, h *recordingHandler) {
	t.Helper()
	select {
	case <-h.opened:
	case err := <-h.errs:
		t.Fatalf("open failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnOpen")
	}
}

func TestWebSocket_OpenSendReceive(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	ws := NewWebSocket(WebSocketOptions{URL: wsURL(srv)})
	h := newRecordingHandler()
	ws.SetHandler(h)
	ws.Open(context.Background())
	waitOpen(t, h)
	defer ws.Close()

	if err := ws.Send(realtimeTypes.ClientEnvelope{Type: realtimeTypes.ClientMessageTypeJoinProject, ProjectID: "proj-1"}); err != nil {
		t.Fatalf("send join: %v", err)
	}
	select {
	case msg := <-h.messages:
		if msg.Type != realtimeTypes.ServerMessageTypeProjectReady || msg.ProjectID != "proj-1" {
			t.Fatalf("got %+v, want project-ready for proj-1", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for project-ready")
	}
}

func TestWebSocket_ServerCloseReportsServerDisconnect(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	ws := NewWebSocket(WebSocketOptions{URL: wsURL(srv)})
	h := newRecordingHandler()
	ws.SetHandler(h)
	ws.Open(context.Background())
	waitOpen(t, h)

	if err := ws.Send(realtimeTypes.ClientEnvelope{Type: realtimeTypes.ClientMessageTypeCommand}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case reason := <-h.closed:
		if reason != realtimeTypes.ReasonServerDisconnect {
			t.Fatalf("reason = %q, want %q", reason, realtimeTypes.ReasonServerDisconnect)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}

	if err := ws.Send(realtimeTypes.ClientEnvelope{Type: realtimeTypes.ClientMessageTypePing}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("send after close = %v, want ErrNotOpen", err)
	}
}

func TestWebSocket_ClientCloseReportsClientDisconnect(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	ws := NewWebSocket(WebSocketOptions{URL: wsURL(srv)})
	h := newRecordingHandler()
	ws.SetHandler(h)
	ws.Open(context.Background())
	waitOpen(t, h)

	if err := ws.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case reason := <-h.closed:
		if reason != realtimeTypes.ReasonClientDisconnect {
			t.Fatalf("reason = %q, want %q", reason, realtimeTypes.ReasonClientDisconnect)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}
}

func TestWebSocket_DialFailureReportsError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ws := NewWebSocket(WebSocketOptions{URL: wsURL(srv), DialTimeout: time.Second})
	h := newRecordingHandler()
	ws.SetHandler(h)
	ws.Open(context.Background())

	select {
	case err := <-h.errs:
		if err == nil {
			t.Fatal("expected dial error")
		}
	case <-h.opened:
		t.Fatal("open should not succeed against a non-websocket endpoint")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnError")
	}
}

func TestDisconnectReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&websocket.CloseError{Code: websocket.CloseNormalClosure}, realtimeTypes.ReasonServerDisconnect},
		{&websocket.CloseError{Code: websocket.CloseGoingAway}, realtimeTypes.ReasonServerDisconnect},
		{&websocket.CloseError{Code: websocket.CloseAbnormalClosure}, realtimeTypes.ReasonTransportClose},
		{errors.New("boom"), realtimeTypes.ReasonTransportError},
	}
	for _, tc := range cases {
		if got := disconnectReason(tc.err); got != tc.want {
			t.Errorf("disconnectReason(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
