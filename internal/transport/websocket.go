package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	realtimeTypes "github.com/ricochet1k/orbitlink/pkg/realtime"
)

const (
	defaultDialTimeout  = 20 * time.Second
	defaultPingInterval = 25 * time.Second
	defaultPongWait     = 45 * time.Second
	defaultWriteWait    = 5 * time.Second
	maxMessageSize      = 4 * 1024 * 1024
)

type WebSocketOptions struct {
	URL    string
	Header http.Header

	DialTimeout  time.Duration
	PingInterval time.Duration // websocket control-frame keep-alive
	PongWait     time.Duration // read deadline extended on every pong
	WriteWait    time.Duration

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// WebSocket is a Transport over a single gorilla websocket connection.
type WebSocket struct {
	opts   WebSocketOptions
	logger *slog.Logger

	mu         sync.Mutex
	handler    Handler
	conn       *websocket.Conn
	gen        uint64
	cancelDial context.CancelFunc
	closing    bool
}

func NewWebSocket(opts WebSocketOptions) *WebSocket {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		opts:    opts,
		logger:  logger.With("component", "transport", "url", opts.URL),
		handler: nopHandler{},
	}
}

func (w *WebSocket) SetHandler(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if h == nil {
		h = nopHandler{}
	}
	w.handler = h
}

func (w *WebSocket) Open(ctx context.Context) {
	w.mu.Lock()
	if w.conn != nil || w.cancelDial != nil {
		w.mu.Unlock()
		return
	}
	w.gen++
	gen := w.gen
	dialCtx, cancel := context.WithTimeout(ctx, w.opts.DialTimeout)
	w.cancelDial = cancel
	w.closing = false
	w.mu.Unlock()

	go w.dial(dialCtx, cancel, gen)
}

func (w *WebSocket) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()

	conn, resp, err := w.opts.Dialer.DialContext(ctx, w.opts.URL, w.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	w.mu.Lock()
	if gen != w.gen {
		// Close was called while dialing.
		w.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	w.cancelDial = nil
	handler := w.handler
	if err != nil {
		w.mu.Unlock()
		w.logger.Debug("dial failed", "error", err)
		handler.OnError(fmt.Errorf("dial %s: %w", w.opts.URL, err))
		return
	}
	w.conn = conn
	w.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(w.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.opts.PongWait))
	})

	done := make(chan struct{})
	go w.pingLoop(conn, done)

	handler.OnOpen()
	w.readLoop(conn, handler)
	close(done)
}

func (w *WebSocket) readLoop(conn *websocket.Conn, handler Handler) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			reason := w.release(conn, err)
			handler.OnClose(reason)
			return
		}
		// Any inbound traffic proves liveness.
		_ = conn.SetReadDeadline(time.Now().Add(w.opts.PongWait))

		var msg realtimeTypes.ServerEnvelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.logger.Warn("dropping undecodable message", "error", err, "size", len(raw))
			continue
		}
		handler.OnMessage(msg)
	}
}

func (w *WebSocket) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(w.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.opts.WriteWait)); err != nil {
				return
			}
		}
	}
}

// release forgets conn and maps the read error to a disconnect reason.
func (w *WebSocket) release(conn *websocket.Conn, err error) string {
	w.mu.Lock()
	manual := w.closing
	if w.conn == conn {
		w.conn = nil
	}
	w.closing = false
	w.mu.Unlock()

	_ = conn.Close()
	if manual {
		return realtimeTypes.ReasonClientDisconnect
	}
	return disconnectReason(err)
}

func disconnectReason(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return realtimeTypes.ReasonServerDisconnect
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return realtimeTypes.ReasonTransportClose
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return realtimeTypes.ReasonPingTimeout
	}
	return realtimeTypes.ReasonTransportError
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.cancelDial != nil {
		w.gen++
		w.cancelDial()
		w.cancelDial = nil
	}
	conn := w.conn
	if conn == nil {
		w.mu.Unlock()
		return nil
	}
	w.closing = true
	w.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.opts.WriteWait))
	// The read loop observes the close and reports OnClose.
	return conn.Close()
}

func (w *WebSocket) Send(msg realtimeTypes.ClientEnvelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return ErrNotOpen
	}
	if w.closing {
		return ErrClosed
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.opts.WriteWait))
	if err := w.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}
