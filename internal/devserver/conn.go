package devserver

import (
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	realtimeTypes "github.com/ricochet1k/orbitlink/pkg/realtime"
)

const (
	outboundBufferSize = 64
	writeWait          = 5 * time.Second
)

// Conn is one connected client and the projects it has joined.
type Conn struct {
	id   string
	ws   *websocket.Conn
	send chan realtimeTypes.ServerEnvelope

	mu       sync.Mutex
	closed   bool
	projects map[string]time.Time
}

func newConn(id string, ws *websocket.Conn) *Conn {
	return &Conn{
		id:       id,
		ws:       ws,
		send:     make(chan realtimeTypes.ServerEnvelope, outboundBufferSize),
		projects: make(map[string]time.Time),
	}
}

func (c *Conn) ID() string {
	return c.id
}

// Queue schedules msg for writing. It reports false when the connection is
// closed or too far behind.
func (c *Conn) Queue(msg realtimeTypes.ServerEnvelope) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.ws.Close()
}

// Kick closes the connection with a close frame, which clients report as a
// server-initiated disconnect.
func (c *Conn) Kick(reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.Close()
}

func (c *Conn) join(projectID string, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.projects[projectID]; ok {
		return false
	}
	c.projects[projectID] = at
	return true
}

func (c *Conn) leave(projectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.projects[projectID]; !ok {
		return false
	}
	delete(c.projects, projectID)
	return true
}

func (c *Conn) InProject(projectID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.projects[projectID]
	return ok
}

func (c *Conn) Projects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.projects))
	for id := range c.projects {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Conn) joinedAt(projectID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.projects[projectID]
	return at, ok
}
