package devserver

import (
	"sort"
	"sync"

	realtimeTypes "github.com/ricochet1k/orbitlink/pkg/realtime"
)

// Hub tracks connected clients and routes project-scoped messages to the
// clients that joined the project.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*Conn)}
}

func (h *Hub) Register(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn.ID()] = conn
}

func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	if ok {
		delete(h.conns, connID)
	}
	h.mu.Unlock()

	if ok {
		conn.Close()
	}
}

func (h *Hub) all() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Publish queues msg for every client in projectID. Clients that cannot keep
// up are dropped.
func (h *Hub) Publish(projectID string, msg realtimeTypes.ServerEnvelope) int {
	delivered := 0
	for _, conn := range h.all() {
		if !conn.InProject(projectID) {
			continue
		}
		if conn.Queue(msg) {
			delivered++
			continue
		}
		h.Unregister(conn.ID())
	}
	return delivered
}

// DisconnectProject removes every client from projectID and tells them so.
func (h *Hub) DisconnectProject(projectID string) int {
	n := 0
	for _, conn := range h.all() {
		if !conn.leave(projectID) {
			continue
		}
		n++
		if !conn.Queue(realtimeTypes.ServerEnvelope{
			Type:      realtimeTypes.ServerMessageTypeProjectDisconnected,
			ProjectID: projectID,
		}) {
			h.Unregister(conn.ID())
		}
	}
	return n
}

// KickAll closes every connection from the server side.
func (h *Hub) KickAll(reason string) int {
	conns := h.all()
	for _, conn := range conns {
		conn.Kick(reason)
		h.Unregister(conn.ID())
	}
	return len(conns)
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Snapshot lists projects with at least one client, ordered by id.
func (h *Hub) Snapshot() realtimeTypes.ProjectsSnapshot {
	byID := map[string]*realtimeTypes.ProjectInfo{}
	for _, conn := range h.all() {
		for _, id := range conn.Projects() {
			info, ok := byID[id]
			if !ok {
				info = &realtimeTypes.ProjectInfo{ID: id}
				byID[id] = info
			}
			info.Clients++
			if at, ok := conn.joinedAt(id); ok && (info.JoinedAt.IsZero() || at.Before(info.JoinedAt)) {
				info.JoinedAt = at
			}
		}
	}
	out := realtimeTypes.ProjectsSnapshot{Projects: make([]realtimeTypes.ProjectInfo, 0, len(byID))}
	for _, info := range byID {
		out.Projects = append(out.Projects, *info)
	}
	sort.Slice(out.Projects, func(i, j int) bool { return out.Projects[i].ID < out.Projects[j].ID })
	return out
}
