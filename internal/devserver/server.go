// Package devserver is a small realtime backend that speaks the same
// join/leave/ping/command protocol as the production server. It backs the
// serve command and the end-to-end tests.
package devserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ricochet1k/orbitlink/internal/clock"
	"github.com/ricochet1k/orbitlink/internal/config"
	"github.com/ricochet1k/orbitlink/internal/errclass"
	realtimeTypes "github.com/ricochet1k/orbitlink/pkg/realtime"
)

// Error codes the server reports besides the ones the client classifies.
const (
	CodeInvalidMessage     = "INVALID_MESSAGE"
	CodeUnsupportedMessage = "UNSUPPORTED_MESSAGE"
	CodeMissingProject     = "MISSING_PROJECT"
)

type Options struct {
	ReadyDelay    time.Duration
	WithholdReady bool
	WithholdPong  bool

	Clock  clock.Clock
	Logger *slog.Logger
}

func OptionsFromConfig(cfg config.DevServerConfig, logger *slog.Logger) Options {
	return Options{
		ReadyDelay:    cfg.ReadyDelay,
		WithholdReady: cfg.WithholdReady,
		WithholdPong:  cfg.WithholdPong,
		Logger:        logger,
	}
}

type Server struct {
	opts     Options
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:   opts,
		hub:    NewHub(),
		logger: logger.With("component", "devserver"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Router returns the HTTP surface of the server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	s.Mount(r)
	return r
}

func (s *Server) Mount(r chi.Router) {
	r.Get("/healthz", s.health)
	r.Get("/api/realtime", s.realtimeWebSocket)
	r.Get("/api/projects", s.listProjects)
	r.Post("/api/projects/{projectID}/disconnect", s.disconnectProject)
	r.Post("/api/clients/disconnect", s.disconnectClients)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.Clients(),
	})
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Snapshot())
}

func (s *Server) disconnectProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	n := s.hub.DisconnectProject(projectID)
	s.logger.Info("project disconnected", "project_id", projectID, "clients", n)
	writeJSON(w, http.StatusOK, map[string]any{"project_id": projectID, "clients": n})
}

func (s *Server) disconnectClients(w http.ResponseWriter, r *http.Request) {
	n := s.hub.KickAll("server disconnect")
	s.logger.Info("clients disconnected", "clients", n)
	writeJSON(w, http.StatusOK, map[string]any{"clients": n})
}

func (s *Server) realtimeWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := newConn(uuid.NewString(), ws)
	s.hub.Register(conn)
	defer s.hub.Unregister(conn.ID())
	logger := s.logger.With("conn_id", conn.ID())
	logger.Debug("client connected")

	go conn.writeLoop()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			logger.Debug("client gone", "error", err)
			return
		}

		var msg realtimeTypes.ClientEnvelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendError(conn, "", CodeInvalidMessage, "invalid message", nil)
			continue
		}

		switch msg.Type {
		case realtimeTypes.ClientMessageTypeJoinProject:
			s.handleJoin(conn, msg, logger)
		case realtimeTypes.ClientMessageTypeLeaveProject:
			s.handleLeave(conn, msg)
		case realtimeTypes.ClientMessageTypePing:
			if s.opts.WithholdPong {
				continue
			}
			if !conn.Queue(realtimeTypes.ServerEnvelope{Type: realtimeTypes.ServerMessageTypePong}) {
				return
			}
		case realtimeTypes.ClientMessageTypeCommand:
			s.handleCommand(conn, msg)
		default:
			s.sendError(conn, msg.ProjectID, CodeUnsupportedMessage, "unsupported message type", map[string]any{"type": string(msg.Type)})
		}
	}
}

func (s *Server) handleJoin(conn *Conn, msg realtimeTypes.ClientEnvelope, logger *slog.Logger) {
	if msg.ProjectID == "" {
		s.sendError(conn, "", CodeMissingProject, "project_id is required", nil)
		return
	}
	if !conn.join(msg.ProjectID, s.opts.Clock.Now().UTC()) {
		s.sendError(conn, msg.ProjectID, errclass.CodeAlreadyJoined, "already joined project", nil)
		return
	}
	logger.Info("project joined", "project_id", msg.ProjectID, "client_id", msg.ClientID)

	if s.opts.WithholdReady {
		return
	}
	ready := realtimeTypes.ServerEnvelope{
		Type:      realtimeTypes.ServerMessageTypeProjectReady,
		ProjectID: msg.ProjectID,
	}
	if s.opts.ReadyDelay <= 0 {
		conn.Queue(ready)
		return
	}
	projectID := msg.ProjectID
	s.opts.Clock.AfterFunc(s.opts.ReadyDelay, func() {
		if conn.InProject(projectID) {
			conn.Queue(ready)
		}
	})
}

func (s *Server) handleLeave(conn *Conn, msg realtimeTypes.ClientEnvelope) {
	if !conn.leave(msg.ProjectID) {
		return
	}
	conn.Queue(realtimeTypes.ServerEnvelope{
		Type:      realtimeTypes.ServerMessageTypeProjectDisconnected,
		ProjectID: msg.ProjectID,
	})
}

type commandOutput struct {
	ID        string          `json:"id,omitempty"`
	ClientID  string          `json:"client_id,omitempty"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (s *Server) handleCommand(conn *Conn, msg realtimeTypes.ClientEnvelope) {
	if !conn.InProject(msg.ProjectID) {
		s.sendError(conn, msg.ProjectID, errclass.CodeNotConnectedToProject, "not connected to project", nil)
		return
	}
	var cmd realtimeTypes.CommandPayload
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil || cmd.Operation == "" {
		s.sendError(conn, msg.ProjectID, CodeInvalidMessage, "invalid command payload", nil)
		return
	}
	payload, err := json.Marshal(commandOutput{
		ID:        msg.ID,
		ClientID:  msg.ClientID,
		Operation: cmd.Operation,
		Data:      cmd.Data,
	})
	if err != nil {
		s.sendError(conn, msg.ProjectID, CodeInvalidMessage, err.Error(), nil)
		return
	}
	s.hub.Publish(msg.ProjectID, realtimeTypes.ServerEnvelope{
		Type:      realtimeTypes.ServerMessageTypeOutput,
		ProjectID: msg.ProjectID,
		Payload:   payload,
	})
}

func (s *Server) sendError(conn *Conn, projectID, code, message string, details map[string]any) {
	conn.Queue(realtimeTypes.ServerEnvelope{
		Type:      realtimeTypes.ServerMessageTypeError,
		ProjectID: projectID,
		Error: &realtimeTypes.ErrorPayload{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
