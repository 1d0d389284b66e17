package realtime

import (
	"encoding/json"
	"time"
)

// Lifecycle names reported by the transport. They never travel over the wire
// but are kept identical to the names the backend and browser client use.
const (
	LifecycleConnect          = "connect"
	LifecycleDisconnect       = "disconnect"
	LifecycleConnectError     = "connect_error"
	LifecycleReconnect        = "reconnect"
	LifecycleReconnectAttempt = "reconnect_attempt"
	LifecycleReconnectFailed  = "reconnect_failed"
)

type ClientMessageType string

const (
	ClientMessageTypeJoinProject  ClientMessageType = "join-project"
	ClientMessageTypeLeaveProject ClientMessageType = "leave-project"
	ClientMessageTypePing         ClientMessageType = "ping"
	ClientMessageTypeCommand      ClientMessageType = "command"
)

type ServerMessageType string

const (
	ServerMessageTypeProjectReady        ServerMessageType = "project-ready"
	ServerMessageTypeProjectDisconnected ServerMessageType = "project-disconnected"
	ServerMessageTypeError               ServerMessageType = "error"
	ServerMessageTypePong                ServerMessageType = "pong"
	ServerMessageTypeOutput              ServerMessageType = "output"
)

// Disconnect reasons, matching the strings the backend reports.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonClientDisconnect = "io client disconnect"
	ReasonPingTimeout      = "ping timeout"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
)

type ClientEnvelope struct {
	Type      ClientMessageType `json:"type"`
	ID        string            `json:"id,omitempty"`
	ProjectID string            `json:"project_id,omitempty"`
	ClientID  string            `json:"client_id,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
}

type ServerEnvelope struct {
	Type      ServerMessageType `json:"type"`
	ProjectID string            `json:"project_id,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Error     *ErrorPayload     `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp,omitzero"`
}

// ErrorPayload is the body of an "error" envelope.
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type CommandPayload struct {
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type ProjectInfo struct {
	ID       string    `json:"id"`
	Clients  int       `json:"clients"`
	JoinedAt time.Time `json:"joined_at"`
}

type ProjectsSnapshot struct {
	Projects []ProjectInfo `json:"projects"`
}
