package connection

import (
	realtimeTypes "github.com/ricochet1k/orbitlink/pkg/realtime"
)

// Event is emitted by the Tracker. The concrete types below are the only
// implementations.
type Event interface {
	Name() string
	connectionEvent()
}

type Connected struct{}

type Disconnected struct {
	Reason string
}

// Reconnected follows a successful open after the connection had been up
// before. Attempt is how many reconnects this outage took.
type Reconnected struct {
	Attempt int
}

type ReconnectAttempt struct {
	Attempt int
}

type ReconnectFailed struct {
	Attempts int
}

type ConnectError struct {
	Attempt  int
	Err      error
	Terminal bool
}

type ServerError struct {
	Code    string
	Message string
	Details map[string]any
}

// Message carries any inbound envelope that is not a protocol error.
type Message struct {
	Envelope realtimeTypes.ServerEnvelope
}

func (Connected) Name() string        { return "connected" }
func (Disconnected) Name() string     { return "disconnected" }
func (Reconnected) Name() string      { return "reconnected" }
func (ReconnectAttempt) Name() string { return realtimeTypes.LifecycleReconnectAttempt }
func (ReconnectFailed) Name() string  { return realtimeTypes.LifecycleReconnectFailed }
func (ConnectError) Name() string     { return "connection_error" }
func (ServerError) Name() string      { return "server_error" }
func (Message) Name() string          { return "message" }

func (Connected) connectionEvent()        {}
func (Disconnected) connectionEvent()     {}
func (Reconnected) connectionEvent()      {}
func (ReconnectAttempt) connectionEvent() {}
func (ReconnectFailed) connectionEvent()  {}
func (ConnectError) connectionEvent()     {}
func (ServerError) connectionEvent()      {}
func (Message) connectionEvent()          {}

// ServerInitiated reports whether the backend closed the connection on
// purpose. The transport does not retry these on its own.
func (d Disconnected) ServerInitiated() bool {
	return d.Reason == realtimeTypes.ReasonServerDisconnect
}

// ClientInitiated reports whether Disconnect caused the close.
func (d Disconnected) ClientInitiated() bool {
	return d.Reason == realtimeTypes.ReasonClientDisconnect
}
