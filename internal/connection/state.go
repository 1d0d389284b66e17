package connection

import "errors"

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state only changes on an explicit Connect.
func (s State) Terminal() bool {
	return s == StateFailed
}

var (
	ErrNotConnected = errors.New("not connected")
	ErrStopped      = errors.New("connection stopped")
)
