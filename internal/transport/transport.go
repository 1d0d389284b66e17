// Package transport is the dumb bidirectional channel the client speaks over.
// It dials, reads and writes envelopes, and reports lifecycle through a
// Handler. It never retries on its own: reconnect policy lives in the
// reconnect package.
package transport

import (
	"context"
	"errors"

	realtimeTypes "github.com/ricochet1k/orbitlink/pkg/realtime"
)

var (
	ErrNotOpen = errors.New("transport not open")
	ErrClosed  = errors.New("transport closed")
)

// Handler receives transport callbacks. Calls for a single connection are
// delivered in order from one goroutine.
type Handler interface {
	OnOpen()
	OnClose(reason string)
	OnError(err error)
	OnMessage(msg realtimeTypes.ServerEnvelope)
}

type Transport interface {
	// SetHandler installs the callback target. It must be called before Open.
	SetHandler(h Handler)

	// Open starts a connection attempt. The outcome is reported through
	// OnOpen or OnError; Open itself does not block on the network.
	Open(ctx context.Context)

	// Close tears down the current connection or pending attempt. An open
	// connection reports OnClose with ReasonClientDisconnect.
	Close() error

	Send(msg realtimeTypes.ClientEnvelope) error
}

type nopHandler struct{}

func (nopHandler) OnOpen()                                {}
func (nopHandler) OnClose(string)                         {}
func (nopHandler) OnError(error)                          {}
func (nopHandler) OnMessage(realtimeTypes.ServerEnvelope) {}
