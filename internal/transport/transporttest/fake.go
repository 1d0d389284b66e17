// Package transporttest provides an in-memory Transport whose lifecycle is
// driven by the test.
package transporttest

import (
	"context"
	"sync"

	"github.com/ricochet1k/orbitlink/internal/transport"
	realtimeTypes "github.com/ricochet1k/orbitlink/pkg/realtime"
)

// Fake records Open, Close and Send calls. Lifecycle callbacks are delivered
// synchronously by the Open/Fail/Drop/Deliver helpers.
type Fake struct {
	mu      sync.Mutex
	handler transport.Handler
	opens   int
	closes  int
	open    bool
	sent    []realtimeTypes.ClientEnvelope
	sendErr error
}

func New() *Fake {
	return &Fake{}
}

func (f *Fake) SetHandler(h transport.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *Fake) Open(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.open = false
	return nil
}

func (f *Fake) Send(msg realtimeTypes.ClientEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if !f.open {
		return transport.ErrNotOpen
	}
	f.sent = append(f.sent, msg)
	return nil
}

// Connect completes a pending Open.
func (f *Fake) Connect() {
	f.mu.Lock()
	f.open = true
	h := f.handler
	f.mu.Unlock()
	h.OnOpen()
}

// Fail reports a failed connection attempt.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h.OnError(err)
}

// Drop closes the live connection with reason.
func (f *Fake) Drop(reason string) {
	f.mu.Lock()
	f.open = false
	h := f.handler
	f.mu.Unlock()
	h.OnClose(reason)
}

// Deliver hands msg to the handler as if it arrived from the server.
func (f *Fake) Deliver(msg realtimeTypes.ServerEnvelope) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h.OnMessage(msg)
}

func (f *Fake) SetSendError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *Fake) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *Fake) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// Sent returns a copy of every envelope sent so far.
func (f *Fake) Sent() []realtimeTypes.ClientEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtimeTypes.ClientEnvelope(nil), f.sent...)
}

// SentOfType filters Sent by message type.
func (f *Fake) SentOfType(typ realtimeTypes.ClientMessageType) []realtimeTypes.ClientEnvelope {
	var out []realtimeTypes.ClientEnvelope
	for _, msg := range f.Sent() {
		if msg.Type == typ {
			out = append(out, msg)
		}
	}
	return out
}
