// Package connection owns the single backend connection. The Tracker turns
// raw transport callbacks into a named State and a stream of semantic
// events; nothing else opens or closes the transport.
package connection

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ricochet1k/orbitlink/internal/retry"
	"github.com/ricochet1k/orbitlink/internal/transport"
	realtimeTypes "github.com/ricochet1k/orbitlink/pkg/realtime"
)

type Options struct {
	Policy retry.Policy
	Logger *slog.Logger
}

type Tracker struct {
	transport transport.Transport
	budget    *retry.Budget
	logger    *slog.Logger
	sink      func(Event)

	mu            sync.Mutex
	ctx           context.Context
	state         State
	reconnects    int
	everConnected bool
	stopped       bool
}

// New wires the tracker as t's handler. sink receives every event outside
// the tracker's lock, in the goroutine that delivered the callback.
func New(t transport.Transport, sink func(Event), opts Options) *Tracker {
	if sink == nil {
		sink = func(Event) {}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tr := &Tracker{
		transport: t,
		budget:    retry.NewBudget(opts.Policy),
		logger:    logger.With("component", "connection"),
		sink:      sink,
		ctx:       context.Background(),
		state:     StateDisconnected,
		stopped:   true,
	}
	t.SetHandler(handler{tr})
	return tr
}

// Connect starts connecting unless a connection is already up or in
// progress. From StateFailed it clears the attempt ceiling.
func (t *Tracker) Connect(ctx context.Context) {
	t.mu.Lock()
	switch t.state {
	case StateConnecting, StateConnected, StateReconnecting:
		t.mu.Unlock()
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.budget.Reset()
	t.ctx = ctx
	t.stopped = false
	t.state = StateConnecting
	t.mu.Unlock()

	t.logger.Info("connecting")
	t.transport.Open(ctx)
}

// Disconnect closes the connection and suppresses any further automatic
// reconnects until Connect is called.
func (t *Tracker) Disconnect() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.state = StateDisconnected
	t.reconnects = 0
	t.everConnected = false
	t.budget.Reset()
	t.mu.Unlock()

	if err := t.transport.Close(); err != nil {
		t.logger.Debug("transport close", "error", err)
	}
	t.logger.Info("disconnected by client")
	t.sink(Disconnected{Reason: realtimeTypes.ReasonClientDisconnect})
}

// Reconnect reopens the transport after a drop or failed attempt. It
// reports false when the tracker is stopped, terminal, or already
// connected or connecting.
func (t *Tracker) Reconnect() bool {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return false
	}
	switch t.state {
	case StateConnected, StateConnecting, StateReconnecting, StateFailed:
		t.mu.Unlock()
		return false
	}
	t.reconnects++
	n := t.reconnects
	t.state = StateReconnecting
	ctx := t.ctx
	t.mu.Unlock()

	t.logger.Info("reconnecting", "attempt", n)
	t.sink(ReconnectAttempt{Attempt: n})
	t.transport.Open(ctx)
	return true
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) IsConnected() bool {
	return t.State() == StateConnected
}

// Attempts returns consecutive failed connection attempts. It is zero
// whenever the state is StateConnected.
func (t *Tracker) Attempts() int {
	return t.budget.Failures()
}

// Send writes msg on the live connection.
func (t *Tracker) Send(msg realtimeTypes.ClientEnvelope) error {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	if state != StateConnected {
		return ErrNotConnected
	}
	return t.transport.Send(msg)
}

func (t *Tracker) onOpen() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.state = StateConnected
	t.budget.Reset()
	var ev Event = Connected{}
	if t.everConnected {
		ev = Reconnected{Attempt: t.reconnects}
	}
	t.everConnected = true
	t.reconnects = 0
	t.mu.Unlock()

	t.logger.Info("connected", "event", ev.Name())
	t.sink(ev)
}

func (t *Tracker) onClose(reason string) {
	t.mu.Lock()
	if t.stopped || t.state == StateDisconnected {
		t.mu.Unlock()
		return
	}
	t.state = StateDisconnected
	t.mu.Unlock()

	t.logger.Warn("connection closed", "reason", reason)
	t.sink(Disconnected{Reason: reason})
}

func (t *Tracker) onError(err error) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	n, exhausted := t.budget.RecordFailure()
	if exhausted {
		t.state = StateFailed
	} else {
		t.state = StateError
	}
	t.mu.Unlock()

	if exhausted {
		t.logger.Error("connection failed, giving up until reconnected manually", "attempts", n, "error", err)
		t.sink(ConnectError{Attempt: n, Err: err, Terminal: true})
		t.sink(ReconnectFailed{Attempts: n})
		return
	}
	t.logger.Warn("connection attempt failed", "attempt", n, "error", err)
	t.sink(ConnectError{Attempt: n, Err: err})
}

func (t *Tracker) onMessage(msg realtimeTypes.ServerEnvelope) {
	if msg.Type == realtimeTypes.ServerMessageTypeError {
		ev := ServerError{}
		if msg.Error != nil {
			ev.Code = msg.Error.Code
			ev.Message = msg.Error.Message
			ev.Details = msg.Error.Details
		}
		t.sink(ev)
		return
	}
	t.sink(Message{Envelope: msg})
}

// handler keeps the transport callbacks off the Tracker's exported API.
type handler struct {
	t *Tracker
}

func (h handler) OnOpen()                                    { h.t.onOpen() }
func (h handler) OnClose(reason string)                      { h.t.onClose(reason) }
func (h handler) OnError(err error)                          { h.t.onError(err) }
func (h handler) OnMessage(msg realtimeTypes.ServerEnvelope) { h.t.onMessage(msg) }
