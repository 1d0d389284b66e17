// Package heartbeat watches application-level liveness of the connection.
//
// The monitor is advisory. Long interactive terminal sessions are expensive
// to rebuild and routinely go quiet, so a stalled heartbeat is logged and
// reported but never closes the connection. Only the transport's own
// close/error callbacks change connection state.
package heartbeat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ricochet1k/orbitlink/internal/clock"
)

const (
	DefaultInterval  = 60 * time.Second
	DefaultThreshold = 120 * time.Second
)

// Pinger sends one liveness ping.
type Pinger interface {
	SendPing() error
}

// Stalled reports that no acknowledgment arrived within the threshold.
type Stalled struct {
	Silence time.Duration
}

func (Stalled) Name() string { return "liveness_stalled" }

type Options struct {
	Clock     clock.Clock
	Interval  time.Duration
	Threshold time.Duration
	Logger    *slog.Logger
}

type Monitor struct {
	pinger    Pinger
	clock     clock.Clock
	interval  time.Duration
	threshold time.Duration
	logger    *slog.Logger
	onStall   func(Stalled)

	mu      sync.Mutex
	armed   bool
	gen     uint64
	timer   *clock.Timer
	lastAck time.Time
	stalls  int
}

func New(pinger Pinger, onStall func(Stalled), opts Options) *Monitor {
	if onStall == nil {
		onStall = func(Stalled) {}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		pinger:    pinger,
		clock:     opts.Clock,
		interval:  opts.Interval,
		threshold: opts.Threshold,
		logger:    logger.With("component", "heartbeat"),
		onStall:   onStall,
	}
}

// Arm starts probing. Arming an armed monitor restarts its tracking.
func (m *Monitor) Arm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timer.Stop()
	m.armed = true
	m.gen++
	m.lastAck = m.clock.Now()
	m.scheduleLocked()
}

// Disarm stops probing.
func (m *Monitor) Disarm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = false
	m.gen++
	m.timer.Stop()
	m.timer = nil
}

// Ack records a liveness acknowledgment (a pong).
func (m *Monitor) Ack() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAck = m.clock.Now()
}

func (m *Monitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// Stalls counts how many times the threshold was exceeded while armed.
func (m *Monitor) Stalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stalls
}

func (m *Monitor) scheduleLocked() {
	gen := m.gen
	m.timer = m.clock.AfterFunc(m.interval, func() {
		m.tick(gen)
	})
}

func (m *Monitor) tick(gen uint64) {
	m.mu.Lock()
	if !m.armed || m.gen != gen {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	silence := now.Sub(m.lastAck)
	stalled := silence > m.threshold
	if stalled {
		m.stalls++
		// Start a fresh window instead of escalating.
		m.lastAck = now
	}
	m.scheduleLocked()
	m.mu.Unlock()

	if err := m.pinger.SendPing(); err != nil {
		m.logger.Debug("ping not sent", "error", err)
	}
	if stalled {
		m.logger.Warn("no heartbeat acknowledgment, keeping connection open", "silence", silence)
		m.onStall(Stalled{Silence: silence})
	}
}
