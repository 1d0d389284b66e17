// Package reconnect decides when to reopen the connection and when to rejoin
// the last active project after it comes back.
//
// The coordinator is the only place retry timing lives. It never touches the
// transport directly: it asks the connection tracker to Reconnect and asks
// the session side to Join the active project once the connection settles.
package reconnect

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ricochet1k/orbitlink/internal/clock"
	"github.com/ricochet1k/orbitlink/internal/connection"
	"github.com/ricochet1k/orbitlink/internal/retry"
)

const (
	DefaultInitialSettle   = 1 * time.Second
	DefaultReconnectSettle = 2 * time.Second
)

// Reconnector reopens the connection.
type Reconnector interface {
	Reconnect() bool
}

// Rejoiner re-issues a project join. Join leaves a connecting or ready
// project alone; Rejoin forces a fresh join regardless.
type Rejoiner interface {
	Join(projectID string) error
	Rejoin(projectID string) error
}

type Options struct {
	Clock           clock.Clock
	Policy          retry.Policy
	InitialSettle   time.Duration // wait before rejoining after the first connect
	ReconnectSettle time.Duration // wait before rejoining after a reconnect
	Logger          *slog.Logger
}

type Coordinator struct {
	conn            Reconnector
	rejoiner        Rejoiner
	clock           clock.Clock
	policy          retry.Policy
	initialSettle   time.Duration
	reconnectSettle time.Duration
	logger          *slog.Logger

	mu          sync.Mutex
	active      string
	retryTimer  *clock.Timer
	retryGen    uint64
	rejoinTimer *clock.Timer
	rejoinGen   uint64
}

func New(conn Reconnector, rejoiner Rejoiner, opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.InitialSettle <= 0 {
		opts.InitialSettle = DefaultInitialSettle
	}
	if opts.ReconnectSettle <= 0 {
		opts.ReconnectSettle = DefaultReconnectSettle
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		conn:            conn,
		rejoiner:        rejoiner,
		clock:           opts.Clock,
		policy:          opts.Policy,
		initialSettle:   opts.InitialSettle,
		reconnectSettle: opts.ReconnectSettle,
		logger:          logger.With("component", "reconnect"),
	}
}

// SetActive records the project to restore after reconnects.
func (c *Coordinator) SetActive(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = projectID
}

// ClearActive forgets the active project if it is projectID, or
// unconditionally when projectID is empty.
func (c *Coordinator) ClearActive(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if projectID == "" || c.active == projectID {
		c.active = ""
		c.rejoinTimer.Stop()
		c.rejoinTimer = nil
	}
}

func (c *Coordinator) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// HandleEvent advances the retry state machine on a connection event.
func (c *Coordinator) HandleEvent(ev connection.Event) {
	switch ev := ev.(type) {
	case connection.Connected:
		c.scheduleRejoin(c.initialSettle, false)
	case connection.Reconnected:
		c.scheduleRejoin(c.reconnectSettle, false)
	case connection.Disconnected:
		c.cancelRejoin()
		switch {
		case ev.ClientInitiated():
			c.Cancel()
		case ev.ServerInitiated():
			// The server closed us on purpose, so nothing else will retry.
			c.scheduleReconnect(0)
		default:
			c.scheduleReconnect(c.policy.Delay(1))
		}
	case connection.ConnectError:
		if ev.Terminal {
			c.Cancel()
			return
		}
		c.scheduleReconnect(c.policy.Delay(ev.Attempt))
	case connection.ReconnectAttempt, connection.ReconnectFailed, connection.ServerError, connection.Message:
	}
}

// ScheduleRejoin forces a fresh join of the active project after delay, even
// if the project is already marked ready. A pending rejoin is replaced, so at
// most one join is issued per schedule.
func (c *Coordinator) ScheduleRejoin(delay time.Duration) {
	c.scheduleRejoin(delay, true)
}

func (c *Coordinator) scheduleRejoin(delay time.Duration, force bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == "" {
		return
	}
	c.rejoinTimer.Stop()
	c.rejoinGen++
	gen := c.rejoinGen
	project := c.active
	c.rejoinTimer = c.clock.AfterFunc(delay, func() {
		c.rejoin(project, gen, force)
	})
	c.logger.Debug("rejoin scheduled", "project", project, "delay", delay, "force", force)
}

func (c *Coordinator) rejoin(project string, gen uint64, force bool) {
	c.mu.Lock()
	if c.rejoinGen != gen || c.rejoinTimer == nil || c.active != project {
		c.mu.Unlock()
		return
	}
	c.rejoinTimer = nil
	c.mu.Unlock()

	c.logger.Info("rejoining project", "project", project, "force", force)
	join := c.rejoiner.Join
	if force {
		join = c.rejoiner.Rejoin
	}
	if err := join(project); err != nil {
		c.logger.Warn("rejoin failed", "project", project, "error", err)
	}
}

func (c *Coordinator) scheduleReconnect(delay time.Duration) {
	c.mu.Lock()
	c.retryTimer.Stop()
	c.retryTimer = nil
	if delay <= 0 {
		c.mu.Unlock()
		c.conn.Reconnect()
		return
	}
	c.retryGen++
	gen := c.retryGen
	c.retryTimer = c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.retryGen != gen || c.retryTimer == nil {
			c.mu.Unlock()
			return
		}
		c.retryTimer = nil
		c.mu.Unlock()
		c.conn.Reconnect()
	})
	c.mu.Unlock()
	c.logger.Debug("reconnect scheduled", "delay", delay)
}

func (c *Coordinator) cancelRejoin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejoinTimer.Stop()
	c.rejoinTimer = nil
}

// Cancel stops any pending reconnect or rejoin.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryTimer.Stop()
	c.retryTimer = nil
	c.rejoinTimer.Stop()
	c.rejoinTimer = nil
}
