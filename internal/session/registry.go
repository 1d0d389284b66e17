// Package session tracks readiness of each project's server-side session and
// lets callers defer work until a project is usable.
//
// A join that the server never acknowledges is still marked ready once the
// fallback delay passes. This keeps the UI from waiting forever on a lost or
// racy project-ready message, at the price that IsReady can report true for
// a session the server never confirmed.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ricochet1k/orbitlink/internal/clock"
)

const (
	DefaultReadyTimeout  = 5 * time.Second
	DefaultFallbackDelay = 2 * time.Second
)

var ErrProjectTimeout = errors.New("project connection timeout")

var ErrNilContinuation = errors.New("nil continuation")

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Joiner sends the join request for a project over the connection.
type Joiner interface {
	SendJoin(projectID string) error
}

type Options struct {
	Clock         clock.Clock
	ReadyTimeout  time.Duration
	FallbackDelay time.Duration
	Logger        *slog.Logger
}

type Registry struct {
	joiner        Joiner
	clock         clock.Clock
	sink          func(Event)
	logger        *slog.Logger
	readyTimeout  time.Duration
	fallbackDelay time.Duration

	mu       sync.Mutex
	projects map[string]*project
	nextID   uint64
}

type project struct {
	id           string
	state        State
	pending      []*continuation
	lastActivity time.Time
	joinGen      uint64
	fallback     *clock.Timer
}

type continuation struct {
	id         uint64
	fn         func()
	enqueuedAt time.Time
	timer      *clock.Timer
}

// ProjectStatus is a point-in-time view of one project.
type ProjectStatus struct {
	ID           string
	State        State
	Pending      int
	LastActivity time.Time
}

func NewRegistry(joiner Joiner, sink func(Event), opts Options) *Registry {
	if sink == nil {
		sink = func(Event) {}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.FallbackDelay <= 0 {
		opts.FallbackDelay = DefaultFallbackDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		joiner:        joiner,
		clock:         opts.Clock,
		sink:          sink,
		logger:        logger.With("component", "session"),
		readyTimeout:  opts.ReadyTimeout,
		fallbackDelay: opts.FallbackDelay,
		projects:      make(map[string]*project),
	}
}

// EnsureReady runs fn once projectID is ready. If the project is already
// ready fn runs before EnsureReady returns. Otherwise fn is queued with its
// own timeout (timeout <= 0 uses the registry default) and a join is issued
// if none is in flight. An error is returned only when the join could not be
// sent, in which case fn is dropped. A nil fn is rejected with
// ErrNilContinuation and no join is issued.
func (r *Registry) EnsureReady(projectID string, fn func(), timeout time.Duration) error {
	if fn == nil {
		return ErrNilContinuation
	}
	if timeout <= 0 {
		timeout = r.readyTimeout
	}

	r.mu.Lock()
	p := r.projectLocked(projectID)
	switch p.state {
	case StateReady:
		p.lastActivity = r.clock.Now()
		r.mu.Unlock()
		fn()
		return nil
	case StateConnecting:
		r.enqueueLocked(p, fn, timeout)
		r.mu.Unlock()
		return nil
	}

	gen := r.beginJoinLocked(p)
	c := r.enqueueLocked(p, fn, timeout)
	r.mu.Unlock()

	if err := r.joiner.SendJoin(projectID); err != nil {
		r.abortJoin(projectID, gen, c)
		return fmt.Errorf("join %s: %w", projectID, err)
	}
	return nil
}

// Join issues a join for projectID unless one is in flight or the project is
// already ready.
func (r *Registry) Join(projectID string) error {
	r.mu.Lock()
	p := r.projectLocked(projectID)
	if p.state != StateDisconnected {
		r.mu.Unlock()
		return nil
	}
	gen := r.beginJoinLocked(p)
	r.mu.Unlock()

	if err := r.joiner.SendJoin(projectID); err != nil {
		r.abortJoin(projectID, gen, nil)
		return fmt.Errorf("join %s: %w", projectID, err)
	}
	return nil
}

// Rejoin re-issues the join regardless of the current state. Queued
// continuations are kept and fire on the next MarkReady.
func (r *Registry) Rejoin(projectID string) error {
	r.mu.Lock()
	p := r.projectLocked(projectID)
	gen := r.beginJoinLocked(p)
	r.mu.Unlock()

	if err := r.joiner.SendJoin(projectID); err != nil {
		r.abortJoin(projectID, gen, nil)
		return fmt.Errorf("rejoin %s: %w", projectID, err)
	}
	return nil
}

// MarkReady marks projectID ready and runs its queued continuations in the
// order they were enqueued. Calling it on a ready project only refreshes
// lastActivity.
func (r *Registry) MarkReady(projectID string) {
	r.mu.Lock()
	p := r.projectLocked(projectID)
	wasReady := p.state == StateReady
	p.state = StateReady
	p.lastActivity = r.clock.Now()
	p.fallback.Stop()
	p.fallback = nil
	drained := p.pending
	p.pending = nil
	for _, c := range drained {
		c.timer.Stop()
	}
	r.mu.Unlock()

	if !wasReady {
		r.logger.Info("project ready", "project", projectID, "continuations", len(drained))
		r.sink(Ready{ProjectID: projectID})
	}
	for _, c := range drained {
		c.fn()
	}
}

// MarkDisconnected drops projectID back to disconnected. Queued continuations
// are abandoned: their timers are stopped and they never run.
func (r *Registry) MarkDisconnected(projectID string) {
	r.mu.Lock()
	p := r.projectLocked(projectID)
	was := r.resetLocked(p)
	r.mu.Unlock()

	if was != StateDisconnected {
		r.logger.Info("project disconnected", "project", projectID, "was", was)
		r.sink(Disconnected{ProjectID: projectID})
	}
}

// MarkAllDisconnected resets every known project, e.g. after the connection
// dropped.
func (r *Registry) MarkAllDisconnected() {
	r.mu.Lock()
	var changed []string
	for id, p := range r.projects {
		if r.resetLocked(p) != StateDisconnected {
			changed = append(changed, id)
		}
	}
	r.mu.Unlock()

	sort.Strings(changed)
	for _, id := range changed {
		r.sink(Disconnected{ProjectID: id})
	}
}

func (r *Registry) IsReady(projectID string) bool {
	return r.State(projectID) == StateReady
}

func (r *Registry) State(projectID string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.projects[projectID]; ok {
		return p.state
	}
	return StateDisconnected
}

// Touch records activity on projectID.
func (r *Registry) Touch(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projectLocked(projectID).lastActivity = r.clock.Now()
}

// Snapshot lists every known project ordered by id.
func (r *Registry) Snapshot() []ProjectStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProjectStatus, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, ProjectStatus{
			ID:           p.id,
			State:        p.state,
			Pending:      len(p.pending),
			LastActivity: p.lastActivity,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) projectLocked(projectID string) *project {
	p, ok := r.projects[projectID]
	if !ok {
		p = &project{id: projectID, state: StateDisconnected}
		r.projects[projectID] = p
	}
	return p
}

// beginJoinLocked moves p to connecting and arms the fallback readiness
// timer for this join.
func (r *Registry) beginJoinLocked(p *project) uint64 {
	p.state = StateConnecting
	p.joinGen++
	gen := p.joinGen
	id := p.id
	p.fallback.Stop()
	p.fallback = r.clock.AfterFunc(r.fallbackDelay, func() {
		r.fallbackReady(id, gen)
	})
	return gen
}

func (r *Registry) fallbackReady(projectID string, gen uint64) {
	r.mu.Lock()
	p := r.projects[projectID]
	if p == nil || p.state != StateConnecting || p.joinGen != gen {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.logger.Warn("no readiness confirmation from server, assuming ready", "project", projectID)
	r.MarkReady(projectID)
}

func (r *Registry) enqueueLocked(p *project, fn func(), timeout time.Duration) *continuation {
	r.nextID++
	c := &continuation{
		id:         r.nextID,
		fn:         fn,
		enqueuedAt: r.clock.Now(),
	}
	id := p.id
	c.timer = r.clock.AfterFunc(timeout, func() {
		r.expire(id, c)
	})
	p.pending = append(p.pending, c)
	return c
}

func (r *Registry) expire(projectID string, c *continuation) {
	r.mu.Lock()
	p := r.projects[projectID]
	if p == nil || !removeContinuation(p, c) {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	waited := r.clock.Now().Sub(c.enqueuedAt)
	r.logger.Warn("project readiness timed out", "project", projectID, "waited", waited)
	r.sink(Timeout{
		ProjectID: projectID,
		Err:       fmt.Errorf("%w: %s after %s", ErrProjectTimeout, projectID, waited),
	})
}

// abortJoin undoes a join whose request never left the client.
func (r *Registry) abortJoin(projectID string, gen uint64, c *continuation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.projects[projectID]
	if p == nil {
		return
	}
	if c != nil && removeContinuation(p, c) {
		c.timer.Stop()
	}
	if p.joinGen == gen && p.state == StateConnecting {
		p.fallback.Stop()
		p.fallback = nil
		if len(p.pending) == 0 {
			p.state = StateDisconnected
		}
	}
}

func (r *Registry) resetLocked(p *project) State {
	was := p.state
	p.state = StateDisconnected
	p.joinGen++
	p.fallback.Stop()
	p.fallback = nil
	for _, c := range p.pending {
		c.timer.Stop()
	}
	p.pending = nil
	return was
}

func removeContinuation(p *project, c *continuation) bool {
	for i, pending := range p.pending {
		if pending == c {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			return true
		}
	}
	return false
}
