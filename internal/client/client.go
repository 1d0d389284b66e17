// Package client composes the connection tracker, project session registry,
// reconnect coordinator, heartbeat monitor, error classifier and notification
// escalation into the single object a UI talks to.
//
// Every component reports to the client, which routes events between them
// and republishes them to subscribers. Commands go the other way.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ricochet1k/orbitlink/internal/clock"
	"github.com/ricochet1k/orbitlink/internal/config"
	"github.com/ricochet1k/orbitlink/internal/connection"
	"github.com/ricochet1k/orbitlink/internal/errclass"
	"github.com/ricochet1k/orbitlink/internal/heartbeat"
	"github.com/ricochet1k/orbitlink/internal/notify"
	"github.com/ricochet1k/orbitlink/internal/reconnect"
	"github.com/ricochet1k/orbitlink/internal/retry"
	"github.com/ricochet1k/orbitlink/internal/session"
	"github.com/ricochet1k/orbitlink/internal/storage"
	"github.com/ricochet1k/orbitlink/internal/transport"
	realtimeTypes "github.com/ricochet1k/orbitlink/pkg/realtime"
)

var (
	ErrNotConnected   = connection.ErrNotConnected
	ErrProjectTimeout = session.ErrProjectTimeout
	ErrUnsupported    = notify.ErrUnsupported
	ErrClosed         = errors.New("client closed")
)

type Options struct {
	Transport transport.Transport
	Clock     clock.Clock
	Policy    retry.Policy

	ReadyTimeout       time.Duration
	FallbackDelay      time.Duration
	InitialSettle      time.Duration
	ReconnectSettle    time.Duration
	HeartbeatInterval  time.Duration
	HeartbeatThreshold time.Duration

	// Notifier shows system notifications. Nil means unsupported.
	Notifier notify.Notifier
	// Prefs persists the active project and notification preferences. Nil
	// means an in-memory store.
	Prefs storage.PreferenceStore

	// ClientID identifies this client in envelopes. Empty means a new UUID.
	ClientID string
	Logger   *slog.Logger
}

// OptionsFromConfig fills the timing and retry fields from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Policy:             cfg.RetryPolicy(),
		ReadyTimeout:       cfg.Session.ReadyTimeout,
		FallbackDelay:      cfg.Session.FallbackDelay,
		InitialSettle:      cfg.Reconnect.InitialSettle,
		ReconnectSettle:    cfg.Reconnect.ReconnectSettle,
		HeartbeatInterval:  cfg.Heartbeat.Interval,
		HeartbeatThreshold: cfg.Heartbeat.Threshold,
	}
}

type Client struct {
	id          string
	tracker     *connection.Tracker
	registry    *session.Registry
	coordinator *reconnect.Coordinator
	heartbeat   *heartbeat.Monitor
	escalation  *notify.Escalation
	prefs       storage.PreferenceStore
	events      *Broadcaster
	logger      *slog.Logger

	mu     sync.Mutex
	closed bool
}

func New(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, errors.New("client: transport is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Policy == (retry.Policy{}) {
		opts.Policy = retry.DefaultPolicy()
	}
	if opts.Prefs == nil {
		opts.Prefs = storage.NewMemoryPreferences()
	}
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		id:     opts.ClientID,
		prefs:  opts.Prefs,
		events: NewBroadcaster(),
		logger: logger.With("component", "client", "client_id", opts.ClientID),
	}
	c.tracker = connection.New(opts.Transport, c.onConnectionEvent, connection.Options{
		Policy: opts.Policy,
		Logger: logger,
	})
	c.registry = session.NewRegistry(joiner{c}, c.onSessionEvent, session.Options{
		Clock:         opts.Clock,
		ReadyTimeout:  opts.ReadyTimeout,
		FallbackDelay: opts.FallbackDelay,
		Logger:        logger,
	})
	c.coordinator = reconnect.New(c.tracker, c.registry, reconnect.Options{
		Clock:           opts.Clock,
		Policy:          opts.Policy,
		InitialSettle:   opts.InitialSettle,
		ReconnectSettle: opts.ReconnectSettle,
		Logger:          logger,
	})
	c.heartbeat = heartbeat.New(pinger{c}, c.onStall, heartbeat.Options{
		Clock:     opts.Clock,
		Interval:  opts.HeartbeatInterval,
		Threshold: opts.HeartbeatThreshold,
		Logger:    logger,
	})
	c.escalation = notify.NewEscalation(opts.Notifier, c.onNotifyEvent, notify.Options{
		Prefs:  opts.Prefs,
		Logger: logger,
	})

	if last, ok := opts.Prefs.Get(storage.KeyLastProject); ok && last != "" {
		c.logger.Info("restoring last project", "project", last)
		c.coordinator.SetActive(last)
	}
	return c, nil
}

func (c *Client) ID() string { return c.id }

// Connect opens the connection. It returns once the attempt has started;
// the outcome arrives as a connected or connection_error event.
func (c *Client) Connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.tracker.Connect(ctx)
	return nil
}

// Disconnect closes the connection and stops automatic reconnects.
func (c *Client) Disconnect() {
	c.tracker.Disconnect()
}

func (c *Client) State() connection.State { return c.tracker.State() }
func (c *Client) IsConnected() bool       { return c.tracker.IsConnected() }
func (c *Client) ActiveProject() string   { return c.coordinator.Active() }

// Projects lists every project the client has referenced.
func (c *Client) Projects() []session.ProjectStatus {
	return c.registry.Snapshot()
}

func (c *Client) IsReady(projectID string) bool {
	return c.registry.IsReady(projectID)
}

// EnsureReady runs fn once projectID is ready, joining it if needed.
// timeout <= 0 uses the configured ready timeout.
func (c *Client) EnsureReady(projectID string, fn func(), timeout time.Duration) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.registry.EnsureReady(projectID, fn, timeout)
}

// JoinProject makes projectID the active project and joins it. The active
// project is persisted and rejoined after reconnects even when the join
// itself could not be sent.
func (c *Client) JoinProject(projectID string) error {
	if c.isClosed() {
		return ErrClosed
	}
	if projectID == "" {
		return errors.New("project id is required")
	}
	c.coordinator.SetActive(projectID)
	if err := c.prefs.Set(storage.KeyLastProject, projectID); err != nil {
		c.logger.Warn("failed to persist active project", "project", projectID, "error", err)
	}
	return c.registry.Join(projectID)
}

// LeaveProject leaves projectID, or the active project when projectID is
// empty. Pending continuations for the project are abandoned.
func (c *Client) LeaveProject(projectID string) error {
	if projectID == "" {
		projectID = c.coordinator.Active()
	}
	if projectID == "" {
		return nil
	}

	c.coordinator.ClearActive(projectID)
	if last, ok := c.prefs.Get(storage.KeyLastProject); ok && last == projectID {
		if err := c.prefs.Delete(storage.KeyLastProject); err != nil {
			c.logger.Warn("failed to clear active project", "project", projectID, "error", err)
		}
	}
	c.registry.MarkDisconnected(projectID)

	err := c.tracker.Send(realtimeTypes.ClientEnvelope{
		Type:      realtimeTypes.ClientMessageTypeLeaveProject,
		ID:        uuid.NewString(),
		ProjectID: projectID,
		ClientID:  c.id,
	})
	if err != nil && !errors.Is(err, ErrNotConnected) {
		return fmt.Errorf("leave %s: %w", projectID, err)
	}
	return nil
}

// SendCommand sends a command to projectID once it is ready and returns the
// command id. If the project is ready the send happens now and its error is
// returned; otherwise the command is queued behind the join.
func (c *Client) SendCommand(projectID string, cmd realtimeTypes.CommandPayload) (string, error) {
	if c.isClosed() {
		return "", ErrClosed
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}
	env := realtimeTypes.ClientEnvelope{
		Type:      realtimeTypes.ClientMessageTypeCommand,
		ID:        uuid.NewString(),
		ProjectID: projectID,
		ClientID:  c.id,
		Payload:   payload,
	}

	if c.registry.IsReady(projectID) {
		return env.ID, c.send(env)
	}
	err = c.registry.EnsureReady(projectID, func() {
		if err := c.send(env); err != nil {
			c.logger.Warn("queued command not sent", "project", projectID, "id", env.ID, "error", err)
		}
	}, 0)
	return env.ID, err
}

// Notify escalates an urgent message to the user.
func (c *Client) Notify(ctx context.Context, title, body string) notify.Outcome {
	return c.escalation.Notify(ctx, title, body)
}

// Subscribe returns a channel of every event the client publishes and a
// function that unsubscribes.
func (c *Client) Subscribe(buffer int) (<-chan Event, func()) {
	return c.events.Subscribe(buffer)
}

// Close disconnects, stops every timer and closes subscriber channels.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.tracker.Disconnect()
	c.coordinator.Cancel()
	c.heartbeat.Disarm()
	c.registry.MarkAllDisconnected()
	c.events.Close()
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) send(env realtimeTypes.ClientEnvelope) error {
	if err := c.tracker.Send(env); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	if env.ProjectID != "" {
		c.registry.Touch(env.ProjectID)
	}
	return nil
}

func (c *Client) sendJoin(projectID string) error {
	return c.send(realtimeTypes.ClientEnvelope{
		Type:      realtimeTypes.ClientMessageTypeJoinProject,
		ID:        uuid.NewString(),
		ProjectID: projectID,
		ClientID:  c.id,
	})
}

func (c *Client) sendPing() error {
	return c.tracker.Send(realtimeTypes.ClientEnvelope{
		Type:     realtimeTypes.ClientMessageTypePing,
		ClientID: c.id,
	})
}

func (c *Client) publish(ev Event) {
	c.events.Broadcast(ev)
}

func (c *Client) onConnectionEvent(ev connection.Event) {
	switch ev := ev.(type) {
	case connection.ServerError:
		c.handleServerError(ev)
		return
	case connection.Message:
		c.route(ev.Envelope)
	}
	c.publish(ev)

	switch ev.(type) {
	case connection.Connected, connection.Reconnected:
		c.heartbeat.Arm()
	case connection.Disconnected:
		c.heartbeat.Disarm()
		c.registry.MarkAllDisconnected()
	}
	c.coordinator.HandleEvent(ev)
}

func (c *Client) route(msg realtimeTypes.ServerEnvelope) {
	switch msg.Type {
	case realtimeTypes.ServerMessageTypeProjectReady:
		c.registry.MarkReady(msg.ProjectID)
	case realtimeTypes.ServerMessageTypeProjectDisconnected:
		c.registry.MarkDisconnected(msg.ProjectID)
	case realtimeTypes.ServerMessageTypePong:
		c.heartbeat.Ack()
	default:
		if msg.ProjectID != "" {
			c.registry.Touch(msg.ProjectID)
		}
	}
}

func (c *Client) handleServerError(ev connection.ServerError) {
	d := errclass.Classify(errclass.Report{
		Code:    ev.Code,
		Message: ev.Message,
		Details: ev.Details,
	}, c.coordinator.Active())

	switch d.Action {
	case errclass.ActionRetry:
		c.logger.Info("server error, rejoining", "code", ev.Code, "reason", d.Reason, "delay", d.Delay)
		c.coordinator.ScheduleRejoin(d.Delay)
	case errclass.ActionIgnore:
		c.logger.Debug("server error ignored", "code", ev.Code, "reason", d.Reason)
	default:
		c.logger.Warn("server error", "code", ev.Code, "message", ev.Message)
		c.publish(ev)
	}
}

func (c *Client) onSessionEvent(ev session.Event) {
	c.publish(ev)
}

func (c *Client) onStall(ev heartbeat.Stalled) {
	c.publish(ev)
}

func (c *Client) onNotifyEvent(ev notify.Event) {
	c.publish(ev)
}

// joiner and pinger keep the registry and heartbeat hooks off Client's API.
type joiner struct{ c *Client }
type pinger struct{ c *Client }

func (j joiner) SendJoin(projectID string) error { return j.c.sendJoin(projectID) }
func (p pinger) SendPing() error                 { return p.c.sendPing() }
