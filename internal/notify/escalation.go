package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ricochet1k/orbitlink/internal/storage"
)

type Options struct {
	// Prefs holds the notifications_enabled flag and the cached permission.
	// Nil means an in-memory store.
	Prefs  storage.PreferenceStore
	Logger *slog.Logger
}

// Escalation runs the fallback chain for a single notification request:
// system notification first, then in-app messages describing why it could
// not be shown. It never panics or returns an error to its caller.
type Escalation struct {
	notifier Notifier
	prefs    storage.PreferenceStore
	sink     func(Event)
	logger   *slog.Logger

	mu         sync.Mutex
	permission Permission
	checked    bool
	prompting  bool
	wg         sync.WaitGroup
}

func NewEscalation(notifier Notifier, sink func(Event), opts Options) *Escalation {
	if sink == nil {
		sink = func(Event) {}
	}
	if opts.Prefs == nil {
		opts.Prefs = storage.NewMemoryPreferences()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalation{
		notifier: notifier,
		prefs:    opts.Prefs,
		sink:     sink,
		logger:   logger.With("component", "notify"),
	}
}

// Notify delivers title and body. A permission prompt, if needed, runs in
// the background; use Wait to block until it settles.
func (e *Escalation) Notify(ctx context.Context, title, body string) Outcome {
	text := formatText(title, body)

	if !storage.BoolPreference(e.prefs, storage.KeyNotificationsEnabled, true) {
		out := Outcome{Kind: OutcomeDisabled, Message: "system notifications are turned off"}
		e.report(title, body, out)
		e.sink(InAppMessage{Level: LevelInfo, Text: text, Duration: ShortDisplay})
		return out
	}

	out := e.attempt(title, body)
	e.report(title, body, out)

	switch out.Kind {
	case OutcomeSuccess:
		e.sink(InAppMessage{Level: LevelInfo, Text: text, Duration: ShortDisplay})
	case OutcomeUnsupported:
		e.sink(InAppMessage{
			Level:    LevelInfo,
			Text:     "Desktop notifications are not available here. " + text,
			Duration: Persistent,
		})
	case OutcomePermissionDenied:
		e.sink(InAppMessage{
			Level:    LevelWarning,
			Text:     "Desktop notifications are blocked, so you may miss events while away. " + text,
			Duration: Persistent,
		})
	case OutcomePermissionRequired:
		e.startPrompt(ctx, title, body)
	case OutcomeCreateFailed:
		e.sink(InAppMessage{
			Level:    LevelError,
			Text:     fmt.Sprintf("Failed to show notification: %s. %s", out.Message, text),
			Duration: Persistent,
		})
	}
	return out
}

// Permission reports the cached permission, checking it on first use.
func (e *Escalation) Permission() Permission {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.permissionLocked()
}

// Wait blocks until background permission prompts have finished.
func (e *Escalation) Wait() {
	e.wg.Wait()
}

func (e *Escalation) permissionLocked() Permission {
	if e.checked {
		return e.permission
	}
	e.checked = true
	if v, ok := e.prefs.Get(storage.KeyNotificationPermission); ok {
		if p, ok := ParsePermission(v); ok && p != PermissionDefault {
			e.permission = p
			return p
		}
	}
	e.permission = e.safePermission()
	return e.permission
}

func (e *Escalation) setPermission(p Permission) {
	e.mu.Lock()
	e.permission = p
	e.checked = true
	e.mu.Unlock()
	if p == PermissionDefault {
		return
	}
	if err := e.prefs.Set(storage.KeyNotificationPermission, string(p)); err != nil {
		e.logger.Warn("failed to persist notification permission", "permission", p, "error", err)
	}
}

// attempt tries the system notification once.
func (e *Escalation) attempt(title, body string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("notifier panicked", "panic", r)
			out = Outcome{Kind: OutcomeCreateFailed, Message: fmt.Sprintf("notifier panicked: %v", r)}
		}
	}()

	if e.notifier == nil || !e.notifier.Supported() {
		return Outcome{Kind: OutcomeUnsupported, Message: ErrUnsupported.Error()}
	}
	switch e.Permission() {
	case PermissionDenied:
		return Outcome{Kind: OutcomePermissionDenied, Message: "notification permission denied"}
	case PermissionDefault:
		return Outcome{Kind: OutcomePermissionRequired, Message: "notification permission not yet granted"}
	}
	if err := e.notifier.Notify(title, body); err != nil {
		return Outcome{Kind: OutcomeCreateFailed, Message: err.Error()}
	}
	return Outcome{Kind: OutcomeSuccess, Message: "notification shown"}
}

func (e *Escalation) startPrompt(ctx context.Context, title, body string) {
	e.mu.Lock()
	if e.prompting {
		e.mu.Unlock()
		e.sink(InAppMessage{Level: LevelInfo, Text: formatText(title, body), Duration: ShortDisplay})
		return
	}
	e.prompting = true
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			e.prompting = false
			e.mu.Unlock()
		}()
		e.prompt(ctx, title, body)
	}()
}

func (e *Escalation) prompt(ctx context.Context, title, body string) {
	perm, err := e.requestPermission(ctx)
	if err != nil {
		e.logger.Warn("notification permission request failed", "error", err)
	}
	e.setPermission(perm)

	if perm != PermissionGranted {
		e.sink(InAppMessage{
			Level:    LevelWarning,
			Text:     "Desktop notifications were not allowed, so you may miss events while away. " + formatText(title, body),
			Duration: Persistent,
		})
		return
	}

	out := e.attempt(title, body)
	e.report(title, body, out)
	switch out.Kind {
	case OutcomeSuccess:
		e.sink(InAppMessage{
			Level:    LevelSuccess,
			Text:     "Desktop notifications enabled. " + formatText(title, body),
			Duration: ShortDisplay,
		})
	default:
		e.sink(InAppMessage{
			Level:    LevelError,
			Text:     fmt.Sprintf("Failed to show notification: %s. %s", out.Message, formatText(title, body)),
			Duration: Persistent,
		})
	}
}

func (e *Escalation) requestPermission(ctx context.Context) (perm Permission, err error) {
	defer func() {
		if r := recover(); r != nil {
			perm, err = PermissionDefault, fmt.Errorf("permission request panicked: %v", r)
		}
	}()
	perm, err = e.notifier.RequestPermission(ctx)
	if err != nil {
		return PermissionDefault, err
	}
	return perm, nil
}

func (e *Escalation) safePermission() (perm Permission) {
	defer func() {
		if r := recover(); r != nil {
			perm = PermissionDefault
		}
	}()
	if e.notifier == nil {
		return PermissionDefault
	}
	return e.notifier.Permission()
}

func (e *Escalation) report(title, body string, out Outcome) {
	e.logger.Debug("notification attempt", "title", title, "outcome", out.Kind, "message", out.Message)
	e.sink(Notification{Title: title, Body: body, Outcome: out})
}

func formatText(title, body string) string {
	switch {
	case title == "":
		return body
	case body == "":
		return title
	default:
		return title + ": " + body
	}
}
