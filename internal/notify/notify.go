// Package notify delivers urgent events through the most visible channel
// available: a desktop notification when permitted, and an in-app message
// always.
package notify

import (
	"context"
	"errors"
	"time"
)

var ErrUnsupported = errors.New("system notifications unsupported")

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

func ParsePermission(s string) (Permission, bool) {
	switch p := Permission(s); p {
	case PermissionDefault, PermissionGranted, PermissionDenied:
		return p, true
	default:
		return PermissionDefault, false
	}
}

// Notifier is a system-level notification facility.
type Notifier interface {
	Supported() bool
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	Notify(title, body string) error
}

type OutcomeKind string

const (
	OutcomeSuccess            OutcomeKind = "success"
	OutcomePermissionRequired OutcomeKind = "permission_required"
	OutcomePermissionDenied   OutcomeKind = "permission_denied"
	OutcomeUnsupported        OutcomeKind = "unsupported"
	OutcomeCreateFailed       OutcomeKind = "create_failed"
	OutcomeDisabled           OutcomeKind = "disabled"
)

// Outcome is the result of one system notification attempt.
type Outcome struct {
	Kind    OutcomeKind
	Message string
}

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

const (
	// Persistent keeps an in-app message until the user dismisses it.
	Persistent   time.Duration = 0
	ShortDisplay               = 5 * time.Second
)

// Event is emitted by the Escalation.
type Event interface {
	Name() string
	notifyEvent()
}

// Notification carries the outcome of a system notification attempt.
type Notification struct {
	Title   string
	Body    string
	Outcome Outcome
}

// InAppMessage asks the UI to show a message for Duration, or until
// dismissed when Duration is Persistent.
type InAppMessage struct {
	Level    Level
	Text     string
	Duration time.Duration
}

func (Notification) Name() string { return "notification" }
func (InAppMessage) Name() string { return "in_app_message" }

func (Notification) notifyEvent() {}
func (InAppMessage) notifyEvent() {}
