// Package errclass maps backend error reports to the client's recovery
// action. Classification is a pure function of its inputs.
package errclass

import (
	"strings"
	"time"
)

type Action int

const (
	// ActionSurface routes the error to the user-visible error channel.
	ActionSurface Action = iota
	// ActionRetry silently rejoins the active project after Decision.Delay.
	ActionRetry
	// ActionIgnore drops a known benign race.
	ActionIgnore
)

func (a Action) String() string {
	switch a {
	case ActionSurface:
		return "surface"
	case ActionRetry:
		return "retry"
	case ActionIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// Error codes the backend reports.
const (
	CodeNotConnectedToProject = "NOT_CONNECTED_TO_PROJECT"
	CodeTerminalNotFound      = "TERMINAL_NOT_FOUND"
	CodeSessionNotAttached    = "SESSION_NOT_ATTACHED"
	CodeAlreadyJoined         = "ALREADY_JOINED"
)

// RejoinDelay is how long a silent retry waits before rejoining.
const RejoinDelay = 500 * time.Millisecond

type Report struct {
	Code    string
	Message string
	Details map[string]any
}

type Decision struct {
	Action Action
	Delay  time.Duration
	Reason string
}

// Classify decides what to do with r. activeProject is the project the
// client currently considers joined, or "".
func Classify(r Report, activeProject string) Decision {
	msg := strings.ToLower(r.Message)

	if r.Code == CodeNotConnectedToProject || strings.Contains(msg, "not connected to project") {
		if activeProject != "" {
			return Decision{Action: ActionRetry, Delay: RejoinDelay, Reason: "project session lost, rejoining"}
		}
		return Decision{Action: ActionSurface, Reason: "no active project"}
	}

	if isTerminalRace(r, msg) {
		return Decision{Action: ActionIgnore, Reason: "terminal not attached yet"}
	}

	if r.Code == CodeAlreadyJoined || strings.Contains(msg, "already joined") {
		return Decision{Action: ActionIgnore, Reason: "duplicate join"}
	}

	return Decision{Action: ActionSurface}
}

// isTerminalRace matches resize or input requests that reach the server
// before the terminal session is attached.
func isTerminalRace(r Report, msg string) bool {
	notAttached := r.Code == CodeTerminalNotFound ||
		r.Code == CodeSessionNotAttached ||
		strings.Contains(msg, "terminal not found") ||
		strings.Contains(msg, "not attached")
	if !notAttached {
		return false
	}
	op, _ := r.Details["operation"].(string)
	switch op {
	case "resize", "input":
		return true
	}
	return strings.Contains(msg, "resize")
}
