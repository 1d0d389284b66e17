package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/ricochet1k/orbitlink/internal/client"
	"github.com/ricochet1k/orbitlink/internal/connection"
	"github.com/ricochet1k/orbitlink/internal/heartbeat"
	"github.com/ricochet1k/orbitlink/internal/notify"
	"github.com/ricochet1k/orbitlink/internal/session"
)

// formatEvent renders ev as a single line for terminal output.
func formatEvent(ev client.Event) string {
	switch e := ev.(type) {
	case connection.Disconnected:
		return fmt.Sprintf("disconnected reason=%q", e.Reason)
	case connection.Reconnected:
		return fmt.Sprintf("reconnected attempts=%d", e.Attempt)
	case connection.ReconnectAttempt:
		return fmt.Sprintf("%s attempt=%d", e.Name(), e.Attempt)
	case connection.ReconnectFailed:
		return fmt.Sprintf("%s attempts=%d", e.Name(), e.Attempts)
	case connection.ConnectError:
		return fmt.Sprintf("connection_error attempt=%d terminal=%t: %v", e.Attempt, e.Terminal, e.Err)
	case connection.ServerError:
		return fmt.Sprintf("server_error code=%s: %s", e.Code, e.Message)
	case connection.Message:
		line := fmt.Sprintf("message type=%s", e.Envelope.Type)
		if e.Envelope.ProjectID != "" {
			line += " project=" + e.Envelope.ProjectID
		}
		if len(e.Envelope.Payload) > 0 {
			line += " " + string(e.Envelope.Payload)
		}
		return line
	case session.Ready:
		return "project_ready project=" + e.ProjectID
	case session.Disconnected:
		return "project_disconnected project=" + e.ProjectID
	case session.Timeout:
		return fmt.Sprintf("project_timeout project=%s: %v", e.ProjectID, e.Err)
	case heartbeat.Stalled:
		return fmt.Sprintf("liveness_stalled silence=%s", e.Silence.Round(time.Second))
	case notify.InAppMessage:
		return fmt.Sprintf("[%s] %s", e.Level, e.Text)
	case notify.Notification:
		return fmt.Sprintf("notification %s: %s", e.Outcome.Kind, e.Title)
	default:
		return ev.Name()
	}
}

// formatStatus renders the per-project readiness table on one line.
func formatStatus(projects []session.ProjectStatus) string {
	if len(projects) == 0 {
		return "status none"
	}
	var b strings.Builder
	b.WriteString("status")
	for _, p := range projects {
		fmt.Fprintf(&b, " %s=%s(pending=%d)", p.ID, p.State, p.Pending)
	}
	return b.String()
}
