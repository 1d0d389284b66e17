package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricochet1k/orbitlink/internal/client"
	"github.com/ricochet1k/orbitlink/internal/connection"
	"github.com/ricochet1k/orbitlink/internal/session"
	"github.com/ricochet1k/orbitlink/internal/storage"
	realtimeTypes "github.com/ricochet1k/orbitlink/pkg/realtime"
)

func newSendCommand(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send <project> <operation> [json-data]",
		Short: "Send one command to a project and print its output",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdPayload := realtimeTypes.CommandPayload{Operation: args[1]}
			if len(args) == 3 {
				if !json.Valid([]byte(args[2])) {
					return fmt.Errorf("data is not valid JSON: %s", args[2])
				}
				cmdPayload.Data = json.RawMessage(args[2])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return a.runSend(ctx, args[0], cmdPayload)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "give up after this long")
	return cmd
}

func (a *app) runSend(ctx context.Context, project string, cmdPayload realtimeTypes.CommandPayload) error {
	// One-shot sends never touch the remembered project.
	c, err := a.newClient(storage.NewMemoryPreferences())
	if err != nil {
		return err
	}
	defer c.Close()

	events, unsubscribe := c.Subscribe(256)
	defer unsubscribe()

	if err := c.Connect(ctx); err != nil {
		return err
	}

	commandID := ""
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("send %s to %s: %w", cmdPayload.Operation, project, ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return client.ErrClosed
			}
			a.logger.Debug("event", "event", formatEvent(ev))
			if err := terminalError(ev); err != nil {
				return err
			}
			switch e := ev.(type) {
			case connection.Connected, connection.Reconnected:
				if commandID != "" {
					continue
				}
				commandID, err = c.SendCommand(project, cmdPayload)
				if err != nil {
					return err
				}
			case connection.ServerError:
				return fmt.Errorf("server error %s: %s", e.Code, e.Message)
			case session.Timeout:
				return e.Err
			case connection.Message:
				if e.Envelope.Type != realtimeTypes.ServerMessageTypeOutput || !matchesCommand(e.Envelope.Payload, commandID) {
					continue
				}
				fmt.Fprintln(a.out, string(e.Envelope.Payload))
				return nil
			}
		}
	}
}

func matchesCommand(payload json.RawMessage, commandID string) bool {
	if commandID == "" {
		return false
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return false
	}
	return out.ID == commandID
}
