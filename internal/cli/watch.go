package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ricochet1k/orbitlink/internal/client"
	"github.com/ricochet1k/orbitlink/internal/connection"
	"github.com/ricochet1k/orbitlink/internal/session"
	"github.com/ricochet1k/orbitlink/internal/storage"
)

func newWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [project]",
		Short: "Connect, join a project and print events",
		Long: `Connect to the server and print every event until interrupted.

With a project argument the project is joined and remembered. Without one
the last joined project is rejoined.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := ""
			if len(args) == 1 {
				project = args[0]
			}
			return a.runWatch(cmd.Context(), project)
		},
	}
}

func (a *app) runWatch(ctx context.Context, project string) error {
	prefs, err := a.openPrefs()
	if err != nil {
		return err
	}
	c, err := a.newClient(prefs)
	if err != nil {
		return err
	}
	defer c.Close()

	events, unsubscribe := c.Subscribe(256)
	defer unsubscribe()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		err := prefs.Watch(watchCtx, func() {
			if last, ok := prefs.Get(storage.KeyLastProject); ok && last != c.ActiveProject() {
				a.logger.Info("remembered project changed by another process", "project", last)
			}
		}, a.logger)
		if err != nil {
			a.logger.Warn("preferences watch stopped", "error", err)
		}
	}()

	if err := c.Connect(ctx); err != nil {
		return err
	}
	if project != "" {
		// Not connected yet; the active project is joined once the
		// connection settles.
		if err := c.JoinProject(project); err != nil && !errors.Is(err, client.ErrNotConnected) {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			fmt.Fprintln(a.out, formatEvent(ev))
			switch ev.(type) {
			case session.Ready, session.Disconnected, session.Timeout:
				fmt.Fprintln(a.out, formatStatus(c.Projects()))
			}
			if err := terminalError(ev); err != nil {
				return err
			}
		}
	}
}

// terminalError reports events after which the client will not reconnect.
func terminalError(ev client.Event) error {
	switch e := ev.(type) {
	case connection.ReconnectFailed:
		return fmt.Errorf("gave up after %d reconnect attempts", e.Attempts)
	case connection.ConnectError:
		if e.Terminal {
			return fmt.Errorf("connection failed: %w", e.Err)
		}
	}
	return nil
}
