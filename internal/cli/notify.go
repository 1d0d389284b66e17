package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ricochet1k/orbitlink/internal/notify"
	"github.com/ricochet1k/orbitlink/internal/storage"
)

func newNotifyCommand(a *app) *cobra.Command {
	var enabled string
	cmd := &cobra.Command{
		Use:   "notify <title> <body>",
		Short: "Send a notification through the escalation chain",
		Long: `Send a notification the way the client does for urgent events: a
desktop notification when allowed, asking for permission when needed, and
an in-app message otherwise.

--enabled=true|false stores the notifications preference and exits.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("enabled") {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs, err := a.openPrefs()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("enabled") {
				v, err := strconv.ParseBool(enabled)
				if err != nil {
					return fmt.Errorf("--enabled: %w", err)
				}
				return storage.SetBoolPreference(prefs, storage.KeyNotificationsEnabled, v)
			}
			a.runNotify(cmd.Context(), prefs, args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&enabled, "enabled", "", "store whether notifications are enabled")
	return cmd
}

func (a *app) runNotify(ctx context.Context, prefs storage.PreferenceStore, title, body string) notify.Outcome {
	esc := notify.NewEscalation(a.notifier(prefs), func(ev notify.Event) {
		fmt.Fprintln(a.out, formatEvent(ev))
	}, notify.Options{Prefs: prefs, Logger: a.logger})

	outcome := esc.Notify(ctx, title, body)
	esc.Wait()
	return outcome
}
