// Package cli implements the orbitlink command line: a watcher, a one-shot
// command sender, a notification tester and the development server.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ricochet1k/orbitlink/internal/client"
	"github.com/ricochet1k/orbitlink/internal/config"
	"github.com/ricochet1k/orbitlink/internal/logging"
	"github.com/ricochet1k/orbitlink/internal/notify"
	"github.com/ricochet1k/orbitlink/internal/storage"
	"github.com/ricochet1k/orbitlink/internal/transport"
)

// app holds what every subcommand shares once flags are parsed.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	serverURL  string
	stateDir   string
	noDesktop  bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCommand builds the command tree. Output goes to out, logs and
// prompts to errOut.
func NewRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "orbitlink",
		Short: "Realtime project client",
		Long: `orbitlink keeps a realtime connection to a project server, joins
projects, retries dropped connections and tells you when something needs
attention.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Flags())
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	bindGlobalFlags(root.PersistentFlags(), a)

	root.AddCommand(
		newWatchCommand(a),
		newSendCommand(a),
		newNotifyCommand(a),
		newServeCommand(a),
	)
	return root
}

// Execute runs the command line against the process's stdio.
func Execute(ctx context.Context) error {
	return NewRootCommand(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
}

func bindGlobalFlags(fs *pflag.FlagSet, a *app) {
	fs.StringVarP(&a.configPath, "config", "c", "", "config file (default $"+config.EnvConfig+")")
	fs.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	fs.StringVar(&a.serverURL, "url", "", "realtime websocket URL")
	fs.StringVar(&a.stateDir, "state-dir", "", "directory holding preferences.json")
	fs.BoolVar(&a.noDesktop, "no-desktop", false, "disable desktop notifications")
}

// setup loads configuration, applies flag overrides and builds the logger.
func (a *app) setup(fs *pflag.FlagSet) error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFile(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if fs.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Logging.Format = a.logFormat
	}
	if fs.Changed("url") {
		cfg.Server.URL = a.serverURL
	}
	if fs.Changed("state-dir") {
		cfg.Paths.State = a.stateDir
	}
	if a.noDesktop {
		cfg.Notifications.Desktop = false
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, a.errOut)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) openPrefs() (*storage.JSONFilePreferences, error) {
	dir := a.cfg.Paths.State
	if dir == "" {
		dir = storage.DefaultBaseDir()
	}
	return storage.NewJSONFilePreferences(dir)
}

// notifier builds the desktop notifier with any permission decision already
// stored in prefs, so a granted or denied answer is not asked for again.
func (a *app) notifier(prefs storage.PreferenceStore) notify.Notifier {
	if !a.cfg.Notifications.Desktop {
		return nil
	}
	d := notify.NewDesktop(notify.LinePrompter{In: a.in, Out: a.errOut})
	if prefs != nil {
		if v, ok := prefs.Get(storage.KeyNotificationPermission); ok {
			if p, ok := notify.ParsePermission(v); ok {
				d.SetPermission(p)
			}
		}
	}
	return d
}

func (a *app) newClient(prefs storage.PreferenceStore) (*client.Client, error) {
	tr := transport.NewWebSocket(transport.WebSocketOptions{
		URL:          a.cfg.Server.URL,
		DialTimeout:  a.cfg.Server.DialTimeout,
		PingInterval: a.cfg.Server.PingInterval,
		PongWait:     a.cfg.Server.PongWait,
		Logger:       a.logger,
	})
	opts := client.OptionsFromConfig(a.cfg)
	opts.Transport = tr
	opts.Notifier = a.notifier(prefs)
	opts.Prefs = prefs
	opts.Logger = a.logger
	return client.New(opts)
}
