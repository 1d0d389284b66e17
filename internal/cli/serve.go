package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricochet1k/orbitlink/internal/devserver"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var (
		listen        string
		readyDelay    time.Duration
		withholdReady bool
		withholdPong  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development realtime server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.DevServer
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Listen = listen
			}
			if flags.Changed("ready-delay") {
				cfg.ReadyDelay = readyDelay
			}
			if flags.Changed("withhold-ready") {
				cfg.WithholdReady = withholdReady
			}
			if flags.Changed("withhold-pong") {
				cfg.WithholdPong = withholdPong
			}

			ln, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return err
			}
			srv := devserver.New(devserver.OptionsFromConfig(cfg, a.logger))
			return a.serve(cmd.Context(), ln, srv.Router(), func() {
				srv.Hub().KickAll("server shutting down")
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&listen, "listen", "", "address to listen on")
	flags.DurationVar(&readyDelay, "ready-delay", 0, "delay project-ready after a join")
	flags.BoolVar(&withholdReady, "withhold-ready", false, "never send project-ready")
	flags.BoolVar(&withholdPong, "withhold-pong", false, "never answer pings")
	return cmd
}

// serve runs handler on ln until ctx is done, then shuts down gracefully.
// onShutdown closes hijacked connections, which Shutdown does not track.
func (a *app) serve(ctx context.Context, ln net.Listener, handler http.Handler, onShutdown func()) error {
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if onShutdown != nil {
		httpSrv.RegisterOnShutdown(onShutdown)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("devserver listening", "addr", ln.Addr().String())
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.logger.Info("devserver shutting down")
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
