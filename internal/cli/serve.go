package cli

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/atmx/paper-ledger/internal/app"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ledger over HTTP and WebSocket",
		Long: `Start the REST API and the WebSocket event stream.

Orders placed over HTTP run through a worker pool; fills, account updates
and resets are pushed to every connected WebSocket client.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				opts.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Open(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			slog.Info("paper ledger started", "addr", a.Config.Server.Addr, "version", Version)
			return a.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}
