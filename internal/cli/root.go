// Package cli implements the papertrader command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/atmx/paper-ledger/internal/app"
	"github.com/atmx/paper-ledger/internal/config"
	"github.com/atmx/paper-ledger/internal/logging"
	"github.com/atmx/paper-ledger/internal/model"
	"github.com/atmx/paper-ledger/internal/report"
	"github.com/atmx/paper-ledger/internal/tracing"
)

// Version is set at build time with -ldflags "-X ...cli.Version=v1.2.3".
var Version = "dev"

// skipConfig marks commands that run without loading the config.
const skipConfig = "skip-config"

type rootOptions struct {
	configPath string
	style      string
	width      int

	cfg      *config.Config
	shutdown func(context.Context) error
}

// NewRootCommand builds the papertrader command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "papertrader",
		Short: "A paper-trading ledger for stocks",
		Long: `Papertrader simulates market orders against a virtual cash balance.

It keeps a local ledger of the cash balance, open positions and every fill,
values the portfolio at current quotes and can serve the ledger over HTTP.

Examples:
  papertrader buy AAPL 10
  papertrader sell AAPL 5
  papertrader positions
  papertrader serve`,
		SilenceUsage:      true,
		PersistentPreRunE: opts.setup,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "config file")
	root.PersistentFlags().StringVar(&opts.style, "style", "auto", "output style: auto, dark, light, notty or raw")
	root.PersistentFlags().IntVar(&opts.width, "width", 100, "output word wrap width")

	root.AddCommand(
		newTradeCommand(opts, model.SideBuy),
		newTradeCommand(opts, model.SideSell),
		newQuoteCommand(opts),
		newPositionsCommand(opts),
		newHistoryCommand(opts),
		newSummaryCommand(opts),
		newResetCommand(opts),
		newServeCommand(opts),
		newConfigCommand(),
		newVersionCommand(),
	)
	opts.flushAfter(root)
	return root
}

// Execute runs the command line with os.Args.
func Execute() error {
	return NewRootCommand().ExecuteContext(context.Background())
}

func (o *rootOptions) setup(cmd *cobra.Command, _ []string) error {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipConfig] == "true" {
			return nil
		}
	}

	cfg, err := o.load(cmd)
	if err != nil {
		return err
	}
	o.cfg = cfg

	if err := logging.Setup(cfg.Log); err != nil {
		return err
	}
	tc := cfg.Tracing
	tc.Version = Version
	shutdown, err := tracing.Setup(cmd.Context(), tc)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	o.shutdown = shutdown
	return nil
}

// flushAfter makes every command under cmd stop the tracer provider when it
// returns, including when it fails; cobra skips post-run hooks after an
// error.
func (o *rootOptions) flushAfter(cmd *cobra.Command) {
	for _, c := range cmd.Commands() {
		o.flushAfter(c)
	}
	run := cmd.RunE
	if run == nil {
		return
	}
	cmd.RunE = func(c *cobra.Command, args []string) (err error) {
		defer func() {
			if o.shutdown != nil {
				err = errors.Join(err, o.shutdown(context.WithoutCancel(c.Context())))
				o.shutdown = nil
			}
		}()
		return run(c, args)
	}
}

// load reads the config file. The default file may be absent; an explicit
// --config must exist.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	path := o.configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}

// withApp opens the ledger for the duration of fn.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := app.Open(ctx, o.cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func (o *rootOptions) printer(cmd *cobra.Command) *report.Printer {
	return report.NewPrinter(cmd.OutOrStdout(), o.style, o.width)
}
