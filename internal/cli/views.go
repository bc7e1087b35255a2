package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/atmx/paper-ledger/internal/app"
	"github.com/atmx/paper-ledger/internal/report"
)

func newPositionsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "positions",
		Aliases: []string{"pos"},
		Short:   "Show open positions marked to market",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				vals, err := a.Valuer.Positions(ctx)
				if err != nil {
					return err
				}
				return opts.printer(cmd).Print(report.Positions(vals))
			})
		},
	}
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent trades, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return errors.New("--limit must not be negative")
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				trades, err := a.Store.ListTrades(ctx, limit)
				if err != nil {
					return err
				}
				return opts.printer(cmd).Print(report.History(trades))
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of trades to show, 0 for all")
	return cmd
}

func newSummaryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show cash, portfolio value, equity and P/L",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				s, err := a.Valuer.Summary(ctx)
				if err != nil {
					return err
				}
				return opts.printer(cmd).Print(report.Summary(s))
			})
		},
	}
}
