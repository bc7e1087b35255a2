package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atmx/paper-ledger/internal/app"
	"github.com/atmx/paper-ledger/internal/model"
	"github.com/atmx/paper-ledger/internal/money"
)

func newTradeCommand(opts *rootOptions, side model.Side) *cobra.Command {
	verb := strings.ToLower(string(side))
	short := "Buy shares at the current market price"
	if side == model.SideSell {
		short = "Sell held shares at the current market price"
	}
	return &cobra.Command{
		Use:     verb + " TICKER QUANTITY",
		Short:   short,
		Example: fmt.Sprintf("  papertrader %s AAPL 10", verb),
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("quantity must be a whole number of shares: %q", args[1])
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				tctx, cancel := a.TradeContext(ctx)
				defer cancel()
				res := a.Engine.Execute(tctx, side, args[0], qty)

				if !res.Success {
					return errors.New(res.Message)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, res.Message)
				if res.Warning != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), "warning:", res.Warning)
				}
				fmt.Fprintf(out, "Cash balance: %s\n", money.Format(res.NewBalance))
				return nil
			})
		},
	}
}

func newQuoteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quote TICKER...",
		Short: "Show the current price of one or more tickers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				var errs []error
				for _, raw := range args {
					t, p, err := a.Engine.Quote(ctx, raw)
					if err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", raw, err))
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", t, money.Format(p))
				}
				return errors.Join(errs...)
			})
		},
	}
}

func newResetCommand(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all positions and trades and restore the initial balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("reset discards the whole ledger; pass --yes to confirm")
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Reset(ctx); err != nil {
					return err
				}
				acct, err := a.Store.Account(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Ledger reset, cash balance %s\n", money.Format(acct.Balance))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the reset")
	return cmd
}
