// Package portfolio marks the ledger to market. It only reads.
package portfolio

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/paper-ledger/internal/metrics"
	"github.com/atmx/paper-ledger/internal/model"
	"github.com/atmx/paper-ledger/internal/money"
	"github.com/atmx/paper-ledger/internal/oracle"
	"github.com/atmx/paper-ledger/internal/store"
)

// DefaultFanOut is how many prices are fetched at once.
const DefaultFanOut = 8

// Valuer values positions at oracle prices. A position whose price cannot
// be fetched is valued at its average price and marked stale.
type Valuer struct {
	ledger store.Ledger
	oracle oracle.Oracle
	fanOut int
}

// NewValuer creates a Valuer. fanOut < 1 uses DefaultFanOut.
func NewValuer(l store.Ledger, o oracle.Oracle, fanOut int) *Valuer {
	if fanOut < 1 {
		fanOut = DefaultFanOut
	}
	return &Valuer{ledger: l, oracle: o, fanOut: fanOut}
}

// Positions returns every open position marked to its current price, in
// ticker order.
func (v *Valuer) Positions(ctx context.Context) ([]model.PositionValuation, error) {
	positions, err := v.ledger.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	return v.mark(ctx, positions)
}

// mark prices positions concurrently, at most fanOut at a time.
func (v *Valuer) mark(ctx context.Context, positions []model.Position) ([]model.PositionValuation, error) {
	metrics.OpenPositions.Set(float64(len(positions)))

	out := make([]model.PositionValuation, len(positions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.fanOut)
	for i, p := range positions {
		i, p := i, p
		g.Go(func() error {
			out[i] = v.value(gctx, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (v *Valuer) value(ctx context.Context, p model.Position) model.PositionValuation {
	current, stale := p.AveragePrice, true
	if price, err := v.oracle.Price(ctx, p.Ticker); err != nil {
		slog.WarnContext(ctx, "price unavailable, using average price",
			"ticker", p.Ticker,
			"err", err,
		)
	} else if price.IsPositive() {
		current, stale = price, false
	}

	qty := decimal.NewFromInt(p.Quantity)
	diff := current.Sub(p.AveragePrice)
	return model.PositionValuation{
		Ticker:       p.Ticker,
		Quantity:     p.Quantity,
		AveragePrice: p.AveragePrice,
		CurrentPrice: current,
		MarketValue:  current.Mul(qty),
		PnL:          diff.Mul(qty),
		PnLPercent:   money.Ratio(diff, p.AveragePrice),
		PriceStale:   stale,
	}
}

// PortfolioValue is the sum of quantity × current price over all positions.
func (v *Valuer) PortfolioValue(ctx context.Context) (decimal.Decimal, error) {
	vals, err := v.Positions(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return marketValue(vals), nil
}

// TotalEquity is cash plus portfolio value.
func (v *Valuer) TotalEquity(ctx context.Context) (decimal.Decimal, error) {
	s, err := v.Summary(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return s.TotalEquity, nil
}

// Summary values the whole account. Cash and positions come from one
// ledger snapshot; prices are fetched after it is taken.
func (v *Valuer) Summary(ctx context.Context) (model.Summary, error) {
	acct, positions, err := store.Snapshot(ctx, v.ledger)
	if err != nil {
		return model.Summary{}, err
	}
	vals, err := v.mark(ctx, positions)
	if err != nil {
		return model.Summary{}, err
	}
	return summarize(acct, vals), nil
}

func summarize(acct model.Account, vals []model.PositionValuation) model.Summary {
	pv := marketValue(vals)
	equity := acct.Balance.Add(pv)
	pnl := equity.Sub(acct.InitialBalance)
	return model.Summary{
		Balance:        acct.Balance,
		PortfolioValue: pv,
		TotalEquity:    equity,
		InitialBalance: acct.InitialBalance,
		PnL:            pnl,
		PnLPercent:     money.Ratio(pnl, acct.InitialBalance),
		BuyingPower:    acct.Balance,
	}
}

func marketValue(vals []model.PositionValuation) decimal.Decimal {
	total := decimal.Zero
	for _, pv := range vals {
		total = total.Add(pv.MarketValue)
	}
	return total
}
