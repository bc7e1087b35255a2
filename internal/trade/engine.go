// Package trade executes simulated market orders against the ledger.
//
// All monetary values use shopspring/decimal; never float64 for money.
package trade

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atmx/paper-ledger/internal/metrics"
	"github.com/atmx/paper-ledger/internal/model"
	"github.com/atmx/paper-ledger/internal/money"
	"github.com/atmx/paper-ledger/internal/oracle"
	"github.com/atmx/paper-ledger/internal/store"
	"github.com/atmx/paper-ledger/internal/ticker"
	"github.com/atmx/paper-ledger/internal/tracing"
)

// Engine executes buys and sells. It holds a mutex from the first ledger
// read of a trade to its last write, so concurrent trades never lose an
// update. Prices are fetched before the lock is taken.
//
// When the store supports transactions and atomic mode is on, balance and
// position are written in one transaction. Otherwise they are written one
// after the other and a failed position write is compensated by restoring
// the balance.
type Engine struct {
	store  store.Store
	oracle oracle.Oracle
	retry  RetryPolicy
	atomic bool
	tracer trace.Tracer
	mu     sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryPolicy sets the policy for price fetches and storage calls.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// WithAtomic toggles single-transaction writes. It has no effect on stores
// without transaction support.
func WithAtomic(on bool) Option {
	return func(e *Engine) { e.atomic = on }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates an engine trading against st at prices from o.
func NewEngine(st store.Store, o oracle.Oracle, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		oracle: o,
		retry:  DefaultRetryPolicy(),
		atomic: true,
		tracer: tracing.Tracer("github.com/atmx/paper-ledger/internal/trade"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Atomic reports whether trades are written in a single transaction.
func (e *Engine) Atomic() bool {
	_, ok := e.transactor()
	return ok
}

func (e *Engine) transactor() (store.Transactor, bool) {
	if !e.atomic {
		return nil, false
	}
	return store.TransactorOf(e.store)
}

// fill is the outcome of a trade that changed the ledger.
type fill struct {
	ticker     string
	side       model.Side
	quantity   int64
	price      decimal.Decimal
	amount     decimal.Decimal // cost of a buy, proceeds of a sell
	pnl        decimal.Decimal
	newBalance decimal.Decimal
	prevQty    int64
	newQty     int64
	tradeID    int64
	logErr     error
}

// ExecuteBuy buys quantity shares of ticker at the current oracle price.
func (e *Engine) ExecuteBuy(ctx context.Context, ticker string, quantity int64) model.Result {
	return e.execute(ctx, model.SideBuy, ticker, quantity, e.buy)
}

// ExecuteSell sells quantity held shares of ticker at the current price.
func (e *Engine) ExecuteSell(ctx context.Context, ticker string, quantity int64) model.Result {
	return e.execute(ctx, model.SideSell, ticker, quantity, e.sell)
}

// Execute dispatches on side.
func (e *Engine) Execute(ctx context.Context, side model.Side, ticker string, quantity int64) model.Result {
	switch side {
	case model.SideBuy:
		return e.ExecuteBuy(ctx, ticker, quantity)
	case model.SideSell:
		return e.ExecuteSell(ctx, ticker, quantity)
	}
	return model.Result{
		Message: fmt.Sprintf("Unknown side %q, expected BUY or SELL", side),
		Kind:    model.KindInvalidQuantity,
		Err:     fmt.Errorf("%w: unknown side %q", ErrInvalidQuantity, side),
	}
}

type runFunc func(ctx context.Context, f *fill) error

func (e *Engine) execute(ctx context.Context, side model.Side, raw string, quantity int64, run runFunc) model.Result {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "trade.Execute",
		trace.WithAttributes(
			attribute.String("side", string(side)),
			attribute.String("ticker", raw),
			attribute.Int64("quantity", quantity),
		))
	defer span.End()

	f := &fill{
		ticker:   strings.ToUpper(strings.TrimSpace(raw)),
		side:     side,
		quantity: quantity,
	}
	var res model.Result
	if err := run(ctx, f); err != nil {
		res = failure(f, err)
	} else {
		res = f.result()
	}
	e.observe(ctx, span, f, res, time.Since(start))
	return res
}

// validate runs the checks that need no I/O and normalizes the ticker.
func validate(f *fill) error {
	if f.quantity <= 0 {
		return fmt.Errorf("%w: %d shares, must be a positive whole number", ErrInvalidQuantity, f.quantity)
	}
	t, err := ticker.Normalize(f.ticker)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPriceUnavailable, err)
	}
	f.ticker = t
	return nil
}

func (e *Engine) buy(ctx context.Context, f *fill) error {
	if err := validate(f); err != nil {
		return err
	}
	price, err := e.price(ctx, f.ticker)
	if err != nil {
		return err
	}
	f.price = price
	cost := price.Mul(decimal.NewFromInt(f.quantity))
	f.amount = cost

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	// From here on the trade runs to completion even if the caller gives up.
	mctx := context.WithoutCancel(ctx)

	if tx, ok := e.transactor(); ok {
		err = e.retry.Do(mctx, "buy", func(ctx context.Context) error {
			return tx.WithTx(ctx, func(l store.Ledger) error {
				bal, err := l.Balance(ctx)
				if err != nil {
					return err
				}
				if cost.GreaterThan(bal) {
					return insufficientFunds(cost, bal)
				}
				pos, err := l.Position(ctx, f.ticker)
				if err != nil {
					return err
				}
				newQty, newAvg, err := averageIn(pos, f.quantity, cost)
				if err != nil {
					return err
				}
				if err := l.SetBalance(ctx, bal.Sub(cost)); err != nil {
					return err
				}
				if err := l.SetPosition(ctx, f.ticker, newQty, newAvg); err != nil {
					return err
				}
				f.newBalance, f.prevQty, f.newQty = bal.Sub(cost), pos.Quantity, newQty
				return nil
			})
		})
		if err != nil {
			return err
		}
	} else if err := e.buyCompensating(mctx, f, cost); err != nil {
		return err
	}

	e.appendTrade(mctx, f)
	return nil
}

func (e *Engine) buyCompensating(ctx context.Context, f *fill, cost decimal.Decimal) error {
	bal, err := retryValue(ctx, e.retry, "get balance", e.store.Balance)
	if err != nil {
		return err
	}
	if cost.GreaterThan(bal) {
		return insufficientFunds(cost, bal)
	}
	newBal := bal.Sub(cost)
	if err := e.retry.Do(ctx, "debit balance", func(ctx context.Context) error {
		return e.store.SetBalance(ctx, newBal)
	}); err != nil {
		return err
	}

	pos, err := retryValue(ctx, e.retry, "get position", func(ctx context.Context) (model.Position, error) {
		return e.store.Position(ctx, f.ticker)
	})
	if err != nil {
		return e.compensate(ctx, f.ticker, bal, err)
	}
	newQty, newAvg, err := averageIn(pos, f.quantity, cost)
	if err != nil {
		return e.compensate(ctx, f.ticker, bal, err)
	}
	if err := e.retry.Do(ctx, "write position", func(ctx context.Context) error {
		return e.store.SetPosition(ctx, f.ticker, newQty, newAvg)
	}); err != nil {
		return e.compensate(ctx, f.ticker, bal, err)
	}

	f.newBalance, f.prevQty, f.newQty = newBal, pos.Quantity, newQty
	return nil
}

func (e *Engine) sell(ctx context.Context, f *fill) error {
	if err := validate(f); err != nil {
		return err
	}
	// Check holdings before asking for a price; a sell of shares we do not
	// hold should not cost an oracle round trip.
	pos, err := retryValue(ctx, e.retry, "get position", func(ctx context.Context) (model.Position, error) {
		return e.store.Position(ctx, f.ticker)
	})
	if err != nil {
		return err
	}
	if f.quantity > pos.Quantity {
		return insufficientShares(f.ticker, pos.Quantity, f.quantity)
	}

	price, err := e.price(ctx, f.ticker)
	if err != nil {
		return err
	}
	f.price = price
	proceeds := price.Mul(decimal.NewFromInt(f.quantity))
	f.amount = proceeds

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	mctx := context.WithoutCancel(ctx)

	if tx, ok := e.transactor(); ok {
		err = e.retry.Do(mctx, "sell", func(ctx context.Context) error {
			return tx.WithTx(ctx, func(l store.Ledger) error {
				pos, err := l.Position(ctx, f.ticker)
				if err != nil {
					return err
				}
				if f.quantity > pos.Quantity {
					return insufficientShares(f.ticker, pos.Quantity, f.quantity)
				}
				bal, err := l.Balance(ctx)
				if err != nil {
					return err
				}
				newQty := pos.Quantity - f.quantity
				if err := l.SetBalance(ctx, bal.Add(proceeds)); err != nil {
					return err
				}
				if err := l.SetPosition(ctx, f.ticker, newQty, pos.AveragePrice); err != nil {
					return err
				}
				f.newBalance, f.prevQty, f.newQty = bal.Add(proceeds), pos.Quantity, newQty
				f.pnl = realizedPnL(proceeds, f.quantity, pos.AveragePrice)
				return nil
			})
		})
		if err != nil {
			return err
		}
	} else if err := e.sellCompensating(mctx, f, proceeds); err != nil {
		return err
	}

	e.appendTrade(mctx, f)
	return nil
}

func (e *Engine) sellCompensating(ctx context.Context, f *fill, proceeds decimal.Decimal) error {
	// Re-read under the lock; the position may have changed since the
	// pre-check.
	pos, err := retryValue(ctx, e.retry, "get position", func(ctx context.Context) (model.Position, error) {
		return e.store.Position(ctx, f.ticker)
	})
	if err != nil {
		return err
	}
	if f.quantity > pos.Quantity {
		return insufficientShares(f.ticker, pos.Quantity, f.quantity)
	}
	bal, err := retryValue(ctx, e.retry, "get balance", e.store.Balance)
	if err != nil {
		return err
	}

	newBal := bal.Add(proceeds)
	if err := e.retry.Do(ctx, "credit balance", func(ctx context.Context) error {
		return e.store.SetBalance(ctx, newBal)
	}); err != nil {
		return err
	}
	newQty := pos.Quantity - f.quantity
	if err := e.retry.Do(ctx, "write position", func(ctx context.Context) error {
		return e.store.SetPosition(ctx, f.ticker, newQty, pos.AveragePrice)
	}); err != nil {
		return e.compensate(ctx, f.ticker, bal, err)
	}

	f.newBalance, f.prevQty, f.newQty = newBal, pos.Quantity, newQty
	f.pnl = realizedPnL(proceeds, f.quantity, pos.AveragePrice)
	return nil
}

// compensate restores the pre-trade balance after the position write of a
// trade failed with cause.
func (e *Engine) compensate(ctx context.Context, t string, prev decimal.Decimal, cause error) error {
	err := e.retry.Do(ctx, "restore balance", func(ctx context.Context) error {
		return e.store.SetBalance(ctx, prev)
	})
	if err != nil {
		metrics.Compensations.WithLabelValues("failed").Inc()
		slog.ErrorContext(ctx, "balance restore failed, ledger inconsistent",
			"ticker", t,
			"balance", prev.String(),
			"cause", cause,
			"err", err,
		)
		return fmt.Errorf("%w: %w: position update for %s failed (%v) and balance could not be restored to %s: %w",
			ErrStorage, ErrInconsistent, t, cause, prev, err)
	}
	metrics.Compensations.WithLabelValues("restored").Inc()
	slog.WarnContext(ctx, "position write failed, balance restored",
		"ticker", t,
		"balance", prev.String(),
		"err", cause,
	)
	return fmt.Errorf("position update for %s failed, balance restored: %w", t, cause)
}

// appendTrade journals a fill. A failure is kept on the fill as a warning;
// the economic effect already happened. Appends are not retried because a
// timed-out insert may still have committed.
func (e *Engine) appendTrade(ctx context.Context, f *fill) {
	rec := &model.TradeRecord{
		Ticker:   f.ticker,
		Side:     f.side,
		Quantity: f.quantity,
		Price:    f.price,
	}
	if err := e.store.AppendTrade(ctx, rec); err != nil {
		f.logErr = fmt.Errorf("%w: %w", ErrTradeLog, err)
		return
	}
	f.tradeID = rec.ID
}

// price fetches a positive price for t, retrying transient failures.
func (e *Engine) price(ctx context.Context, t string) (decimal.Decimal, error) {
	return retryValue(ctx, e.retry, "price", func(ctx context.Context) (decimal.Decimal, error) {
		p, err := e.oracle.Price(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				return decimal.Zero, ctx.Err()
			}
			return decimal.Zero, fmt.Errorf("%w for %s: %w", ErrPriceUnavailable, t, err)
		}
		if !p.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w for %s: non-positive price %s", ErrPriceUnavailable, t, p)
		}
		return p, nil
	})
}

// Quote returns the normalized ticker and its current price.
func (e *Engine) Quote(ctx context.Context, raw string) (string, decimal.Decimal, error) {
	t, err := ticker.Normalize(raw)
	if err != nil {
		return "", decimal.Zero, fmt.Errorf("%w: %w", ErrPriceUnavailable, err)
	}
	p, err := e.price(ctx, t)
	return t, p, err
}

// Reset wipes positions and trades and restores the initial balance. It
// waits for any trade in progress.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.retry.Do(ctx, "reset", e.store.Reset); err != nil {
		return err
	}
	metrics.OpenPositions.Set(0)
	slog.WarnContext(ctx, "ledger reset")
	return nil
}

// averageIn adds quantity shares bought for cost to pos and returns the new
// quantity and weighted average price.
func averageIn(pos model.Position, quantity int64, cost decimal.Decimal) (int64, decimal.Decimal, error) {
	if pos.Quantity > math.MaxInt64-quantity {
		return 0, decimal.Zero, fmt.Errorf("%w: position in %s would overflow", ErrInvalidQuantity, pos.Ticker)
	}
	newQty := pos.Quantity + quantity
	newAvg := pos.CostBasis().Add(cost).Div(decimal.NewFromInt(newQty))
	return newQty, newAvg, nil
}

func realizedPnL(proceeds decimal.Decimal, quantity int64, avg decimal.Decimal) decimal.Decimal {
	return proceeds.Sub(avg.Mul(decimal.NewFromInt(quantity)))
}

func insufficientFunds(cost, bal decimal.Decimal) error {
	return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, money.Format(cost), money.Format(bal))
}

func insufficientShares(t string, held, want int64) error {
	return fmt.Errorf("%w: hold %d %s, tried to sell %d", ErrInsufficientShares, held, t, want)
}

func (f *fill) result() model.Result {
	r := model.Result{
		Success:    true,
		Ticker:     f.ticker,
		Side:       f.side,
		Quantity:   f.quantity,
		Price:      f.price,
		NewBalance: f.newBalance,
		TradeID:    f.tradeID,
	}
	amount := f.amount
	switch f.side {
	case model.SideBuy:
		r.TotalCost = &amount
		r.Message = fmt.Sprintf("Bought %d %s @ %s for %s",
			f.quantity, f.ticker, money.Format(f.price), money.Format(amount))
	case model.SideSell:
		pnl := f.pnl
		r.Proceeds = &amount
		r.PnL = &pnl
		r.Message = fmt.Sprintf("Sold %d %s @ %s for %s (P/L %s)",
			f.quantity, f.ticker, money.Format(f.price), money.Format(amount), money.Signed(pnl))
	}
	if f.logErr != nil {
		r.Err = f.logErr
		r.Warning = "Trade executed but could not be recorded in history: " + f.logErr.Error()
	}
	return r
}

func failure(f *fill, err error) model.Result {
	return model.Result{
		Success:  false,
		Message:  message(f.ticker, err),
		Kind:     KindOf(err),
		Ticker:   f.ticker,
		Side:     f.side,
		Quantity: f.quantity,
		Err:      err,
	}
}

func (e *Engine) observe(ctx context.Context, span trace.Span, f *fill, res model.Result, elapsed time.Duration) {
	side := string(f.side)
	metrics.TradeLatency.WithLabelValues(side).Observe(elapsed.Seconds())

	if !res.Success {
		metrics.TradeRejections.WithLabelValues(side, string(res.Kind)).Inc()
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Kind))

		level := slog.LevelInfo
		if res.Kind == model.KindStorage {
			level = slog.LevelError
		}
		slog.Log(ctx, level, "trade rejected",
			"ticker", f.ticker,
			"side", side,
			"qty", f.quantity,
			"reason", res.Kind,
			"err", res.Err,
		)
		return
	}

	metrics.TradesTotal.WithLabelValues(side).Inc()
	switch {
	case f.prevQty == 0 && f.newQty > 0:
		metrics.OpenPositions.Inc()
	case f.prevQty > 0 && f.newQty == 0:
		metrics.OpenPositions.Dec()
	}
	span.SetAttributes(
		attribute.String("price", f.price.String()),
		attribute.Int64("trade_id", f.tradeID),
	)

	if f.logErr != nil {
		metrics.TradeLogFailures.Inc()
		span.AddEvent("trade_log_failed")
		slog.WarnContext(ctx, "trade executed but not journaled",
			"ticker", f.ticker,
			"side", side,
			"err", f.logErr,
		)
	}
	slog.InfoContext(ctx, "trade executed",
		"trade_id", f.tradeID,
		"ticker", f.ticker,
		"side", side,
		"qty", f.quantity,
		"price", f.price.String(),
		"amount", f.amount.String(),
		"pnl", f.pnl.String(),
		"new_balance", f.newBalance.String(),
	)
}
