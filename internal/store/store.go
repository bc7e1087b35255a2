// Package store defines the persistence interface for the paper ledger.
// Implementations include SQLite (the default, one local file), PostgreSQL
// and in-memory (for testing). Cached wraps any of them with an in-process
// TTL cache for balance and position-list reads.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-ledger/internal/model"
)

var (
	// ErrStorage wraps every failure of the underlying storage.
	ErrStorage = errors.New("store: storage error")

	// ErrNegativeBalance is returned (wrapped in ErrStorage) when a caller
	// tries to persist a balance below zero.
	ErrNegativeBalance = errors.New("store: negative balance")

	// ErrInvalidTrade is returned when a trade record has a non-positive
	// quantity, a negative price or an unknown side.
	ErrInvalidTrade = errors.New("store: invalid trade record")

	errNoTransactions = errors.New("backend does not support transactions")
)

// Ledger is the set of operations on balance, positions and trade log.
// Every write is atomic on its own; Transactor links several of them.
type Ledger interface {
	// Account returns the singleton account record.
	Account(ctx context.Context) (model.Account, error)

	// Balance returns the current cash balance.
	Balance(ctx context.Context) (decimal.Decimal, error)

	// SetBalance overwrites the cash balance.
	SetBalance(ctx context.Context, balance decimal.Decimal) error

	// Position returns the position in ticker, or a zero-quantity position
	// when none is held. Absence is not an error.
	Position(ctx context.Context, ticker string) (model.Position, error)

	// SetPosition upserts the position when quantity > 0 and deletes it
	// otherwise.
	SetPosition(ctx context.Context, ticker string, quantity int64, averagePrice decimal.Decimal) error

	// ListPositions returns all open positions ordered by ticker.
	ListPositions(ctx context.Context) ([]model.Position, error)

	// AppendTrade appends an immutable trade record. The store assigns ID,
	// Timestamp and TotalCost. It never touches balance or positions.
	AppendTrade(ctx context.Context, rec *model.TradeRecord) error

	// ListTrades returns trades newest first; limit <= 0 returns all.
	ListTrades(ctx context.Context, limit int) ([]model.TradeRecord, error)
}

// Store is a Ledger that owns its storage.
type Store interface {
	Ledger

	// Reset clears trades and positions and restores the balance to the
	// initial balance. Only for an explicit user-initiated reset.
	Reset(ctx context.Context) error

	// Close releases the underlying storage.
	Close() error
}

// Transactor is implemented by stores that can apply several writes as one
// transaction. fn receives a transaction-bound Ledger and must not call
// the outer store. The transaction commits when fn returns nil.
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx Ledger) error) error
}

// TransactorOf returns s as a Transactor when the backend behind it
// supports transactions.
func TransactorOf(s Store) (Transactor, bool) {
	if c, ok := s.(*Cached); ok {
		if _, ok := c.primary.(Transactor); !ok {
			return nil, false
		}
		return c, true
	}
	t, ok := s.(Transactor)
	return t, ok
}

// Snapshot reads the account and the open positions together. When l
// supports transactions both reads run in one, so a concurrent trade is
// seen entirely or not at all.
func Snapshot(ctx context.Context, l Ledger) (model.Account, []model.Position, error) {
	var t Transactor
	if s, ok := l.(Store); ok {
		t, _ = TransactorOf(s)
	} else {
		t, _ = l.(Transactor)
	}
	if t == nil {
		return readSnapshot(ctx, l)
	}

	var (
		acct      model.Account
		positions []model.Position
	)
	err := t.WithTx(ctx, func(tx Ledger) error {
		var err error
		acct, positions, err = readSnapshot(ctx, tx)
		return err
	})
	return acct, positions, err
}

func readSnapshot(ctx context.Context, l Ledger) (model.Account, []model.Position, error) {
	acct, err := l.Account(ctx)
	if err != nil {
		return model.Account{}, nil, err
	}
	positions, err := l.ListPositions(ctx)
	if err != nil {
		return model.Account{}, nil, err
	}
	return acct, positions, nil
}

func storageErr(op string, err error) error {
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func validateTrade(rec *model.TradeRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidTrade)
	}
	if rec.Quantity <= 0 {
		return fmt.Errorf("%w: quantity %d", ErrInvalidTrade, rec.Quantity)
	}
	if rec.Price.IsNegative() {
		return fmt.Errorf("%w: price %s", ErrInvalidTrade, rec.Price)
	}
	if !rec.Side.Valid() {
		return fmt.Errorf("%w: side %q", ErrInvalidTrade, rec.Side)
	}
	if rec.Ticker == "" {
		return fmt.Errorf("%w: empty ticker", ErrInvalidTrade)
	}
	return nil
}

func checkBalance(balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("%w: %w: %s", ErrStorage, ErrNegativeBalance, balance)
	}
	return nil
}
