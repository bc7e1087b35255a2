package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/paper-ledger/internal/model"
)

var initial = decimal.NewFromInt(100000)

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) Store { return NewMemoryStore(initial) }},
		{"sqlite", openTestSQLite},
		{"postgres", openTestPostgres},
		{"cached", func(t *testing.T) Store { return NewCached(NewMemoryStore(initial), DefaultCacheTTL) }},
	}
}

func openTestSQLite(t *testing.T) Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), initial)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openTestPostgres(t *testing.T) Store {
	t.Helper()
	dsn := os.Getenv("PAPER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PAPER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn, initial)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

func buyRec(ticker string, qty int64, price string) *model.TradeRecord {
	return &model.TradeRecord{
		Ticker:   ticker,
		Side:     model.SideBuy,
		Quantity: qty,
		Price:    decimal.RequireFromString(price),
	}
}

func TestFreshLedger(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		acct, err := s.Account(ctx)
		require.NoError(t, err)
		assert.True(t, acct.Balance.Equal(initial))
		assert.True(t, acct.InitialBalance.Equal(initial))

		ps, err := s.ListPositions(ctx)
		require.NoError(t, err)
		assert.Empty(t, ps)

		trades, err := s.ListTrades(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, trades)
	})
}

func TestSetBalance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.SetBalance(ctx, decimal.RequireFromString("98500.25")))
		b, err := s.Balance(ctx)
		require.NoError(t, err)
		assert.Equal(t, "98500.25", b.String())

		err = s.SetBalance(ctx, decimal.NewFromInt(-1))
		assert.ErrorIs(t, err, ErrStorage)
		assert.ErrorIs(t, err, ErrNegativeBalance)

		b, err = s.Balance(ctx)
		require.NoError(t, err)
		assert.Equal(t, "98500.25", b.String(), "rejected write must not be visible")
	})
}

func TestPositionLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		p, err := s.Position(ctx, "AAPL")
		require.NoError(t, err)
		assert.Equal(t, int64(0), p.Quantity)
		assert.True(t, p.AveragePrice.IsZero())

		require.NoError(t, s.SetPosition(ctx, "AAPL", 10, decimal.NewFromInt(150)))
		require.NoError(t, s.SetPosition(ctx, "MSFT", 3, decimal.RequireFromString("410.5")))
		require.NoError(t, s.SetPosition(ctx, "AAPL", 15, decimal.NewFromInt(160)))

		p, err = s.Position(ctx, "AAPL")
		require.NoError(t, err)
		assert.Equal(t, int64(15), p.Quantity)
		assert.Equal(t, "160", p.AveragePrice.String())

		ps, err := s.ListPositions(ctx)
		require.NoError(t, err)
		require.Len(t, ps, 2)
		assert.Equal(t, "AAPL", ps[0].Ticker)
		assert.Equal(t, "MSFT", ps[1].Ticker)

		require.NoError(t, s.SetPosition(ctx, "AAPL", 0, decimal.NewFromInt(160)))
		p, err = s.Position(ctx, "AAPL")
		require.NoError(t, err)
		assert.Equal(t, int64(0), p.Quantity)

		ps, err = s.ListPositions(ctx)
		require.NoError(t, err)
		require.Len(t, ps, 1)
		assert.Equal(t, "MSFT", ps[0].Ticker)

		// Deleting an absent position is a no-op.
		require.NoError(t, s.SetPosition(ctx, "NOPE", -5, decimal.Zero))
	})
}

func TestAppendTrade(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first := buyRec("AAPL", 10, "150")
		require.NoError(t, s.AppendTrade(ctx, first))
		assert.NotZero(t, first.ID)
		assert.False(t, first.Timestamp.IsZero())
		assert.Equal(t, "1500", first.TotalCost.String())

		second := &model.TradeRecord{Ticker: "AAPL", Side: model.SideSell, Quantity: 5, Price: decimal.NewFromInt(200)}
		require.NoError(t, s.AppendTrade(ctx, second))
		assert.Greater(t, second.ID, first.ID)
		assert.False(t, second.Timestamp.Before(first.Timestamp))

		trades, err := s.ListTrades(ctx, 0)
		require.NoError(t, err)
		require.Len(t, trades, 2)
		assert.Equal(t, second.ID, trades[0].ID, "newest first")
		assert.Equal(t, model.SideSell, trades[0].Side)
		assert.Equal(t, "1000", trades[0].TotalCost.String())

		limited, err := s.ListTrades(ctx, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, second.ID, limited[0].ID)

		// Appending never touches balance or positions.
		b, err := s.Balance(ctx)
		require.NoError(t, err)
		assert.True(t, b.Equal(initial))
		ps, err := s.ListPositions(ctx)
		require.NoError(t, err)
		assert.Empty(t, ps)
	})
}

func TestAppendTradeRejectsInvalid(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		cases := []*model.TradeRecord{
			nil,
			buyRec("AAPL", 0, "1"),
			buyRec("AAPL", -3, "1"),
			buyRec("AAPL", 1, "-1"),
			buyRec("", 1, "1"),
			{Ticker: "AAPL", Side: "HOLD", Quantity: 1, Price: decimal.NewFromInt(1)},
		}
		for _, rec := range cases {
			assert.ErrorIs(t, s.AppendTrade(ctx, rec), ErrInvalidTrade)
		}
		trades, err := s.ListTrades(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, trades)
	})
}

func TestReset(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.SetBalance(ctx, decimal.NewFromInt(5)))
		require.NoError(t, s.SetPosition(ctx, "AAPL", 10, decimal.NewFromInt(150)))
		require.NoError(t, s.AppendTrade(ctx, buyRec("AAPL", 10, "150")))

		require.NoError(t, s.Reset(ctx))

		b, err := s.Balance(ctx)
		require.NoError(t, err)
		assert.True(t, b.Equal(initial))
		ps, err := s.ListPositions(ctx)
		require.NoError(t, err)
		assert.Empty(t, ps)
		trades, err := s.ListTrades(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, trades)

		rec := buyRec("MSFT", 1, "1")
		require.NoError(t, s.AppendTrade(ctx, rec))
		assert.Equal(t, int64(1), rec.ID, "ids restart after reset")
	})
}

func TestWithTxCommitAndRollback(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		tr, ok := TransactorOf(s)
		require.True(t, ok)

		err := tr.WithTx(ctx, func(tx Ledger) error {
			if err := tx.SetBalance(ctx, decimal.NewFromInt(98500)); err != nil {
				return err
			}
			return tx.SetPosition(ctx, "AAPL", 10, decimal.NewFromInt(150))
		})
		require.NoError(t, err)

		b, err := s.Balance(ctx)
		require.NoError(t, err)
		assert.Equal(t, "98500", b.String())

		boom := errors.New("boom")
		err = tr.WithTx(ctx, func(tx Ledger) error {
			if err := tx.SetBalance(ctx, decimal.NewFromInt(1)); err != nil {
				return err
			}
			got, err := tx.Balance(ctx)
			if err != nil {
				return err
			}
			assert.Equal(t, "1", got.String(), "tx sees its own write")
			return boom
		})
		assert.ErrorIs(t, err, boom)

		b, err = s.Balance(ctx)
		require.NoError(t, err)
		assert.Equal(t, "98500", b.String(), "rolled back write must not be visible")
		p, err := s.Position(ctx, "AAPL")
		require.NoError(t, err)
		assert.Equal(t, int64(10), p.Quantity)
	})
}

func TestSnapshot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.SetBalance(ctx, decimal.NewFromInt(98500)))
		require.NoError(t, s.SetPosition(ctx, "AAPL", 10, decimal.NewFromInt(150)))

		for name, l := range map[string]Ledger{
			"direct": s,
			"cached": NewCached(s, DefaultCacheTTL),
			"no tx":  struct{ Ledger }{s},
		} {
			acct, positions, err := Snapshot(ctx, l)
			require.NoError(t, err, name)
			assert.Equal(t, "98500", acct.Balance.String(), name)
			assert.Equal(t, "100000", acct.InitialBalance.String(), name)
			require.Len(t, positions, 1, name)
			assert.Equal(t, int64(10), positions[0].Quantity, name)
		}
	})
}

func TestSQLiteReopenKeepsLedger(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := OpenSQLite(ctx, path, initial)
	require.NoError(t, err)
	require.NoError(t, s.SetBalance(ctx, decimal.RequireFromString("1234.56")))
	require.NoError(t, s.SetPosition(ctx, "BRK.B", 2, decimal.RequireFromString("350.125")))
	require.NoError(t, s.Close())

	// A different seed must not overwrite an existing ledger.
	s, err = OpenSQLite(ctx, path, decimal.NewFromInt(1))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	acct, err := s.Account(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1234.56", acct.Balance.String())
	assert.True(t, acct.InitialBalance.Equal(initial))

	p, err := s.Position(ctx, "BRK.B")
	require.NoError(t, err)
	assert.Equal(t, "350.125", p.AveragePrice.String())
}

func TestSQLiteSchemaCreated(t *testing.T) {
	s := openTestSQLite(t).(*SQLiteStore)

	rows, err := s.DB().Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('account','positions','trades')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["account"])
	assert.True(t, found["positions"])
	assert.True(t, found["trades"])
}
