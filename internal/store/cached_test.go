package store

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/paper-ledger/internal/metrics"
	"github.com/atmx/paper-ledger/internal/model"
)

// countingStore counts primary reads so tests can tell hits from misses.
type countingStore struct {
	Store
	balanceReads  int
	positionReads int
}

func (c *countingStore) Balance(ctx context.Context) (decimal.Decimal, error) {
	c.balanceReads++
	return c.Store.Balance(ctx)
}

func (c *countingStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	c.positionReads++
	return c.Store.ListPositions(ctx)
}

func TestCachedBalanceIdempotentWithinTTL(t *testing.T) {
	ctx := context.Background()
	primary := &countingStore{Store: NewMemoryStore(initial)}
	s := NewCached(primary, time.Minute)

	hits := testutil.ToFloat64(metrics.LedgerCache.WithLabelValues("balance", "hit"))

	a, err := s.Balance(ctx)
	require.NoError(t, err)
	b, err := s.Balance(ctx)
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.Equal(t, 1, primary.balanceReads)
	assert.Equal(t, hits+1, testutil.ToFloat64(metrics.LedgerCache.WithLabelValues("balance", "hit")))
}

func TestCachedWriteThenReadIsFresh(t *testing.T) {
	ctx := context.Background()
	s := NewCached(NewMemoryStore(initial), time.Minute)

	_, err := s.Balance(ctx)
	require.NoError(t, err)
	_, err = s.ListPositions(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SetBalance(ctx, decimal.NewFromInt(98500)))
	b, err := s.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "98500", b.String())

	require.NoError(t, s.SetPosition(ctx, "AAPL", 10, decimal.NewFromInt(150)))
	ps, err := s.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, int64(10), ps[0].Quantity)
}

func TestCachedInvalidatesAfterTx(t *testing.T) {
	ctx := context.Background()
	s := NewCached(NewMemoryStore(initial), time.Minute)

	_, err := s.Balance(ctx)
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx Ledger) error {
		return tx.SetBalance(ctx, decimal.NewFromInt(7))
	})
	require.NoError(t, err)

	b, err := s.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7", b.String())
}

func TestCachedInvalidatesAfterReset(t *testing.T) {
	ctx := context.Background()
	s := NewCached(NewMemoryStore(initial), time.Minute)

	require.NoError(t, s.SetPosition(ctx, "AAPL", 1, decimal.NewFromInt(1)))
	ps, err := s.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)

	require.NoError(t, s.Reset(ctx))
	ps, err = s.ListPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestCachedReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewCached(NewMemoryStore(initial), time.Minute)
	require.NoError(t, s.SetPosition(ctx, "AAPL", 1, decimal.NewFromInt(1)))

	ps, err := s.ListPositions(ctx)
	require.NoError(t, err)
	ps[0].Quantity = 999

	again, err := s.ListPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again[0].Quantity)
}

// noTxStore hides the primary's Transactor implementation.
type noTxStore struct{ Store }

func TestTransactorOf(t *testing.T) {
	_, ok := TransactorOf(NewMemoryStore(initial))
	assert.True(t, ok)

	_, ok = TransactorOf(noTxStore{NewMemoryStore(initial)})
	assert.False(t, ok)

	cached := NewCached(noTxStore{NewMemoryStore(initial)}, time.Second)
	_, ok = TransactorOf(cached)
	assert.False(t, ok)

	err := cached.WithTx(context.Background(), func(Ledger) error { return nil })
	assert.ErrorIs(t, err, ErrStorage)
}
