package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-ledger/internal/metrics"
	"github.com/atmx/paper-ledger/internal/model"
)

// DefaultCacheTTL bounds how stale a cached balance or position list may be.
const DefaultCacheTTL = 5 * time.Second

// Cached wraps a primary Store with an in-process read-through cache for
// the balance and the position list. Writes go to the primary store and
// invalidate the cache before returning; reads check the cache first then
// fall back to the primary.
type Cached struct {
	primary   Store
	balance   *TTLCache[decimal.Decimal]
	positions *TTLCache[[]model.Position]
}

// NewCached creates a cached wrapper around a primary store.
func NewCached(primary Store, ttl time.Duration) *Cached {
	return &Cached{
		primary:   primary,
		balance:   NewTTLCache[decimal.Decimal](ttl),
		positions: NewTTLCache[[]model.Position](ttl),
	}
}

// Primary returns the wrapped store.
func (s *Cached) Primary() Store { return s.primary }

// --- Write-through (write to primary, invalidate cache) ---

func (s *Cached) SetBalance(ctx context.Context, balance decimal.Decimal) error {
	defer s.balance.Invalidate()
	return s.primary.SetBalance(ctx, balance)
}

func (s *Cached) SetPosition(ctx context.Context, ticker string, quantity int64, averagePrice decimal.Decimal) error {
	defer s.positions.Invalidate()
	return s.primary.SetPosition(ctx, ticker, quantity, averagePrice)
}

func (s *Cached) Reset(ctx context.Context) error {
	defer s.invalidateAll()
	return s.primary.Reset(ctx)
}

// WithTx runs fn in a transaction of the primary store. Both cache entries
// are invalidated once the transaction ends, committed or not.
func (s *Cached) WithTx(ctx context.Context, fn func(tx Ledger) error) error {
	t, ok := s.primary.(Transactor)
	if !ok {
		return storageErr("begin transaction", errNoTransactions)
	}
	defer s.invalidateAll()
	return t.WithTx(ctx, fn)
}

// --- Read-through (check cache first) ---

func (s *Cached) Balance(ctx context.Context) (decimal.Decimal, error) {
	if b, ok := s.balance.Get(); ok {
		metrics.LedgerCache.WithLabelValues("balance", "hit").Inc()
		return b, nil
	}
	metrics.LedgerCache.WithLabelValues("balance", "miss").Inc()

	gen := s.balance.Generation()
	b, err := s.primary.Balance(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	s.balance.SetIfGeneration(b, gen)
	return b, nil
}

func (s *Cached) ListPositions(ctx context.Context) ([]model.Position, error) {
	if ps, ok := s.positions.Get(); ok {
		metrics.LedgerCache.WithLabelValues("positions", "hit").Inc()
		return clonePositions(ps), nil
	}
	metrics.LedgerCache.WithLabelValues("positions", "miss").Inc()

	gen := s.positions.Generation()
	ps, err := s.primary.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	s.positions.SetIfGeneration(clonePositions(ps), gen)
	return ps, nil
}

// --- Passthrough (not cached) ---

func (s *Cached) Account(ctx context.Context) (model.Account, error) {
	return s.primary.Account(ctx)
}

func (s *Cached) Position(ctx context.Context, ticker string) (model.Position, error) {
	return s.primary.Position(ctx, ticker)
}

func (s *Cached) AppendTrade(ctx context.Context, rec *model.TradeRecord) error {
	return s.primary.AppendTrade(ctx, rec)
}

func (s *Cached) ListTrades(ctx context.Context, limit int) ([]model.TradeRecord, error) {
	return s.primary.ListTrades(ctx, limit)
}

func (s *Cached) Close() error {
	s.invalidateAll()
	return s.primary.Close()
}

// --- Cache helpers ---

func (s *Cached) invalidateAll() {
	s.balance.Invalidate()
	s.positions.Invalidate()
}

func clonePositions(ps []model.Position) []model.Position {
	if ps == nil {
		return []model.Position{}
	}
	out := make([]model.Position, len(ps))
	copy(out, ps)
	return out
}
