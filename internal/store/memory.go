package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/paper-ledger/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu    sync.RWMutex
	state memState
}

// memState is the ledger content. Its methods assume the caller holds the
// owning MemoryStore's lock.
type memState struct {
	account   model.Account
	positions map[string]model.Position
	trades    []model.TradeRecord
	nextID    int64
	now       func() time.Time
}

// NewMemoryStore creates a new in-memory store seeded with initialBalance.
func NewMemoryStore(initialBalance decimal.Decimal) *MemoryStore {
	now := utcNow
	return &MemoryStore{
		state: memState{
			account: model.Account{
				Balance:        initialBalance,
				InitialBalance: initialBalance,
				LastUpdated:    now(),
			},
			positions: make(map[string]model.Position),
			nextID:    1,
			now:       now,
		},
	}
}

func (s *MemoryStore) Account(_ context.Context) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.account, nil
}

func (s *MemoryStore) Balance(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.account.Balance, nil
}

func (s *MemoryStore) SetBalance(_ context.Context, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.setBalance(balance)
}

func (s *MemoryStore) Position(_ context.Context, ticker string) (model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.position(ticker), nil
}

func (s *MemoryStore) SetPosition(_ context.Context, ticker string, quantity int64, averagePrice decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.setPosition(ticker, quantity, averagePrice)
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listPositions(), nil
}

func (s *MemoryStore) AppendTrade(_ context.Context, rec *model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.appendTrade(rec)
}

func (s *MemoryStore) ListTrades(_ context.Context, limit int) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.listTrades(limit), nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.positions = make(map[string]model.Position)
	s.state.trades = nil
	s.state.nextID = 1
	s.state.account.Balance = s.state.account.InitialBalance
	s.state.account.LastUpdated = s.state.now()
	return nil
}

// WithTx runs fn against a copy of the ledger and swaps it in on success.
// The write lock is held for the whole of fn.
func (s *MemoryStore) WithTx(_ context.Context, fn func(tx Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.state.clone()
	if err := fn(&memTx{st: &draft}); err != nil {
		return err
	}
	s.state = draft
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// --- state operations (lock held by caller) ---

func (st *memState) setBalance(balance decimal.Decimal) error {
	if err := checkBalance(balance); err != nil {
		return err
	}
	st.account.Balance = balance
	st.account.LastUpdated = st.now()
	return nil
}

func (st *memState) position(ticker string) model.Position {
	if p, ok := st.positions[ticker]; ok {
		return p
	}
	return model.Position{Ticker: ticker, AveragePrice: decimal.Zero}
}

func (st *memState) setPosition(ticker string, quantity int64, averagePrice decimal.Decimal) {
	if quantity <= 0 {
		delete(st.positions, ticker)
		return
	}
	st.positions[ticker] = model.Position{
		Ticker:       ticker,
		Quantity:     quantity,
		AveragePrice: averagePrice,
		LastUpdated:  st.now(),
	}
}

func (st *memState) listPositions() []model.Position {
	out := make([]model.Position, 0, len(st.positions))
	for _, p := range st.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

func (st *memState) appendTrade(rec *model.TradeRecord) error {
	if err := validateTrade(rec); err != nil {
		return err
	}
	ts := st.now()
	// Keep the log ordered by timestamp even if the wall clock steps back.
	if n := len(st.trades); n > 0 && ts.Before(st.trades[n-1].Timestamp) {
		ts = st.trades[n-1].Timestamp
	}
	rec.ID = st.nextID
	rec.Timestamp = ts
	rec.TotalCost = rec.Price.Mul(decimal.NewFromInt(rec.Quantity))
	st.nextID++
	st.trades = append(st.trades, *rec)
	return nil
}

func (st *memState) listTrades(limit int) []model.TradeRecord {
	n := len(st.trades)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.TradeRecord, 0, n)
	for i := len(st.trades) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, st.trades[i])
	}
	return out
}

func (st *memState) clone() memState {
	c := *st
	c.positions = make(map[string]model.Position, len(st.positions))
	for k, v := range st.positions {
		c.positions[k] = v
	}
	c.trades = append([]model.TradeRecord(nil), st.trades...)
	return c
}

// memTx is the transaction-bound view handed to WithTx callbacks.
type memTx struct {
	st *memState
}

func (t *memTx) Account(_ context.Context) (model.Account, error) { return t.st.account, nil }

func (t *memTx) Balance(_ context.Context) (decimal.Decimal, error) {
	return t.st.account.Balance, nil
}

func (t *memTx) SetBalance(_ context.Context, balance decimal.Decimal) error {
	return t.st.setBalance(balance)
}

func (t *memTx) Position(_ context.Context, ticker string) (model.Position, error) {
	return t.st.position(ticker), nil
}

func (t *memTx) SetPosition(_ context.Context, ticker string, quantity int64, averagePrice decimal.Decimal) error {
	t.st.setPosition(ticker, quantity, averagePrice)
	return nil
}

func (t *memTx) ListPositions(_ context.Context) ([]model.Position, error) {
	return t.st.listPositions(), nil
}

func (t *memTx) AppendTrade(_ context.Context, rec *model.TradeRecord) error {
	return t.st.appendTrade(rec)
}

func (t *memTx) ListTrades(_ context.Context, limit int) ([]model.TradeRecord, error) {
	return t.st.listTrades(limit), nil
}
