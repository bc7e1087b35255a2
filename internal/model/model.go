// Package model defines the core domain types shared across the paper ledger.
// All monetary values use shopspring/decimal; never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// DefaultInitialBalance is the paper money a fresh ledger starts with.
var DefaultInitialBalance = decimal.NewFromInt(100000)

// Account is the singleton cash record of the ledger.
// InitialBalance never changes after the ledger is created.
type Account struct {
	Balance        decimal.Decimal `json:"balance" db:"balance"`
	InitialBalance decimal.Decimal `json:"initial_balance" db:"initial_balance"`
	LastUpdated    time.Time       `json:"last_updated" db:"last_updated"`
}

// Position is an open holding in one ticker. A position with zero
// quantity does not exist; stores delete it instead.
type Position struct {
	Ticker       string          `json:"ticker" db:"ticker"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price" db:"average_price"` // weighted average cost per share
	LastUpdated  time.Time       `json:"last_updated" db:"last_updated"`
}

// CostBasis is quantity × average price.
func (p Position) CostBasis() decimal.Decimal {
	return p.AveragePrice.Mul(decimal.NewFromInt(p.Quantity))
}

// TradeRecord is an immutable record of a fill.
// Once appended, these are never modified or deleted except by a full reset.
type TradeRecord struct {
	ID        int64           `json:"id" db:"id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Ticker    string          `json:"ticker" db:"ticker"`
	Side      Side            `json:"side" db:"side"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`           // fill price
	TotalCost decimal.Decimal `json:"total_cost" db:"total_cost"` // quantity × price
}

// ErrorKind classifies a failed Result for programmatic callers.
type ErrorKind string

const (
	KindInvalidQuantity    ErrorKind = "invalid_quantity"
	KindPriceUnavailable   ErrorKind = "price_unavailable"
	KindInsufficientFunds  ErrorKind = "insufficient_funds"
	KindInsufficientShares ErrorKind = "insufficient_shares"
	KindStorage            ErrorKind = "storage"
	KindCanceled           ErrorKind = "canceled" // caller gave up before any mutation
)

// Result is what the trading engine returns for every buy or sell.
// Only Success and Message are meaningful on failure.
type Result struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Kind    ErrorKind `json:"error,omitempty"`

	Ticker     string           `json:"ticker,omitempty"`
	Side       Side             `json:"side,omitempty"`
	Quantity   int64            `json:"quantity,omitempty"`
	Price      decimal.Decimal  `json:"price"`
	TotalCost  *decimal.Decimal `json:"total_cost,omitempty"` // buys
	Proceeds   *decimal.Decimal `json:"proceeds,omitempty"`   // sells
	PnL        *decimal.Decimal `json:"pnl,omitempty"`        // sells, realized
	NewBalance decimal.Decimal  `json:"new_balance"`
	TradeID    int64            `json:"trade_id,omitempty"`
	Warning    string           `json:"warning,omitempty"`

	// Err is the underlying error of a failed trade, or the trade-log
	// error of a successful one that could not be journaled.
	Err error `json:"-"`
}

// Summary is the account-level valuation.
type Summary struct {
	Balance        decimal.Decimal `json:"balance"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	TotalEquity    decimal.Decimal `json:"total_equity"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	PnL            decimal.Decimal `json:"pnl"`
	PnLPercent     decimal.Decimal `json:"pnl_percent"`
	BuyingPower    decimal.Decimal `json:"buying_power"` // cash account: equals balance
}

// PositionValuation is a position marked to the current price.
type PositionValuation struct {
	Ticker       string          `json:"ticker"`
	Quantity     int64           `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	MarketValue  decimal.Decimal `json:"market_value"`
	PnL          decimal.Decimal `json:"pnl"`
	PnLPercent   decimal.Decimal `json:"pnl_percent"`
	PriceStale   bool            `json:"price_stale"` // oracle failed, average price used
}
