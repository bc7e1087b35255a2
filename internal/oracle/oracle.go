// Package oracle provides price sources for the trading engine.
//
// An Oracle returns the current tradable price of a ticker or an error
// wrapping ErrUnavailable. Callers never distinguish an unknown ticker from
// an outage; both are "unavailable".
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrUnavailable is wrapped by every error an Oracle returns.
var ErrUnavailable = errors.New("oracle: price unavailable")

// Oracle is a source of current prices.
type Oracle interface {
	Price(ctx context.Context, ticker string) (decimal.Decimal, error)
}

// Func adapts an ordinary function to the Oracle interface.
type Func func(ctx context.Context, ticker string) (decimal.Decimal, error)

func (f Func) Price(ctx context.Context, ticker string) (decimal.Decimal, error) {
	return f(ctx, ticker)
}

func unavailable(ticker string, err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, ticker, err)
}

// checkPrice rejects the zero and negative prices some feeds return for
// halted or unknown instruments.
func checkPrice(ticker string, p decimal.Decimal) (decimal.Decimal, error) {
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s: non-positive price %s", ErrUnavailable, ticker, p)
	}
	return p, nil
}

// parsePrice reads a price out of scraped text such as "$1,234.50" or
// "1 234,5" (a lone comma is taken as the decimal separator).
func parsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			return r
		}
		return -1
	}, s)
	if strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", "")
	} else {
		s = strings.ReplaceAll(s, ",", ".")
	}
	if s == "" {
		return decimal.Zero, errors.New("no digits")
	}
	return decimal.NewFromString(s)
}

// Static serves prices from an in-memory table. It is used for tests and
// offline demos.
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStatic creates a Static oracle seeded with prices.
func NewStatic(prices map[string]decimal.Decimal) *Static {
	s := &Static{prices: make(map[string]decimal.Decimal, len(prices))}
	for t, p := range prices {
		s.prices[strings.ToUpper(t)] = p
	}
	return s
}

// Set changes the price of ticker.
func (s *Static) Set(ticker string, p decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[strings.ToUpper(ticker)] = p
}

// Remove makes ticker unavailable.
func (s *Static) Remove(ticker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, strings.ToUpper(ticker))
}

func (s *Static) Price(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, unavailable(ticker, err)
	}
	s.mu.RLock()
	p, ok := s.prices[strings.ToUpper(ticker)]
	s.mu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s: no quote", ErrUnavailable, ticker)
	}
	return checkPrice(ticker, p)
}
