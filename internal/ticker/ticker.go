// Package ticker normalizes and validates stock ticker symbols.
package ticker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// tickerRegex matches exchange symbols such as AAPL, BRK.B, ^GSPC, EURUSD=X
// and NSE:INFY style exchange-qualified symbols.
var tickerRegex = regexp.MustCompile(`^[A-Z0-9^][A-Z0-9.\-=:&]{0,19}$`)

var ErrInvalidTicker = errors.New("ticker: invalid symbol")

// Normalize trims and upper-cases s and checks it is a plausible symbol.
func Normalize(s string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	if t == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTicker)
	}
	if !tickerRegex.MatchString(t) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTicker, s)
	}
	return t, nil
}

// Split separates an exchange-qualified symbol ("NSE:INFY") into its
// exchange and symbol parts. Unqualified symbols return an empty exchange.
func Split(t string) (exchange, symbol string) {
	if i := strings.IndexByte(t, ':'); i > 0 {
		return t[:i], t[i+1:]
	}
	return "", t
}
