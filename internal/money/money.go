// Package money formats decimal amounts for human-facing messages.
package money

import (
	gomoney "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is the ledger's single currency.
const DefaultCurrency = gomoney.USD

var hundred = decimal.NewFromInt(100)

// Format renders amount in the default currency, e.g. "$1,500.00".
func Format(amount decimal.Decimal) string {
	return FormatIn(amount, DefaultCurrency)
}

// FormatIn renders amount using the given ISO currency code. Unknown codes
// fall back to the code itself as grapheme, which is go-money's behaviour.
func FormatIn(amount decimal.Decimal, code string) string {
	cur := *gomoney.New(0, code).Currency()
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return cur.Formatter().Format(minor)
}

// Signed is Format with an explicit "+" for positive amounts.
func Signed(amount decimal.Decimal) string {
	if amount.IsPositive() {
		return "+" + Format(amount)
	}
	return Format(amount)
}

// Percent renders p (already ×100) with two decimals and a sign, e.g. "+2.50%".
func Percent(p decimal.Decimal) string {
	s := p.StringFixed(2) + "%"
	if p.IsPositive() {
		return "+" + s
	}
	return s
}

// Ratio returns part / whole × 100, or zero when whole is zero.
func Ratio(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}
