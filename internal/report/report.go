// Package report renders ledger views as markdown for the terminal.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/atmx/paper-ledger/internal/model"
	"github.com/atmx/paper-ledger/internal/money"
)

const timeLayout = "2006-01-02 15:04:05"

// Positions renders marked-to-market positions as a markdown table.
func Positions(vals []model.PositionValuation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Positions\n\n")
	if len(vals) == 0 {
		fmt.Fprintln(&b, "_No open positions._")
		return b.String()
	}

	fmt.Fprintln(&b, "| Ticker | Quantity | Avg Price | Current | Value | P/L | P/L % |")
	fmt.Fprintln(&b, "|:---|---:|---:|---:|---:|---:|---:|")
	stale := false
	for _, v := range vals {
		current := money.Format(v.CurrentPrice)
		if v.PriceStale {
			current += "*"
			stale = true
		}
		fmt.Fprintf(&b, "| %s | %d | %s | %s | %s | %s | %s |\n",
			v.Ticker,
			v.Quantity,
			money.Format(v.AveragePrice),
			current,
			money.Format(v.MarketValue),
			money.Signed(v.PnL),
			money.Percent(v.PnLPercent),
		)
	}
	if stale {
		fmt.Fprintln(&b, "\n\\* price unavailable, valued at average price")
	}
	return b.String()
}

// History renders trade records, newest first as given.
func History(trades []model.TradeRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Trade History\n\n")
	if len(trades) == 0 {
		fmt.Fprintln(&b, "_No trades yet._")
		return b.String()
	}

	fmt.Fprintln(&b, "| # | Time (UTC) | Side | Ticker | Quantity | Price | Total |")
	fmt.Fprintln(&b, "|---:|:---|:---|:---|---:|---:|---:|")
	for _, t := range trades {
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %d | %s | %s |\n",
			t.ID,
			t.Timestamp.UTC().Format(timeLayout),
			t.Side,
			t.Ticker,
			t.Quantity,
			money.Format(t.Price),
			money.Format(t.TotalCost),
		)
	}
	return b.String()
}

// Summary renders the account summary.
func Summary(s model.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Account Summary\n\n")
	fmt.Fprintln(&b, "| | |")
	fmt.Fprintln(&b, "|:---|---:|")
	fmt.Fprintf(&b, "| Cash Balance | %s |\n", money.Format(s.Balance))
	fmt.Fprintf(&b, "| Buying Power | %s |\n", money.Format(s.BuyingPower))
	fmt.Fprintf(&b, "| Portfolio Value | %s |\n", money.Format(s.PortfolioValue))
	fmt.Fprintf(&b, "| Total Equity | %s |\n", money.Format(s.TotalEquity))
	fmt.Fprintf(&b, "| Initial Balance | %s |\n", money.Format(s.InitialBalance))
	fmt.Fprintf(&b, "| P/L | %s (%s) |\n", money.Signed(s.PnL), money.Percent(s.PnLPercent))
	return b.String()
}

// Printer writes markdown to a terminal, styled by glamour.
type Printer struct {
	w     io.Writer
	style string
	width int
}

// NewPrinter creates a Printer. style is a glamour standard style name
// ("dark", "light", "notty", ...) or "auto", the default. "raw" skips
// rendering.
func NewPrinter(w io.Writer, style string, width int) *Printer {
	return &Printer{w: w, style: style, width: width}
}

// Print renders md. If glamour fails the raw markdown is written instead.
func (p *Printer) Print(md string) error {
	if p.style == "raw" {
		_, err := io.WriteString(p.w, md)
		return err
	}

	opts := []glamour.TermRendererOption{glamour.WithWordWrap(p.width)}
	if p.style == "" || p.style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(p.style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		_, werr := io.WriteString(p.w, md)
		return werr
	}
	out, err := r.Render(md)
	if err != nil {
		out = md
	}
	_, err = io.WriteString(p.w, out)
	return err
}
