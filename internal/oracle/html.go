package oracle

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

// HTML scrapes the price from a quote page using a CSS selector. The text
// of the first matching element is parsed, so "$1,234.50" and "1234,50 €"
// both work.
type HTML struct {
	client   *http.Client
	url      string
	selector string
}

// NewHTML returns an oracle for urlTemplate, which must contain
// TickerPlaceholder.
func NewHTML(client *http.Client, urlTemplate, selector string) (*HTML, error) {
	if !strings.Contains(urlTemplate, TickerPlaceholder) {
		return nil, fmt.Errorf("oracle: url %q has no %s placeholder", urlTemplate, TickerPlaceholder)
	}
	if strings.TrimSpace(selector) == "" {
		return nil, fmt.Errorf("oracle: empty css selector")
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTML{client: client, url: urlTemplate, selector: selector}, nil
}

func (o *HTML) Price(ctx context.Context, ticker string) (decimal.Decimal, error) {
	body, err := get(ctx, o.client, quoteURL(o.url, ticker))
	if err != nil {
		return decimal.Zero, unavailable(ticker, err)
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return decimal.Zero, unavailable(ticker, fmt.Errorf("parse html: %w", err))
	}
	sel := doc.Find(o.selector).First()
	if sel.Length() == 0 {
		return decimal.Zero, unavailable(ticker, fmt.Errorf("selector %q matched nothing", o.selector))
	}

	// Prefer a machine-readable attribute when the page provides one.
	text, ok := sel.Attr("data-value")
	if !ok {
		text = sel.Text()
	}
	p, err := parsePrice(text)
	if err != nil {
		return decimal.Zero, unavailable(ticker, fmt.Errorf("parse %q: %w", text, err))
	}
	return checkPrice(ticker, p)
}
