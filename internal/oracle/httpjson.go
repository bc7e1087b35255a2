package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
)

// TickerPlaceholder is replaced by the escaped ticker in quote URLs.
const TickerPlaceholder = "{ticker}"

// DefaultTimeout bounds a single quote request.
const DefaultTimeout = 10 * time.Second

// HTTPJSON fetches a JSON document per ticker and extracts the price with a
// JSONPath expression, e.g. "$.quoteResponse.result[0].regularMarketPrice".
type HTTPJSON struct {
	client *http.Client
	url    string
	path   string
}

// NewHTTPJSON returns an oracle for urlTemplate, which must contain
// TickerPlaceholder. A nil client gets one with DefaultTimeout.
func NewHTTPJSON(client *http.Client, urlTemplate, path string) (*HTTPJSON, error) {
	if !strings.Contains(urlTemplate, TickerPlaceholder) {
		return nil, fmt.Errorf("oracle: url %q has no %s placeholder", urlTemplate, TickerPlaceholder)
	}
	if _, err := jsonpath.New(path); err != nil {
		return nil, fmt.Errorf("oracle: invalid json path %q: %w", path, err)
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTPJSON{client: client, url: urlTemplate, path: path}, nil
}

func (o *HTTPJSON) Price(ctx context.Context, ticker string) (decimal.Decimal, error) {
	body, err := get(ctx, o.client, quoteURL(o.url, ticker))
	if err != nil {
		return decimal.Zero, unavailable(ticker, err)
	}
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return decimal.Zero, unavailable(ticker, fmt.Errorf("decode: %w", err))
	}

	val, err := jsonpath.Get(o.path, doc)
	if err != nil {
		return decimal.Zero, unavailable(ticker, fmt.Errorf("path %q: %w", o.path, err))
	}
	// Wildcard and slice paths yield a list; keep the first answer.
	if list, ok := val.([]any); ok {
		if len(list) == 0 {
			return decimal.Zero, unavailable(ticker, fmt.Errorf("path %q: no match", o.path))
		}
		val = list[0]
	}

	p, err := toDecimal(val)
	if err != nil {
		return decimal.Zero, unavailable(ticker, fmt.Errorf("path %q: %w", o.path, err))
	}
	return checkPrice(ticker, p)
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case json.Number:
		return decimal.NewFromString(x.String())
	case float64:
		return decimal.NewFromFloat(x), nil
	case string:
		return parsePrice(x)
	case nil:
		return decimal.Zero, fmt.Errorf("null value")
	default:
		return decimal.Zero, fmt.Errorf("unexpected %T value", v)
	}
}

func quoteURL(template, ticker string) string {
	return strings.ReplaceAll(template, TickerPlaceholder, url.PathEscape(ticker))
}

// get performs a GET and returns the body of a 200 response.
func get(ctx context.Context, client *http.Client, addr string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "paper-ledger/1.0")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %v%v: %v", resp.Request.URL.Host, resp.Request.URL.Path, resp.Status)
	}
	return resp.Body, nil
}
