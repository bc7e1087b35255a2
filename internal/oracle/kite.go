package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"github.com/atmx/paper-ledger/internal/ticker"
)

// DefaultExchange qualifies bare tickers for the Kite LTP API.
const DefaultExchange = "NSE"

// Kite reads last traded prices from the Zerodha Kite Connect API.
type Kite struct {
	kc       *kiteconnect.Client
	exchange string
}

// KiteParams configures a Kite oracle. BaseURI is only set in tests.
type KiteParams struct {
	APIKey      string
	AccessToken string
	Exchange    string
	BaseURI     string
}

// NewKite creates a Kite oracle.
func NewKite(p KiteParams) (*Kite, error) {
	if p.APIKey == "" || p.AccessToken == "" {
		return nil, fmt.Errorf("oracle: kite requires an api key and an access token")
	}
	kc := kiteconnect.New(p.APIKey)
	kc.SetAccessToken(p.AccessToken)
	if p.BaseURI != "" {
		kc.SetBaseURI(p.BaseURI)
	}
	exchange := p.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Kite{kc: kc, exchange: strings.ToUpper(exchange)}, nil
}

// instrument turns "INFY" into "NSE:INFY" and leaves qualified symbols alone.
func (k *Kite) instrument(t string) string {
	exchange, symbol := ticker.Split(t)
	if exchange == "" {
		exchange = k.exchange
	}
	return exchange + ":" + symbol
}

func (k *Kite) Price(ctx context.Context, ticker string) (decimal.Decimal, error) {
	inst := k.instrument(ticker)

	type ltpResult struct {
		quotes kiteconnect.QuoteLTP
		err    error
	}
	// The client has no context support, so the call is raced against ctx.
	done := make(chan ltpResult, 1)
	go func() {
		q, err := k.kc.GetLTP(inst)
		done <- ltpResult{q, err}
	}()

	var res ltpResult
	select {
	case <-ctx.Done():
		return decimal.Zero, unavailable(ticker, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return decimal.Zero, unavailable(ticker, res.err)
	}

	q, ok := res.quotes[inst]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s: no ltp for %s", ErrUnavailable, ticker, inst)
	}
	return checkPrice(ticker, decimal.NewFromFloat(q.LastPrice))
}
