package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestStatic(t *testing.T) {
	ctx := context.Background()
	o := NewStatic(map[string]decimal.Decimal{"aapl": d("150")})

	p, err := o.Price(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "150", p.String())

	o.Set("MSFT", d("0"))
	_, err = o.Price(ctx, "MSFT")
	assert.ErrorIs(t, err, ErrUnavailable, "zero price is unavailable")

	o.Remove("AAPL")
	_, err = o.Price(ctx, "AAPL")
	assert.ErrorIs(t, err, ErrUnavailable)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	o.Set("AAPL", d("1"))
	_, err = o.Price(cancelled, "AAPL")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"150.25", "150.25"},
		{" $1,234.50 ", "1234.5"},
		{"1234,5 €", "1234.5"},
		{"₹ 1,412.95", "1412.95"},
	}
	for _, tt := range tests {
		got, err := parsePrice(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.String(), tt.in)
	}

	_, err := parsePrice("n/a")
	assert.Error(t, err)
}

func TestHTTPJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote/AAPL":
			fmt.Fprint(w, `{"quote":{"symbol":"AAPL","price":189.9876543210}}`)
		case "/quote/STR":
			fmt.Fprint(w, `{"quote":{"symbol":"STR","price":"1,001.50"}}`)
		case "/quote/NULL":
			fmt.Fprint(w, `{"quote":{"symbol":"NULL","price":null}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	o, err := NewHTTPJSON(srv.Client(), srv.URL+"/quote/{ticker}", "$.quote.price")
	require.NoError(t, err)
	ctx := context.Background()

	p, err := o.Price(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "189.987654321", p.String(), "json numbers are read exactly")

	p, err = o.Price(ctx, "STR")
	require.NoError(t, err)
	assert.Equal(t, "1001.5", p.String())

	_, err = o.Price(ctx, "NULL")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = o.Price(ctx, "MISSING")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPJSONListResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"series":{"data":[[1,10.5],[2,11.25]]}}`)
	}))
	defer srv.Close()

	o, err := NewHTTPJSON(nil, srv.URL+"/{ticker}", "$.series.data[-1:][1]")
	require.NoError(t, err)

	p, err := o.Price(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, "11.25", p.String())
}

func TestNewHTTPJSONValidates(t *testing.T) {
	_, err := NewHTTPJSON(nil, "http://example.com/quote", "$.price")
	assert.Error(t, err)

	_, err = NewHTTPJSON(nil, "http://example.com/{ticker}", "$.price")
	assert.NoError(t, err)
}

func TestHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/q/INFY":
			fmt.Fprint(w, `<html><body><div class="quote"><span class="last">₹1,412.95</span></div></body></html>`)
		case "/q/ATTR":
			fmt.Fprint(w, `<html><body><span class="last" data-value="99.5">ninety-nine</span></body></html>`)
		default:
			fmt.Fprint(w, `<html><body><p>no quote</p></body></html>`)
		}
	}))
	defer srv.Close()

	o, err := NewHTML(srv.Client(), srv.URL+"/q/{ticker}", "span.last")
	require.NoError(t, err)
	ctx := context.Background()

	p, err := o.Price(ctx, "INFY")
	require.NoError(t, err)
	assert.Equal(t, "1412.95", p.String())

	p, err = o.Price(ctx, "ATTR")
	require.NoError(t, err)
	assert.Equal(t, "99.5", p.String())

	_, err = o.Price(ctx, "OTHER")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestKite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("i") == "NSE:INFY" {
			fmt.Fprint(w, `{"status":"success","data":{"NSE:INFY":{"instrument_token":408065,"last_price":1412.95}}}`)
			return
		}
		fmt.Fprint(w, `{"status":"success","data":{}}`)
	}))
	defer srv.Close()

	o, err := NewKite(KiteParams{APIKey: "key", AccessToken: "token", BaseURI: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()

	p, err := o.Price(ctx, "INFY")
	require.NoError(t, err)
	assert.Equal(t, "1412.95", p.String())

	_, err = o.Price(ctx, "BSE:NOPE")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = NewKite(KiteParams{APIKey: "key"})
	assert.Error(t, err)
}

func TestKiteInstrument(t *testing.T) {
	k, err := NewKite(KiteParams{APIKey: "key", AccessToken: "token", Exchange: "bse"})
	require.NoError(t, err)
	assert.Equal(t, "BSE:INFY", k.instrument("INFY"))
	assert.Equal(t, "NSE:M&M", k.instrument("NSE:M&M"))
}

func TestInstrumentedRecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	o := NewInstrumented(NewStatic(map[string]decimal.Decimal{"AAPL": d("150")}), tp.Tracer("test"))
	ctx := context.Background()

	_, err := o.Price(ctx, "AAPL")
	require.NoError(t, err)
	_, err = o.Price(ctx, "NOPE")
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "oracle.Price", spans[0].Name())
	assert.Equal(t, otelcodes.Unset, spans[0].Status().Code)
	assert.Equal(t, otelcodes.Error, spans[1].Status().Code)
}

// countingOracle counts calls and can be switched to fail.
type countingOracle struct {
	calls int
	fail  bool
}

func (c *countingOracle) Price(_ context.Context, ticker string) (decimal.Decimal, error) {
	c.calls++
	if c.fail {
		return decimal.Zero, unavailable(ticker, errors.New("down"))
	}
	return d("42.5"), nil
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("PAPER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PAPER_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())

	src := &countingOracle{}
	c := NewRedisCache(src, rdb, time.Minute)
	ticker := fmt.Sprintf("TEST%d", time.Now().UnixNano()%100000)
	t.Cleanup(func() { _ = c.Forget(ctx, ticker) })

	p, err := c.Price(ctx, ticker)
	require.NoError(t, err)
	assert.Equal(t, "42.5", p.String())

	src.fail = true
	p, err = c.Price(ctx, ticker)
	require.NoError(t, err, "served from cache")
	assert.Equal(t, "42.5", p.String())
	assert.Equal(t, 1, src.calls)

	require.NoError(t, c.Forget(ctx, ticker))
	_, err = c.Price(ctx, ticker)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRedisCacheBypassesBrokenRedis(t *testing.T) {
	// Nothing listens on this port; reads and writes fail fast.
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	src := &countingOracle{}
	p, err := NewRedisCache(src, rdb, time.Minute).Price(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "42.5", p.String())
	assert.Equal(t, 1, src.calls)
}
