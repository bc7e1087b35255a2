package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/paper-ledger/internal/config"
	"github.com/atmx/paper-ledger/internal/oracle"
	"github.com/atmx/paper-ledger/internal/store"
)

func staticConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Driver = config.DriverMemory
	cfg.Oracle.Kind = config.OracleStatic
	cfg.Oracle.Prices = map[string]string{"AAPL": "150"}
	return cfg
}

func TestOpenAndTrade(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, staticConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.Engine.Atomic(), "cached memory store delegates transactions")

	tctx, cancel := a.TradeContext(ctx)
	defer cancel()
	res := a.Engine.ExecuteBuy(tctx, "AAPL", 10)
	require.True(t, res.Success, res.Message)

	sum, err := a.Valuer.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "98500", sum.Balance.String())
	assert.Equal(t, "1500", sum.PortfolioValue.String())
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	initial := decimal.NewFromInt(500)

	st, err := OpenStore(ctx, config.StoreConfig{
		Driver:   config.DriverSQLite,
		Path:     filepath.Join(t.TempDir(), "ledger.db"),
		CacheTTL: config.Default().Store.CacheTTL,
	}, initial)
	require.NoError(t, err)
	defer st.Close()

	cached, ok := st.(*store.Cached)
	require.True(t, ok)
	assert.IsType(t, &store.SQLiteStore{}, cached.Primary())
	b, err := st.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "500", b.String())

	st2, err := OpenStore(ctx, config.StoreConfig{Driver: config.DriverMemory}, initial)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, st2, "no cache when ttl is zero")

	_, err = OpenStore(ctx, config.StoreConfig{Driver: "mongo"}, initial)
	assert.Error(t, err)
}

func TestOpenOracleHTTPJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote/MSFT", r.URL.Path)
		w.Write([]byte(`{"price": 410.5}`))
	}))
	defer ts.Close()

	cfg := config.Default()
	cfg.Oracle.URL = ts.URL + "/quote/" + oracle.TickerPlaceholder
	cfg.Oracle.JSONPath = "$.price"

	o, closeFn, err := OpenOracle(cfg)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &oracle.Instrumented{}, o)

	p, err := o.Price(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, "410.5", p.String())
}

func TestOpenOracleErrors(t *testing.T) {
	cfg := staticConfig()
	cfg.Oracle.Kind = "crystal_ball"
	_, _, err := OpenOracle(cfg)
	assert.Error(t, err)

	cfg = staticConfig()
	cfg.Oracle.RedisURL = "not a url"
	_, _, err = OpenOracle(cfg)
	assert.Error(t, err)
}

func TestOpenOracleWithRedis(t *testing.T) {
	cfg := staticConfig()
	cfg.Oracle.RedisURL = "redis://localhost:6379/0"

	o, closeFn, err := OpenOracle(cfg)
	require.NoError(t, err)
	assert.NoError(t, closeFn())
	assert.NotNil(t, o)
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy(config.Default().Engine.Retry)
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, float64(2), p.BackoffFactor)
}
