// Package app wires configuration into a running ledger: store, oracle
// chain, engine and valuer.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-ledger/internal/config"
	"github.com/atmx/paper-ledger/internal/oracle"
	"github.com/atmx/paper-ledger/internal/portfolio"
	"github.com/atmx/paper-ledger/internal/server"
	"github.com/atmx/paper-ledger/internal/store"
	"github.com/atmx/paper-ledger/internal/tracing"
	"github.com/atmx/paper-ledger/internal/trade"
)

// App is an opened ledger with everything needed to trade against it.
type App struct {
	Config *config.Config
	Store  store.Store
	Oracle oracle.Oracle
	Engine *trade.Engine
	Valuer *portfolio.Valuer

	closers []func() error
}

// Open builds an App from cfg. The caller must Close it.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	initial, err := cfg.InitialBalance()
	if err != nil {
		return nil, err
	}
	st, err := OpenStore(ctx, cfg.Store, initial)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	o, closeOracle, err := OpenOracle(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Oracle = o
	a.closers = append(a.closers, closeOracle)

	a.Engine = trade.NewEngine(st, o,
		trade.WithRetryPolicy(RetryPolicy(cfg.Engine.Retry)),
		trade.WithAtomic(cfg.Engine.Atomic),
	)
	a.Valuer = portfolio.NewValuer(st, o, portfolio.DefaultFanOut)

	slog.Debug("ledger opened",
		"driver", cfg.Store.Driver,
		"oracle", cfg.Oracle.Kind,
		"atomic", a.Engine.Atomic(),
		"cache_ttl", cfg.Store.CacheTTL,
	)
	return a, nil
}

// Close releases the store and oracle connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// TradeContext bounds one trade by engine.trade_timeout.
func (a *App) TradeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := a.Config.Engine.TradeTimeout; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// Serve runs the HTTP API until ctx is done. Orders go through a
// dispatcher whose results are pushed to WebSocket clients.
func (a *App) Serve(ctx context.Context) error {
	hub := server.NewWSHub()
	orders := trade.NewDispatcher(a.Engine, a.Config.Engine.Workers, trade.OnResult(hub.TradeDone))
	defer orders.Close()

	srv := server.New(server.Deps{
		Engine: a.Engine,
		Orders: orders,
		Valuer: a.Valuer,
		Ledger: a.Store,
		Hub:    hub,
	}, a.Config.Engine.TradeTimeout)
	return srv.ListenAndServe(ctx, a.Config.Server.Addr, a.Config.Server.RefreshInterval)
}

// RetryPolicy converts the configured retry settings.
func RetryPolicy(c config.RetryConfig) trade.RetryPolicy {
	return trade.RetryPolicy{
		MaxAttempts:   c.Attempts,
		BaseDelay:     c.BaseDelay,
		BackoffFactor: c.Factor,
		MaxDelay:      c.MaxDelay,
	}
}

// OpenStore opens the configured backend, wrapped in the read cache when
// cache_ttl is positive.
func OpenStore(ctx context.Context, c config.StoreConfig, initial decimal.Decimal) (store.Store, error) {
	var st store.Store
	switch c.Driver {
	case config.DriverSQLite:
		s, err := store.OpenSQLite(ctx, c.Path, initial)
		if err != nil {
			return nil, err
		}
		slog.Debug("using SQLite ledger", "path", c.Path)
		st = s
	case config.DriverPostgres:
		s, err := store.OpenPostgres(ctx, c.DSN, initial)
		if err != nil {
			return nil, err
		}
		slog.Debug("connected to PostgreSQL")
		st = s
	case config.DriverMemory:
		slog.Warn("using in-memory store (data will not persist)")
		st = store.NewMemoryStore(initial)
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Driver)
	}

	if c.CacheTTL > 0 {
		st = store.NewCached(st, c.CacheTTL)
	}
	return st, nil
}

// OpenOracle builds the configured price source, adds the Redis quote cache
// when a Redis URL is set, and instruments the result. The returned
// function closes the Redis client.
func OpenOracle(cfg *config.Config) (oracle.Oracle, func() error, error) {
	c := cfg.Oracle
	noop := func() error { return nil }
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = oracle.DefaultTimeout
	}
	client := &http.Client{Timeout: timeout}

	var (
		base oracle.Oracle
		err  error
	)
	switch c.Kind {
	case config.OracleStatic:
		prices, perr := cfg.StaticPrices()
		if perr != nil {
			return nil, noop, perr
		}
		base = oracle.NewStatic(prices)
	case config.OracleHTTPJSON:
		base, err = oracle.NewHTTPJSON(client, c.URL, c.JSONPath)
	case config.OracleHTML:
		base, err = oracle.NewHTML(client, c.URL, c.Selector)
	case config.OracleKite:
		base, err = oracle.NewKite(oracle.KiteParams{
			APIKey:      c.Kite.APIKey,
			AccessToken: c.Kite.AccessToken,
			Exchange:    c.Kite.Exchange,
		})
	default:
		return nil, noop, fmt.Errorf("unknown oracle kind %q", c.Kind)
	}
	if err != nil {
		return nil, noop, err
	}

	closer := noop
	if c.RedisURL != "" {
		opt, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, noop, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		closer = rdb.Close
		ttl := c.CacheTTL
		if ttl <= 0 {
			ttl = oracle.DefaultQuoteTTL
		}
		base = oracle.NewRedisCache(base, rdb, ttl)
		slog.Debug("Redis quote cache enabled", "ttl", ttl)
	}

	return oracle.NewInstrumented(base, tracing.Tracer("github.com/atmx/paper-ledger/internal/oracle")), closer, nil
}
