// Package config loads papertrader settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/paper-ledger/internal/logging"
	"github.com/atmx/paper-ledger/internal/oracle"
	"github.com/atmx/paper-ledger/internal/ticker"
	"github.com/atmx/paper-ledger/internal/tracing"
)

// DefaultPath is the config file looked for in the working directory.
const DefaultPath = "papertrader.yaml"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Oracle kinds.
const (
	OracleStatic   = "static"
	OracleHTTPJSON = "http_json"
	OracleHTML     = "html"
	OracleKite     = "kite"
)

// Config represents the complete papertrader configuration.
type Config struct {
	Account AccountConfig  `yaml:"account"`
	Store   StoreConfig    `yaml:"store"`
	Oracle  OracleConfig   `yaml:"oracle"`
	Engine  EngineConfig   `yaml:"engine"`
	Server  ServerConfig   `yaml:"server"`
	Log     logging.Config `yaml:"log"`
	Tracing tracing.Config `yaml:"tracing"`
}

// AccountConfig seeds a fresh ledger.
type AccountConfig struct {
	InitialBalance string `yaml:"initial_balance"` // decimal string
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	Driver   string        `yaml:"driver"` // sqlite, postgres or memory
	Path     string        `yaml:"path,omitempty"`
	DSN      string        `yaml:"dsn,omitempty"`
	CacheTTL time.Duration `yaml:"cache_ttl"` // 0 disables the read cache
}

// OracleConfig selects where prices come from.
type OracleConfig struct {
	Kind     string            `yaml:"kind"`
	Prices   map[string]string `yaml:"prices,omitempty"` // static
	URL      string            `yaml:"url,omitempty"`    // http_json, html; {ticker} is substituted
	JSONPath string            `yaml:"json_path,omitempty"`
	Selector string            `yaml:"selector,omitempty"`
	Kite     KiteConfig        `yaml:"kite,omitempty"`
	RedisURL string            `yaml:"redis_url,omitempty"`
	CacheTTL time.Duration     `yaml:"cache_ttl"`
	Timeout  time.Duration     `yaml:"timeout"`
}

// KiteConfig holds Zerodha Kite Connect credentials.
type KiteConfig struct {
	APIKey      string `yaml:"api_key,omitempty"`
	AccessToken string `yaml:"access_token,omitempty"`
	Exchange    string `yaml:"exchange,omitempty"`
}

// EngineConfig tunes trade execution.
type EngineConfig struct {
	Atomic       bool          `yaml:"atomic"`
	Retry        RetryConfig   `yaml:"retry"`
	TradeTimeout time.Duration `yaml:"trade_timeout"`
	Workers      int           `yaml:"workers"`
}

// RetryConfig mirrors trade.RetryPolicy.
type RetryConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
	Factor    float64       `yaml:"factor"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

// ServerConfig configures `papertrader serve`.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	RefreshInterval time.Duration `yaml:"refresh_interval"` // 0 disables account pushes
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Account: AccountConfig{InitialBalance: "100000"},
		Store: StoreConfig{
			Driver:   DriverSQLite,
			Path:     "trading_simulation.db",
			CacheTTL: 5 * time.Second,
		},
		Oracle: OracleConfig{
			Kind:     OracleHTTPJSON,
			URL:      "https://query1.finance.yahoo.com/v8/finance/chart/" + oracle.TickerPlaceholder,
			JSONPath: "$.chart.result[0].meta.regularMarketPrice",
			CacheTTL: oracle.DefaultQuoteTTL,
			Timeout:  oracle.DefaultTimeout,
		},
		Engine: EngineConfig{
			Atomic: true,
			Retry: RetryConfig{
				Attempts:  3,
				BaseDelay: 200 * time.Millisecond,
				Factor:    2,
				MaxDelay:  2 * time.Second,
			},
			TradeTimeout: 30 * time.Second,
			Workers:      4,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			RefreshInterval: 10 * time.Second,
		},
		Log: logging.Config{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path loads the defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from the environment. DATABASE_URL switches
// the store to postgres unless PAPER_STORE_DRIVER says otherwise.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv("PAPER_DB_PATH"); ok {
		c.Store.Path = v
	}
	if v, ok := os.LookupEnv("DATABASE_URL"); ok && v != "" {
		c.Store.DSN = v
		c.Store.Driver = DriverPostgres
	}
	if v, ok := os.LookupEnv("PAPER_STORE_DRIVER"); ok {
		c.Store.Driver = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv("REDIS_URL"); ok {
		c.Oracle.RedisURL = v
	}
	if v, ok := os.LookupEnv("PAPER_ORACLE"); ok {
		c.Oracle.Kind = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv("KITE_API_KEY"); ok {
		c.Oracle.Kite.APIKey = v
	}
	if v, ok := os.LookupEnv("KITE_ACCESS_TOKEN"); ok {
		c.Oracle.Kite.AccessToken = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv("LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		c.Server.Addr = ":" + v
	}
	if v, ok := os.LookupEnv("PAPER_TRACING"); ok {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PAPER_TRACING: %w", err)
		}
		c.Tracing.Enabled = on
	}
	return nil
}

// InitialBalance parses account.initial_balance.
func (c *Config) InitialBalance() (decimal.Decimal, error) {
	b, err := decimal.NewFromString(strings.TrimSpace(c.Account.InitialBalance))
	if err != nil {
		return decimal.Zero, fmt.Errorf("account.initial_balance: %w", err)
	}
	if b.IsNegative() {
		return decimal.Zero, errors.New("account.initial_balance must not be negative")
	}
	return b, nil
}

// StaticPrices parses oracle.prices.
func (c *Config) StaticPrices() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(c.Oracle.Prices))
	for raw, s := range c.Oracle.Prices {
		t, err := ticker.Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("oracle.prices: %w", err)
		}
		p, err := decimal.NewFromString(s)
		if err != nil || !p.IsPositive() {
			return nil, fmt.Errorf("oracle.prices.%s must be a positive number, got %q", raw, s)
		}
		out[t] = p
	}
	return out, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if _, err := c.InitialBalance(); err != nil {
		return err
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn (or DATABASE_URL) is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver must be 'sqlite', 'postgres' or 'memory', got '%s'", c.Store.Driver)
	}
	if c.Store.CacheTTL < 0 {
		return errors.New("store.cache_ttl must not be negative")
	}

	switch c.Oracle.Kind {
	case OracleStatic:
		if _, err := c.StaticPrices(); err != nil {
			return err
		}
	case OracleHTTPJSON:
		if !strings.Contains(c.Oracle.URL, oracle.TickerPlaceholder) {
			return fmt.Errorf("oracle.url must contain %s", oracle.TickerPlaceholder)
		}
		if c.Oracle.JSONPath == "" {
			return errors.New("oracle.json_path is required for the http_json oracle")
		}
	case OracleHTML:
		if !strings.Contains(c.Oracle.URL, oracle.TickerPlaceholder) {
			return fmt.Errorf("oracle.url must contain %s", oracle.TickerPlaceholder)
		}
		if c.Oracle.Selector == "" {
			return errors.New("oracle.selector is required for the html oracle")
		}
	case OracleKite:
		if c.Oracle.Kite.APIKey == "" || c.Oracle.Kite.AccessToken == "" {
			return errors.New("oracle.kite.api_key and oracle.kite.access_token are required for the kite oracle")
		}
	default:
		return fmt.Errorf("oracle.kind must be 'static', 'http_json', 'html' or 'kite', got '%s'", c.Oracle.Kind)
	}
	if c.Oracle.CacheTTL < 0 || c.Oracle.Timeout < 0 {
		return errors.New("oracle durations must not be negative")
	}

	r := c.Engine.Retry
	if r.Attempts < 1 {
		return errors.New("engine.retry.attempts must be at least 1")
	}
	if r.BaseDelay < 0 || r.MaxDelay < 0 || r.Factor < 0 {
		return errors.New("engine.retry delays and factor must not be negative")
	}
	if c.Engine.TradeTimeout < 0 {
		return errors.New("engine.trade_timeout must not be negative")
	}
	if c.Engine.Workers < 1 {
		return errors.New("engine.workers must be at least 1")
	}

	if c.Server.RefreshInterval < 0 {
		return errors.New("server.refresh_interval must not be negative")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format must be 'json' or 'text', got '%s'", c.Log.Format)
	}
	return nil
}
