package oracle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-ledger/internal/metrics"
)

// DefaultQuoteTTL is how long a cached quote is served.
const DefaultQuoteTTL = 15 * time.Second

const quoteKeyPrefix = "paper:quote:"

// RedisCache is a read-through quote cache in front of another Oracle.
// Redis failures are logged and bypassed; they never make a price
// unavailable on their own.
type RedisCache struct {
	next Oracle
	rdb  redis.Cmdable
	ttl  time.Duration
}

// NewRedisCache wraps next with a Redis cache of the given TTL.
func NewRedisCache(next Oracle, rdb redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	return &RedisCache{next: next, rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Price(ctx context.Context, ticker string) (decimal.Decimal, error) {
	key := quoteKeyPrefix + ticker

	val, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if p, perr := decimal.NewFromString(val); perr == nil && p.IsPositive() {
			metrics.OracleRequests.WithLabelValues("cache_hit").Inc()
			return p, nil
		}
		slog.Warn("discarding bad cached quote", "ticker", ticker, "value", val)
	case errors.Is(err, redis.Nil):
	default:
		slog.Warn("redis quote cache read failed", "ticker", ticker, "err", err)
	}

	p, err := c.next.Price(ctx, ticker)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.rdb.Set(ctx, key, p.String(), c.ttl).Err(); err != nil {
		slog.Warn("redis quote cache write failed", "ticker", ticker, "err", err)
	}
	return p, nil
}

// Forget drops the cached quote for ticker.
func (c *RedisCache) Forget(ctx context.Context, ticker string) error {
	return c.rdb.Del(ctx, quoteKeyPrefix+ticker).Err()
}
