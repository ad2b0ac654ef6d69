// Package cache provides a Redis-backed read-through cache for the
// store-resident market state the prediction recorder consumes every scan.
// When Redis is unavailable the cache degrades to direct database reads and
// probes for recovery on an interval.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"hyperliquid-copy-bot/config"
	"hyperliquid-copy-bot/internal/database"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Key formats for cached market state.
const (
	keyCandle     = "market:candle:%s:%s"
	keyIndicators = "market:indicators:%s:%s"
	keyFunding    = "market:funding:%s"
	keyRecent     = "market:candles:%s:%s:%d"
)

// MarketSource is the read surface the recorder needs. Both database.DB and
// MarketCache satisfy it.
type MarketSource interface {
	LatestCandle(ctx context.Context, symbol, timeframe string) (*database.Candle, error)
	RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]database.Candle, error)
	LatestIndicators(ctx context.Context, symbol, timeframe string) (*database.IndicatorBundle, error)
	LatestFundingRate(ctx context.Context, symbol string) (*database.FundingRate, error)
	LatestHourlyClose(ctx context.Context, symbol string) (float64, error)
}

// MarketCache is a read-through cache over a database-backed MarketSource.
type MarketCache struct {
	client *redis.Client
	db     MarketSource
	ttl    time.Duration
	log    zerolog.Logger

	mu            sync.Mutex
	healthy       bool
	failureCount  int
	lastCheck     time.Time
	maxFailures   int
	checkInterval time.Duration
}

// NewMarketCache creates the cache and verifies Redis connectivity. A failed
// initial ping is not fatal; the cache starts unhealthy and recovers later.
func NewMarketCache(cfg config.RedisConfig, db MarketSource, logger zerolog.Logger) *MarketCache {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	mc := &MarketCache{
		client:        client,
		db:            db,
		ttl:           cfg.TTL,
		log:           logger,
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable at startup, market cache degraded to database reads")
	} else {
		mc.healthy = true
	}
	return mc
}

// Close releases the Redis client.
func (c *MarketCache) Close() error {
	return c.client.Close()
}

// Healthy reports whether Redis is currently usable.
func (c *MarketCache) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// ==================== MARKET SOURCE ====================

func (c *MarketCache) LatestCandle(ctx context.Context, symbol, timeframe string) (*database.Candle, error) {
	key := fmt.Sprintf(keyCandle, symbol, timeframe)
	var candle database.Candle
	if c.get(ctx, key, &candle) {
		return &candle, nil
	}

	fresh, err := c.db.LatestCandle(ctx, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, fresh)
	return fresh, nil
}

func (c *MarketCache) RecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]database.Candle, error) {
	key := fmt.Sprintf(keyRecent, symbol, timeframe, limit)
	var candles []database.Candle
	if c.get(ctx, key, &candles) {
		return candles, nil
	}

	fresh, err := c.db.RecentCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, fresh)
	return fresh, nil
}

func (c *MarketCache) LatestIndicators(ctx context.Context, symbol, timeframe string) (*database.IndicatorBundle, error) {
	key := fmt.Sprintf(keyIndicators, symbol, timeframe)
	var bundle database.IndicatorBundle
	if c.get(ctx, key, &bundle) {
		return &bundle, nil
	}

	fresh, err := c.db.LatestIndicators(ctx, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, fresh)
	return fresh, nil
}

func (c *MarketCache) LatestFundingRate(ctx context.Context, symbol string) (*database.FundingRate, error) {
	key := fmt.Sprintf(keyFunding, symbol)
	var rate database.FundingRate
	if c.get(ctx, key, &rate) {
		return &rate, nil
	}

	fresh, err := c.db.LatestFundingRate(ctx, symbol)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, fresh)
	return fresh, nil
}

func (c *MarketCache) LatestHourlyClose(ctx context.Context, symbol string) (float64, error) {
	candle, err := c.LatestCandle(ctx, symbol, "1h")
	if err != nil {
		return 0, err
	}
	return candle.Close, nil
}

// ==================== REDIS PLUMBING ====================

// get returns true when the key was present and decoded. Any Redis failure
// counts toward the unhealthy threshold and reads fall through to the
// database.
func (c *MarketCache) get(ctx context.Context, key string, out any) bool {
	if !c.usable() {
		return false
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.markFailure(err)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false
	}
	c.markSuccess()
	return true
}

func (c *MarketCache) set(ctx context.Context, key string, value any) {
	if !c.usable() {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.markFailure(err)
		return
	}
	c.markSuccess()
}

// usable returns whether Redis should be attempted, probing for recovery
// once per checkInterval while unhealthy.
func (c *MarketCache) usable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthy {
		return true
	}
	if time.Since(c.lastCheck) < c.checkInterval {
		return false
	}
	c.lastCheck = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return false
	}
	c.healthy = true
	c.failureCount = 0
	c.log.Info().Msg("redis recovered, market cache re-enabled")
	return true
}

func (c *MarketCache) markFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	if c.healthy && c.failureCount >= c.maxFailures {
		c.healthy = false
		c.lastCheck = time.Now()
		c.log.Warn().Err(err).Msg("redis failing, market cache degraded to database reads")
	}
}

func (c *MarketCache) markSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount = 0
}
