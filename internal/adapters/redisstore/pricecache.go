package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"

	"github.com/go-redis/redis/v8"
	"github.com/tidwall/gjson"
)

const defaultPrefix = "signalbot:price:"

// Config holds the settings of the redis price cache.
type Config struct {
	URL    string        // redis://[:password@]host:port/db
	Prefix string        // Key prefix, defaults to signalbot:price:
	TTL    time.Duration // Expiry of a stored price; 0 keeps it forever
	Logger ports.Logger
}

// PriceCache stores the last traded price of each symbol in redis so a
// restarted process can resume monitoring before the first tick arrives.
type PriceCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger ports.Logger
}

// NewPriceCache connects to redis and verifies the connection.
func NewPriceCache(ctx context.Context, cfg Config) (*PriceCache, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for redis price cache", ports.ErrConfigurationError)
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redis url: %w", ports.ErrConfigurationError, err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w: %w", ports.ErrConnectionFailed, err)
	}

	cfg.Logger.Info(ctx, "Redis price cache connected", map[string]interface{}{"addr": opts.Addr, "db": opts.DB})
	return newPriceCache(client, cfg), nil
}

func newPriceCache(client *redis.Client, cfg Config) *PriceCache {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &PriceCache{client: client, prefix: prefix, ttl: cfg.TTL, logger: cfg.Logger}
}

func (c *PriceCache) key(symbol string) string {
	return c.prefix + strings.ToUpper(symbol)
}

// SetLastPrice stores tick as {"price":..,"ts":..}.
func (c *PriceCache) SetLastPrice(ctx context.Context, tick domain.PriceTick) error {
	op := "PriceCache.SetLastPrice"
	if err := c.client.Set(ctx, c.key(tick.Symbol), encodeTick(tick), c.ttl).Err(); err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrUpdateFailed, err)
	}
	return nil
}

// LastPrice returns ports.ErrNotFound when the symbol has no stored price.
func (c *PriceCache) LastPrice(ctx context.Context, symbol string) (domain.PriceTick, error) {
	op := "PriceCache.LastPrice"
	raw, err := c.client.Get(ctx, c.key(symbol)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PriceTick{}, fmt.Errorf("%s: %w: no price for %s", op, ports.ErrNotFound, symbol)
		}
		return domain.PriceTick{}, fmt.Errorf("%s failed: %w: %w", op, ports.ErrQueryFailed, err)
	}
	tick, err := decodeTick(symbol, raw)
	if err != nil {
		c.logger.Warn(ctx, op+": Discarding malformed cache entry", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return domain.PriceTick{}, fmt.Errorf("%s: %w: %v", op, ports.ErrNotFound, err)
	}
	return tick, nil
}

// Close releases the redis connection pool.
func (c *PriceCache) Close() error {
	return c.client.Close()
}

func encodeTick(tick domain.PriceTick) string {
	return `{"price":` + strconv.FormatFloat(tick.Price, 'f', -1, 64) +
		`,"ts":` + strconv.FormatInt(tick.Timestamp.UnixMilli(), 10) + `}`
}

func decodeTick(symbol, raw string) (domain.PriceTick, error) {
	if !gjson.Valid(raw) {
		return domain.PriceTick{}, errors.New("invalid json")
	}
	fields := gjson.GetMany(raw, "price", "ts")
	if !fields[0].Exists() || !fields[1].Exists() {
		return domain.PriceTick{}, errors.New("missing price or ts")
	}
	price := fields[0].Float()
	if price <= 0 {
		return domain.PriceTick{}, fmt.Errorf("non-positive price %v", price)
	}
	return domain.PriceTick{
		Symbol:    strings.ToUpper(symbol),
		Price:     price,
		Timestamp: time.UnixMilli(fields[1].Int()),
	}, nil
}

// MemoryCache is the in-process fallback used when no redis URL is configured.
type MemoryCache struct {
	mu     sync.RWMutex
	prices map[string]domain.PriceTick
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{prices: make(map[string]domain.PriceTick)}
}

func (m *MemoryCache) SetLastPrice(ctx context.Context, tick domain.PriceTick) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[strings.ToUpper(tick.Symbol)] = tick
	return nil
}

func (m *MemoryCache) LastPrice(ctx context.Context, symbol string) (domain.PriceTick, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tick, ok := m.prices[strings.ToUpper(symbol)]
	if !ok {
		return domain.PriceTick{}, fmt.Errorf("MemoryCache.LastPrice: %w: no price for %s", ports.ErrNotFound, symbol)
	}
	return tick, nil
}
