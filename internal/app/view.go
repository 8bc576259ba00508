package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
	"cryptoSignalBot/internal/scoring"
)

type cachedCandles struct {
	candles   []domain.Candle
	fetchedAt time.Time
}

type cachedSnapshot struct {
	snapshot  *domain.MarketSnapshot
	fetchedAt time.Time
}

// viewCache shares market data between profiles within one scan cycle.
// Concurrent requests for the same key wait for a single fetch. Cached
// values are read-only for callers.
type viewCache struct {
	feed ports.MarketDataFeed
	ttl  time.Duration
	now  func() time.Time

	group     singleflight.Group
	mu        sync.Mutex
	candles   map[string]cachedCandles
	snapshots map[string]cachedSnapshot
}

func newViewCache(feed ports.MarketDataFeed, ttl time.Duration) *viewCache {
	return &viewCache{
		feed:      feed,
		ttl:       ttl,
		now:       time.Now,
		candles:   make(map[string]cachedCandles),
		snapshots: make(map[string]cachedSnapshot),
	}
}

// View assembles the market view of one symbol for a mode.
func (c *viewCache) View(ctx context.Context, symbol string, mc config.ModeConfig) (scoring.MarketView, error) {
	snap, err := c.Snapshot(ctx, symbol)
	if err != nil {
		return scoring.MarketView{}, err
	}
	entry, err := c.Candles(ctx, symbol, mc.EntryTimeframe, mc.CandleLimit)
	if err != nil {
		return scoring.MarketView{}, err
	}
	trend, err := c.Candles(ctx, symbol, mc.TrendTimeframe, mc.CandleLimit)
	if err != nil {
		return scoring.MarketView{}, err
	}
	return scoring.MarketView{Symbol: symbol, Snapshot: snap, EntryCandles: entry, TrendCandles: trend}, nil
}

// Candles returns cached candles or fetches them once.
func (c *viewCache) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	key := fmt.Sprintf("candles|%s|%s|%d", symbol, timeframe, limit)

	c.mu.Lock()
	if hit, ok := c.candles[key]; ok && c.now().Sub(hit.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return hit.candles, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		candles, err := c.feed.LatestCandles(ctx, symbol, timeframe, limit)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.candles[key] = cachedCandles{candles: candles, fetchedAt: c.now()}
		c.mu.Unlock()
		return candles, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s %s candles: %w", symbol, timeframe, err)
	}
	return v.([]domain.Candle), nil
}

// Snapshot returns a cached snapshot or fetches it once.
func (c *viewCache) Snapshot(ctx context.Context, symbol string) (*domain.MarketSnapshot, error) {
	key := "snapshot|" + symbol

	c.mu.Lock()
	if hit, ok := c.snapshots[key]; ok && c.now().Sub(hit.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return hit.snapshot, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		snap, err := c.feed.Snapshot(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, fmt.Errorf("%w: empty snapshot", ports.ErrDataGap)
		}
		c.mu.Lock()
		c.snapshots[key] = cachedSnapshot{snapshot: snap, fetchedAt: c.now()}
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s snapshot: %w", symbol, err)
	}
	return v.(*domain.MarketSnapshot), nil
}
