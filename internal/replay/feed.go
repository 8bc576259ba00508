package replay

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// MarketConditions are the static snapshot fields a candle file cannot supply.
type MarketConditions struct {
	SpreadPct      float64
	DepthUSD       float64 // Per side
	FundingRatePct float64
}

// Feed serves historical candles as if the cursor were the present.
// Higher timeframes are resampled from the base series; the bucket holding
// the cursor is returned as a forming candle.
type Feed struct {
	symbol     string
	base       []domain.Candle
	baseStep   time.Duration
	conditions MarketConditions

	mu        sync.RWMutex
	cursor    time.Time
	resampled map[string][]domain.Candle
}

// NewFeed validates the base series: one symbol, sorted, fixed interval.
func NewFeed(candles []domain.Candle, conditions MarketConditions) (*Feed, error) {
	if len(candles) < 2 {
		return nil, fmt.Errorf("%w: replay needs at least two candles", ports.ErrDataGap)
	}
	step, err := ParseInterval(candles[0].Interval)
	if err != nil {
		return nil, err
	}
	symbol := candles[0].Symbol
	for i := 1; i < len(candles); i++ {
		if candles[i].Symbol != symbol {
			return nil, fmt.Errorf("%w: mixed symbols %s and %s", ports.ErrInvalidRequest, symbol, candles[i].Symbol)
		}
		if !candles[i].OpenTime.After(candles[i-1].OpenTime) {
			return nil, fmt.Errorf("%w: candles not strictly ordered at %s", ports.ErrInvalidRequest, candles[i].OpenTime)
		}
	}
	base := make([]domain.Candle, len(candles))
	copy(base, candles)
	for i := range base {
		if base[i].CloseTime.IsZero() {
			base[i].CloseTime = base[i].OpenTime.Add(step - time.Millisecond)
		}
		base[i].IsFinal = true
	}
	return &Feed{
		symbol:     symbol,
		base:       base,
		baseStep:   step,
		conditions: conditions,
		cursor:     base[0].CloseTime,
		resampled:  make(map[string][]domain.Candle),
	}, nil
}

// Symbol returns the replayed instrument.
func (f *Feed) Symbol() string { return f.symbol }

// Candles returns the base series.
func (f *Feed) Candles() []domain.Candle { return f.base }

// Advance moves the present to t.
func (f *Feed) Advance(t time.Time) {
	f.mu.Lock()
	f.cursor = t
	f.mu.Unlock()
}

// Now returns the cursor; the replay engine uses it as its clock.
func (f *Feed) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cursor
}

// closedBase returns the number of base candles closed at the cursor.
func (f *Feed) closedBase(at time.Time) int {
	return sort.Search(len(f.base), func(i int) bool { return f.base[i].CloseTime.After(at) })
}

func (f *Feed) LatestCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	if symbol != f.symbol {
		return nil, fmt.Errorf("%w: replay has no data for %s", ports.ErrDataGap, symbol)
	}
	step, err := ParseInterval(timeframe)
	if err != nil {
		return nil, err
	}
	if step < f.baseStep || step%f.baseStep != 0 {
		return nil, fmt.Errorf("%w: cannot build %s from %s candles", ports.ErrDataGap, timeframe, f.base[0].Interval)
	}

	at := f.Now()
	n := f.closedBase(at)
	if n == 0 {
		return nil, fmt.Errorf("%w: no closed %s candles yet", ports.ErrDataGap, timeframe)
	}

	var out []domain.Candle
	if step == f.baseStep {
		out = f.base[:n]
	} else {
		series := f.series(timeframe, step)
		full := sort.Search(len(series), func(i int) bool { return series[i].CloseTime.After(at) })
		out = append([]domain.Candle(nil), series[:full]...)
		if forming, ok := f.forming(timeframe, step, at, n); ok {
			out = append(out, forming)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]domain.Candle(nil), out...), nil
}

// series resamples the whole base series once per timeframe.
func (f *Feed) series(timeframe string, step time.Duration) []domain.Candle {
	f.mu.RLock()
	cached, ok := f.resampled[timeframe]
	f.mu.RUnlock()
	if ok {
		return cached
	}
	built := Resample(f.base, timeframe, step)
	f.mu.Lock()
	f.resampled[timeframe] = built
	f.mu.Unlock()
	return built
}

// forming aggregates the closed base candles of the bucket holding the cursor.
func (f *Feed) forming(timeframe string, step time.Duration, at time.Time, closed int) (domain.Candle, bool) {
	bucket := at.Truncate(step)
	if !bucket.Add(step - time.Millisecond).After(at) {
		return domain.Candle{}, false
	}
	start := sort.Search(closed, func(i int) bool { return !f.base[i].OpenTime.Before(bucket) })
	if start >= closed {
		return domain.Candle{}, false
	}
	c := aggregate(f.base[start:closed], timeframe, bucket, step)
	c.IsFinal = false
	return c, true
}

func (f *Feed) Snapshot(ctx context.Context, symbol string) (*domain.MarketSnapshot, error) {
	if symbol != f.symbol {
		return nil, fmt.Errorf("%w: replay has no data for %s", ports.ErrDataGap, symbol)
	}
	at := f.Now()
	n := f.closedBase(at)
	if n == 0 {
		return nil, fmt.Errorf("%w: no closed candles yet", ports.ErrDataGap)
	}
	last := f.base[n-1]

	var volume float64
	for i := n - 1; i >= 0 && at.Sub(f.base[i].OpenTime) <= 24*time.Hour; i-- {
		volume += f.base[i].Volume * f.base[i].Close
	}
	return &domain.MarketSnapshot{
		Symbol:         symbol,
		Price:          last.Close,
		SpreadPct:      f.conditions.SpreadPct,
		BidDepthUSD:    f.conditions.DepthUSD,
		AskDepthUSD:    f.conditions.DepthUSD,
		FundingRatePct: f.conditions.FundingRatePct,
		Volume24h:      volume,
		Timestamp:      at,
	}, nil
}

// PriceStream is not available in a replay; ticks are pushed by the Runner.
func (f *Feed) PriceStream(ctx context.Context, symbols []string) (<-chan domain.PriceTick, error) {
	return nil, ports.ErrStreamClosed
}

func (f *Feed) LatestPrice(ctx context.Context, symbol string) (domain.PriceTick, error) {
	snap, err := f.Snapshot(ctx, symbol)
	if err != nil {
		return domain.PriceTick{}, err
	}
	return domain.PriceTick{Symbol: symbol, Price: snap.Price, Timestamp: snap.Timestamp}, nil
}

// Resample groups candles into buckets of step aligned to the epoch. Only
// complete buckets are returned.
func Resample(candles []domain.Candle, timeframe string, step time.Duration) []domain.Candle {
	var out []domain.Candle
	for i := 0; i < len(candles); {
		bucket := candles[i].OpenTime.Truncate(step)
		j := i
		for j < len(candles) && candles[j].OpenTime.Before(bucket.Add(step)) {
			j++
		}
		last := candles[j-1]
		if !last.CloseTime.Before(bucket.Add(step - time.Millisecond)) {
			out = append(out, aggregate(candles[i:j], timeframe, bucket, step))
		}
		i = j
	}
	return out
}

func aggregate(group []domain.Candle, timeframe string, bucket time.Time, step time.Duration) domain.Candle {
	c := domain.Candle{
		OpenTime:  bucket,
		CloseTime: bucket.Add(step - time.Millisecond),
		Symbol:    group[0].Symbol,
		Interval:  timeframe,
		Open:      group[0].Open,
		High:      group[0].High,
		Low:       group[0].Low,
		Close:     group[len(group)-1].Close,
		IsFinal:   true,
	}
	for _, g := range group {
		if g.High > c.High {
			c.High = g.High
		}
		if g.Low < c.Low {
			c.Low = g.Low
		}
		c.Volume += g.Volume
	}
	return c
}

// ParseInterval converts an exchange interval such as 5m, 4h or 1d.
func ParseInterval(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("%w: invalid interval %q", ports.ErrInvalidRequest, interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid interval %q", ports.ErrInvalidRequest, interval)
	}
	var unit time.Duration
	switch strings.ToLower(interval[len(interval)-1:]) {
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: invalid interval %q", ports.ErrInvalidRequest, interval)
	}
	return time.Duration(n) * unit, nil
}
