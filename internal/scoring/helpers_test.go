package scoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/domain"
)

var baseTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func loadTestProfiles(t *testing.T) map[string]config.Profile {
	t.Helper()
	profiles, err := config.LoadProfiles("")
	require.NoError(t, err)
	return profiles
}

// flatCandles returns n candles closing at price with a constant 2-point range.
func flatCandles(n int, price, volume float64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{
			OpenTime: baseTime.Add(time.Duration(i) * 5 * time.Minute),
			Symbol:   "BTCUSDT",
			Open:     price,
			High:     price + 1,
			Low:      price - 1,
			Close:    price,
			Volume:   volume,
			IsFinal:  true,
		}
	}
	return out
}

// breakoutCandles is a tight range followed by a high-volume close above it.
func breakoutCandles() []domain.Candle {
	candles := flatCandles(59, 100, 100)
	return append(candles, domain.Candle{
		OpenTime: baseTime.Add(59 * 5 * time.Minute),
		Symbol:   "BTCUSDT",
		Open:     100,
		High:     101.2,
		Low:      99.9,
		Close:    101,
		Volume:   300,
		IsFinal:  true,
	})
}

// zigzagCandles drifts by step per bar with a 6-bar oscillation so that
// swing highs and lows form every cycle.
func zigzagCandles(n int, start, step float64) []domain.Candle {
	tri := []float64{0, 1, 2, 3, 2, 1}
	out := make([]domain.Candle, n)
	prev := start
	for i := range out {
		c := start + step*float64(i) + 2*tri[i%6]
		out[i] = domain.Candle{
			OpenTime: baseTime.Add(time.Duration(i) * time.Hour),
			Symbol:   "BTCUSDT",
			Open:     prev,
			High:     c + 0.5,
			Low:      c - 0.5,
			Close:    c,
			Volume:   100,
			IsFinal:  true,
		}
		prev = c
	}
	return out
}

func healthySnapshot() *domain.MarketSnapshot {
	return &domain.MarketSnapshot{
		Symbol:         "BTCUSDT",
		Price:          101,
		SpreadPct:      0.01,
		BidDepthUSD:    150000,
		AskDepthUSD:    150000,
		FundingRatePct: 0.01,
		OIChangePct:    0.5,
		Timestamp:      baseTime,
	}
}

type fakeSentiment struct {
	mu    sync.Mutex
	value float64
	err   error
	delay time.Duration
	calls int
}

func (f *fakeSentiment) Current(ctx context.Context) (float64, error) {
	f.mu.Lock()
	f.calls++
	value, err, delay := f.value, f.err, f.delay
	f.mu.Unlock()
	time.Sleep(delay)
	return value, err
}

func (f *fakeSentiment) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDisabled map[domain.SetupKey]bool

func (f fakeDisabled) IsDisabled(key domain.SetupKey) bool {
	return f[key]
}

type mockLogger struct {
	mu       sync.Mutex
	warnings []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	m.warnings = append(m.warnings, msg)
	m.mu.Unlock()
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}
