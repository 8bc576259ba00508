package replay

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/adapters/sqlite"
	"cryptoSignalBot/internal/app"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

var start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// fiveMinute builds n 5m candles whose close rises by one per candle.
func fiveMinute(n int) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		open := start.Add(time.Duration(i) * 5 * time.Minute)
		price := 100 + float64(i)
		out[i] = domain.Candle{
			OpenTime:  open,
			CloseTime: open.Add(5*time.Minute - time.Millisecond),
			Symbol:    "BTCUSDT",
			Interval:  "5m",
			Open:      price - 0.5,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    10,
		}
	}
	return out
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "1m", want: time.Minute},
		{in: "15m", want: 15 * time.Minute},
		{in: "4h", want: 4 * time.Hour},
		{in: "1d", want: 24 * time.Hour},
		{in: "1w", want: 7 * 24 * time.Hour},
		{in: "h", wantErr: true},
		{in: "0m", wantErr: true},
		{in: "5x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInterval(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ports.ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResample(t *testing.T) {
	hourly := Resample(fiveMinute(15), "1h", time.Hour)
	// The second hour has only three candles and is left out.
	require.Len(t, hourly, 1)
	h := hourly[0]
	assert.True(t, h.OpenTime.Equal(start))
	assert.Equal(t, 99.5, h.Open)
	assert.Equal(t, 111.0, h.Close)
	assert.Equal(t, 112.0, h.High)
	assert.Equal(t, 99.0, h.Low)
	assert.Equal(t, 120.0, h.Volume)
	assert.Equal(t, "1h", h.Interval)
}

func TestFeed_LatestCandles(t *testing.T) {
	candles := fiveMinute(15)
	feed, err := NewFeed(candles, DefaultConfig().Conditions)
	require.NoError(t, err)
	feed.Advance(candles[13].CloseTime)
	ctx := context.Background()

	tests := []struct {
		name      string
		symbol    string
		timeframe string
		limit     int
		check     func(t *testing.T, got []domain.Candle)
		wantErr   error
	}{
		{
			name: "Base timeframe stops at the cursor", symbol: "BTCUSDT", timeframe: "5m", limit: 5,
			check: func(t *testing.T, got []domain.Candle) {
				require.Len(t, got, 5)
				assert.Equal(t, 109.0, got[0].Close)
				assert.Equal(t, 113.0, got[4].Close)
			},
		},
		{
			name: "Higher timeframe adds the forming bucket", symbol: "BTCUSDT", timeframe: "1h", limit: 10,
			check: func(t *testing.T, got []domain.Candle) {
				require.Len(t, got, 2)
				assert.True(t, got[0].IsFinal)
				assert.False(t, got[1].IsFinal)
				assert.Equal(t, 112.5-1, got[1].Open)
				assert.Equal(t, 113.0, got[1].Close)
				assert.Equal(t, 20.0, got[1].Volume)
			},
		},
		{name: "Finer than base", symbol: "BTCUSDT", timeframe: "1m", limit: 10, wantErr: ports.ErrDataGap},
		{name: "Unknown symbol", symbol: "ETHUSDT", timeframe: "5m", limit: 10, wantErr: ports.ErrDataGap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := feed.LatestCandles(ctx, tt.symbol, tt.timeframe, tt.limit)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestFeed_Snapshot(t *testing.T) {
	candles := fiveMinute(10)
	feed, err := NewFeed(candles, MarketConditions{SpreadPct: 0.05, DepthUSD: 1000, FundingRatePct: 0.02})
	require.NoError(t, err)
	feed.Advance(candles[4].CloseTime.Add(time.Minute))

	snap, err := feed.Snapshot(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 104.0, snap.Price)
	assert.Equal(t, 0.05, snap.SpreadPct)
	assert.Equal(t, 2000.0, snap.BidDepthUSD+snap.AskDepthUSD)
	assert.True(t, snap.OrderBookAvailable())
	assert.Equal(t, (100.0+101+102+103+104)*10, snap.Volume24h)

	tick, err := feed.LatestPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 104.0, tick.Price)

	_, err = feed.PriceStream(context.Background(), []string{"BTCUSDT"})
	assert.ErrorIs(t, err, ports.ErrStreamClosed)
}

func TestNewFeed_Validation(t *testing.T) {
	candles := fiveMinute(3)
	mixed := fiveMinute(3)
	mixed[2].Symbol = "ETHUSDT"
	unordered := fiveMinute(3)
	unordered[1], unordered[2] = unordered[2], unordered[1]
	badInterval := fiveMinute(3)
	badInterval[0].Interval = ""

	tests := []struct {
		name    string
		candles []domain.Candle
		wantErr error
	}{
		{name: "Too short", candles: candles[:1], wantErr: ports.ErrDataGap},
		{name: "Mixed symbols", candles: mixed, wantErr: ports.ErrInvalidRequest},
		{name: "Unordered", candles: unordered, wantErr: ports.ErrInvalidRequest},
		{name: "Bad interval", candles: badInterval, wantErr: ports.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFeed(tt.candles, MarketConditions{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTicks(t *testing.T) {
	bull := domain.Candle{Symbol: "BTCUSDT", OpenTime: start, CloseTime: start.Add(3 * time.Minute), Open: 100, High: 105, Low: 98, Close: 104}
	bear := bull
	bear.Open, bear.Close = 104, 100

	tests := []struct {
		name   string
		candle domain.Candle
		want   []float64
	}{
		{name: "Bullish visits the low first", candle: bull, want: []float64{100, 98, 105, 104}},
		{name: "Bearish visits the high first", candle: bear, want: []float64{104, 105, 98, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ticks := Ticks(tt.candle)
			require.Len(t, ticks, 4)
			for i, tick := range ticks {
				assert.Equal(t, tt.want[i], tick.Price)
				assert.True(t, tick.Timestamp.Equal(start.Add(time.Duration(i)*time.Minute)))
			}
		})
	}
}

func newReplayRepos(t *testing.T) app.Repositories {
	t.Helper()
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "replay.db"), Logger: &mockLogger{}})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return app.Repositories{Signals: repo, Positions: repo, Trades: repo, Portfolios: repo, SetupStats: repo}
}

func TestRunner_FlatMarket(t *testing.T) {
	profiles, err := config.LoadProfiles("")
	require.NoError(t, err)

	candles := make([]domain.Candle, 260)
	for i := range candles {
		open := start.Add(time.Duration(i) * 5 * time.Minute)
		candles[i] = domain.Candle{OpenTime: open, Symbol: "BTCUSDT", Interval: "5m", Open: 100, High: 100, Low: 100, Close: 100, Volume: 10}
	}

	runner, err := NewRunner(DefaultConfig(), profiles, candles, newReplayRepos(t), &mockLogger{})
	require.NoError(t, err)

	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 260, res.Candles)
	assert.Equal(t, 60, res.Scans)
	require.Len(t, res.Profiles, len(profiles))
	for name, pr := range res.Profiles {
		assert.Zero(t, pr.Signals, name)
		assert.Zero(t, pr.Open, name)
		assert.Equal(t, pr.Portfolio.InitialBalance, pr.Portfolio.CurrentBalance, name)
		require.NotNil(t, pr.Performance)
		assert.Zero(t, pr.Performance.TotalTrades)
	}
}

func TestRunner_Canceled(t *testing.T) {
	profiles, err := config.LoadProfiles("")
	require.NoError(t, err)
	runner, err := NewRunner(DefaultConfig(), profiles, fiveMinute(20), newReplayRepos(t), &mockLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = runner.Run(ctx)
	assert.ErrorIs(t, err, ports.ErrContextCanceled)
}

func TestNewRunner_Validation(t *testing.T) {
	profiles, err := config.LoadProfiles("")
	require.NoError(t, err)

	_, err = NewRunner(DefaultConfig(), profiles, fiveMinute(5), newReplayRepos(t), nil)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = NewRunner(DefaultConfig(), profiles, fiveMinute(1), newReplayRepos(t), &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrDataGap)
}
