package binanceclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

// fakeExchange serves the public futures endpoints the client uses.
type fakeExchange struct {
	depthStatus int
	oiBody      string
	tickerCode  int
}

func (f *fakeExchange) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path
	switch {
	case strings.HasSuffix(path, "/klines"):
		fmt.Fprint(w, `[
			[1700000000000,"100.0","101.0","99.0","100.5","12.5",1700000299999,"1250.0",10,"6.0","600.0","0"],
			[1700000300000,"100.5","102.0","100.0","101.5","20.0",1700000599999,"2030.0",12,"9.0","900.0","0"]
		]`)
	case strings.HasSuffix(path, "/depth"):
		if f.depthStatus != 0 {
			w.WriteHeader(f.depthStatus)
			fmt.Fprint(w, `{"code":-1001,"msg":"Internal error; unable to process your request."}`)
			return
		}
		fmt.Fprint(w, `{"lastUpdateId":1,"E":1700000000000,"T":1700000000000,
			"bids":[["100.0","2.0"],["99.5","4.0"]],
			"asks":[["100.2","1.0"],["100.4","3.0"]]}`)
	case strings.HasSuffix(path, "/premiumIndex"):
		fmt.Fprint(w, `[{"symbol":"BTCUSDT","markPrice":"100.1","indexPrice":"100.0","lastFundingRate":"0.0001","nextFundingTime":1700003600000,"time":1700000000000}]`)
	case strings.HasSuffix(path, "/openInterestHist"):
		body := f.oiBody
		if body == "" {
			body = `[
				{"symbol":"BTCUSDT","sumOpenInterest":"1000.0","sumOpenInterestValue":"100000.0","timestamp":1699996400000},
				{"symbol":"BTCUSDT","sumOpenInterest":"1050.0","sumOpenInterestValue":"105000.0","timestamp":1699998200000},
				{"symbol":"BTCUSDT","sumOpenInterest":"1100.0","sumOpenInterestValue":"110000.0","timestamp":1700000000000}
			]`
		}
		fmt.Fprint(w, body)
	case strings.HasSuffix(path, "/ticker/24hr"):
		if f.tickerCode != 0 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"code":%d,"msg":"Too many requests."}`, f.tickerCode)
			return
		}
		fmt.Fprint(w, `[{"symbol":"BTCUSDT","priceChange":"1.0","priceChangePercent":"1.0","weightedAvgPrice":"100.0",
			"lastPrice":"100.1","lastQty":"0.5","openPrice":"99.1","highPrice":"102.0","lowPrice":"98.0",
			"volume":"5000.0","quoteVolume":"500000.0","openTime":1699913600000,"closeTime":1700000000000,
			"firstId":1,"lastId":100,"count":100}]`)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"code":-1100,"msg":"unknown path"}`)
	}
}

func newTestClient(t *testing.T, exchange *fakeExchange) (*Client, *mockLogger) {
	t.Helper()
	server := httptest.NewServer(exchange)
	t.Cleanup(server.Close)

	logger := &mockLogger{}
	client, err := New(Config{
		BaseURL:         server.URL,
		Logger:          logger,
		RateLimitRPS:    1000,
		BreakerFailures: 3,
		BreakerTimeout:  time.Minute,
	})
	require.NoError(t, err)
	client.now = func() time.Time { return time.UnixMilli(1700000400000) }
	return client, logger
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	client, err := New(Config{Logger: &mockLogger{}})
	require.NoError(t, err)
	assert.Equal(t, baseURLProduction, client.futuresClient.BaseURL)
	assert.Equal(t, defaultDepthLevels, client.depthLevels)
	assert.Equal(t, defaultOIPeriod, client.oiPeriod)
}

func TestClient_LatestCandles(t *testing.T) {
	client, _ := newTestClient(t, &fakeExchange{})

	candles, err := client.LatestCandles(context.Background(), "BTCUSDT", "5m", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, 100.0, candles[0].Open)
	assert.Equal(t, 101.5, candles[1].Close)
	assert.Equal(t, 20.0, candles[1].Volume)
	assert.Equal(t, "5m", candles[0].Interval)
	assert.True(t, candles[0].IsFinal)
	// The second candle closes after the frozen clock.
	assert.False(t, candles[1].IsFinal)
}

func TestClient_Snapshot(t *testing.T) {
	tests := []struct {
		name          string
		exchange      *fakeExchange
		wantErr       error
		wantOrderBook bool
		wantOIChange  float64
	}{
		{
			name:          "All sources available",
			exchange:      &fakeExchange{},
			wantOrderBook: true,
			wantOIChange:  10,
		},
		{
			name:          "Order book failure degrades",
			exchange:      &fakeExchange{depthStatus: http.StatusInternalServerError},
			wantOrderBook: false,
			wantOIChange:  10,
		},
		{
			name:          "Thin open interest history",
			exchange:      &fakeExchange{oiBody: `[{"symbol":"BTCUSDT","sumOpenInterest":"1000.0","sumOpenInterestValue":"1.0","timestamp":1}]`},
			wantOrderBook: true,
			wantOIChange:  0,
		},
		{
			name:     "Ticker rate limited",
			exchange: &fakeExchange{tickerCode: -1003},
			wantErr:  ports.ErrRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, tt.exchange)

			snap, err := client.Snapshot(context.Background(), "BTCUSDT")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, snap)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, 100.1, snap.Price)
			assert.Equal(t, 500000.0, snap.Volume24h)
			assert.InDelta(t, 0.01, snap.FundingRatePct, 1e-9)
			assert.InDelta(t, tt.wantOIChange, snap.OIChangePct, 1e-9)
			assert.Equal(t, tt.wantOrderBook, snap.OrderBookAvailable())
			if tt.wantOrderBook {
				assert.InDelta(t, 0.2/100.1*100, snap.SpreadPct, 1e-9)
				assert.InDelta(t, 100.0*2+99.5*4, snap.BidDepthUSD, 1e-9)
				assert.InDelta(t, 100.2*1+100.4*3, snap.AskDepthUSD, 1e-9)
			} else {
				assert.Equal(t, domain.SpreadUnavailable, snap.SpreadPct)
			}
		})
	}
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	client, _ := newTestClient(t, &fakeExchange{tickerCode: -1003})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.LatestPrice(ctx, "BTCUSDT")
		assert.ErrorIs(t, err, ports.ErrRateLimited)
	}
	_, err := client.LatestPrice(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, ports.ErrExchangeUnavailable)
}

func TestClient_LatestPrice(t *testing.T) {
	client, _ := newTestClient(t, &fakeExchange{})

	tick, err := client.LatestPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.Equal(t, 100.1, tick.Price)
	assert.Equal(t, int64(1700000400000), tick.Timestamp.UnixMilli())
}

func TestClient_PriceStream(t *testing.T) {
	client, _ := newTestClient(t, &fakeExchange{})

	var (
		handler    futures.WsAggTradeHandler
		subscribed []string
	)
	client.wsServe = func(symbols []string, h futures.WsAggTradeHandler, eh futures.ErrHandler) (chan struct{}, chan struct{}, error) {
		subscribed = symbols
		handler = h
		doneC := make(chan struct{})
		stopC := make(chan struct{})
		go func() {
			<-stopC
			close(doneC)
		}()
		return doneC, stopC, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks, err := client.PriceStream(ctx, []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	assert.Equal(t, []string{"btcusdt", "ethusdt"}, subscribed)

	handler(&futures.WsAggTradeEvent{Symbol: "btcusdt", Price: "bad"})
	handler(&futures.WsAggTradeEvent{Symbol: "ethusdt", Price: "2000.5", TradeTime: 1700000000000})

	select {
	case tick := <-ticks:
		assert.Equal(t, "ETHUSDT", tick.Symbol)
		assert.Equal(t, 2000.5, tick.Price)
		assert.Equal(t, int64(1700000000000), tick.Timestamp.UnixMilli())
	case <-time.After(time.Second):
		t.Fatal("no tick received")
	}

	cancel()
	select {
	case _, ok := <-ticks:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream did not close after cancel")
	}
}

func TestClient_PriceStreamRequiresSymbols(t *testing.T) {
	client, _ := newTestClient(t, &fakeExchange{})
	_, err := client.PriceStream(context.Background(), nil)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestSpreadPct(t *testing.T) {
	tests := []struct {
		name    string
		bid     float64
		ask     float64
		want    float64
		wantErr bool
	}{
		{name: "Normal book", bid: 99.9, ask: 100.1, want: 0.2},
		{name: "Locked book", bid: 100, ask: 100, want: 0},
		{name: "Crossed book", bid: 100.2, ask: 100, wantErr: true},
		{name: "Empty side", bid: 0, ask: 100, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := spreadPct(tt.bid, tt.ask)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestTranslateBinanceKline(t *testing.T) {
	_, err := translateBinanceKline(nil, "BTCUSDT", "5m")
	assert.Error(t, err)

	_, err = translateBinanceKline(&futures.Kline{Open: "x"}, "BTCUSDT", "5m")
	assert.Error(t, err)

	c, err := translateBinanceKline(&futures.Kline{
		OpenTime: 1000, CloseTime: 2000, Open: "1", High: "2", Low: "0.5", Close: "1.5", Volume: "10",
	}, "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, "1h", c.Interval)
	assert.Equal(t, 1.5, c.Close)
	assert.Equal(t, int64(2000), c.CloseTime.UnixMilli())
}
