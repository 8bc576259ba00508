package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	defaultDepthLevels = 20
	defaultOIPeriod    = "5m"
	defaultOIPoints    = 13 // One hour of 5m buckets
	maxKlinesPerCall   = 1500
)

type wsServeFunc func(symbols []string, handler futures.WsAggTradeHandler, errHandler futures.ErrHandler) (doneC, stopC chan struct{}, err error)

// Client implements ports.MarketDataFeed on Binance USDⓈ-M futures.
// REST calls share one rate limiter and one circuit breaker.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	limiter       *rate.Limiter
	breaker       *gobreaker.CircuitBreaker
	depthLevels   int
	oiPeriod      string
	oiPoints      int
	streamBuffer  int
	wsServe       wsServeFunc
	now           func() time.Time
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey       string
	SecretKey    string
	UseTestnet   bool
	BaseURL      string // Overrides the production/testnet URL when set
	Logger       ports.Logger
	RateLimitRPS float64 // Sustained REST request rate
	RateBurst    int
	DepthLevels  int    // Order book levels summed into depth
	OIPeriod     string // Open interest statistics period
	OIPoints     int    // Buckets spanned by the open interest change
	StreamBuffer int    // Capacity of the price tick channel
	// Circuit breaker: consecutive failures before opening, and how long it stays open.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Info(context.Background(), "Binance API keys not set, using public market data endpoints only")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
		futures.UseTestnet = true
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL, "testnet": cfg.UseTestnet})

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		limiter:       rate.NewLimiter(rate.Limit(rps), burst),
		depthLevels:   cfg.DepthLevels,
		oiPeriod:      cfg.OIPeriod,
		oiPoints:      cfg.OIPoints,
		streamBuffer:  cfg.StreamBuffer,
		wsServe:       futures.WsCombinedAggTradeServe,
		now:           time.Now,
	}
	if c.depthLevels <= 0 {
		c.depthLevels = defaultDepthLevels
	}
	if c.oiPeriod == "" {
		c.oiPeriod = defaultOIPeriod
	}
	if c.oiPoints <= 1 {
		c.oiPoints = defaultOIPoints
	}
	if c.streamBuffer <= 0 {
		c.streamBuffer = 256
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "binance-rest",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Caller mistakes and cancellations say nothing about exchange health.
			return err == nil || errors.Is(err, context.Canceled) || isRequestError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Logger.Warn(context.Background(), "Binance circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return c, nil
}

func isRequestError(err error) bool {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code <= -1100 && apiErr.Code >= -1199
}

// call runs fn under the rate limiter and the circuit breaker.
func (c *Client) call(ctx context.Context, op string, fn func() (interface{}, error)) (interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	res, err := c.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrExchangeUnavailable, err)
		}
		return nil, c.handleError(ctx, err, op)
	}
	return res, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1001, -1006, -1007: // Disconnected, unexpected response, backend timeout
			mappedErr = ports.ErrExchangeUnavailable
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2014, -2015: // API-key format invalid / permissions
			mappedErr = ports.ErrInvalidAPIKeys
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, ports.ErrDataGap) {
		finalErr = fmt.Errorf("%s failed: %w", operation, err)
	} else if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "no such host") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// LatestCandles returns the latest candles of a symbol, oldest first.
func (c *Client) LatestCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	op := "LatestCandles"
	res, err := c.call(ctx, op, func() (interface{}, error) {
		return c.futuresClient.NewKlinesService().Symbol(symbol).Interval(timeframe).Limit(limit).Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	klines := res.([]*futures.Kline)
	if len(klines) == 0 {
		return nil, c.handleError(ctx, fmt.Errorf("%w: no %s klines for %s", ports.ErrDataGap, timeframe, symbol), op)
	}

	now := c.now()
	candles := make([]domain.Candle, 0, len(klines))
	for _, bk := range klines {
		candle, err := translateBinanceKline(bk, symbol, timeframe)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
		}
		candle.IsFinal = !candle.CloseTime.After(now)
		candles = append(candles, candle)
	}
	return candles, nil
}

// GetCandlesRange pages through the closed candles between start and end.
func (c *Client) GetCandlesRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]domain.Candle, error) {
	op := "GetCandlesRange"
	var all []domain.Candle
	from := start

	for {
		res, err := c.call(ctx, op, func() (interface{}, error) {
			return c.futuresClient.NewKlinesService().
				Symbol(symbol).
				Interval(timeframe).
				StartTime(from.UnixMilli()).
				EndTime(end.UnixMilli()).
				Limit(maxKlinesPerCall).
				Do(ctx)
		})
		if err != nil {
			return nil, err
		}
		klines := res.([]*futures.Kline)
		if len(klines) == 0 {
			break
		}
		for _, bk := range klines {
			candle, err := translateBinanceKline(bk, symbol, timeframe)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline range: %w", err), op)
			}
			all = append(all, candle)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime + 1)
		if from.After(end) || len(klines) < maxKlinesPerCall {
			break
		}
	}
	return all, nil
}

// Snapshot gathers price, order book, funding and open interest concurrently.
// Only the ticker is required; the other parts degrade to "unavailable".
func (c *Client) Snapshot(ctx context.Context, symbol string) (*domain.MarketSnapshot, error) {
	op := "Snapshot"
	snap := &domain.MarketSnapshot{Symbol: symbol, SpreadPct: domain.SpreadUnavailable}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		price, volume, err := c.ticker(gctx, symbol)
		if err != nil {
			return err
		}
		snap.Price, snap.Volume24h = price, volume
		return nil
	})
	g.Go(func() error {
		if err := c.orderBook(gctx, symbol, snap); err != nil {
			c.logger.Warn(ctx, op+": Order book unavailable", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		}
		return nil
	})
	g.Go(func() error {
		funding, err := c.fundingRate(gctx, symbol)
		if err != nil {
			c.logger.Warn(ctx, op+": Funding rate unavailable", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			return nil
		}
		snap.FundingRatePct = funding
		return nil
	})
	g.Go(func() error {
		oi, change, err := c.openInterest(gctx, symbol)
		if err != nil {
			c.logger.Warn(ctx, op+": Open interest unavailable", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			return nil
		}
		snap.OpenInterest, snap.OIChangePct = oi, change
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	snap.Timestamp = c.now()
	return snap, nil
}

// LatestPrice polls the last traded price of a symbol.
func (c *Client) LatestPrice(ctx context.Context, symbol string) (domain.PriceTick, error) {
	price, _, err := c.ticker(ctx, symbol)
	if err != nil {
		return domain.PriceTick{}, err
	}
	return domain.PriceTick{Symbol: symbol, Price: price, Timestamp: c.now()}, nil
}

func (c *Client) ticker(ctx context.Context, symbol string) (price, quoteVolume float64, err error) {
	op := "GetTicker"
	res, err := c.call(ctx, op, func() (interface{}, error) {
		return c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return 0, 0, err
	}
	tickers := res.([]*futures.PriceChangeStats)
	if len(tickers) == 0 {
		return 0, 0, c.handleError(ctx, fmt.Errorf("%w: no ticker data returned for symbol %s", ports.ErrDataGap, symbol), op)
	}
	price, err = strconv.ParseFloat(tickers[0].LastPrice, 64)
	if err != nil || price <= 0 {
		return 0, 0, c.handleError(ctx, fmt.Errorf("%w: could not parse price '%s'", ports.ErrDataGap, tickers[0].LastPrice), op)
	}
	quoteVolume, _ = strconv.ParseFloat(tickers[0].QuoteVolume, 64)
	return price, quoteVolume, nil
}

func (c *Client) orderBook(ctx context.Context, symbol string, snap *domain.MarketSnapshot) error {
	op := "GetDepth"
	res, err := c.call(ctx, op, func() (interface{}, error) {
		return c.futuresClient.NewDepthService().Symbol(symbol).Limit(c.depthLevels).Do(ctx)
	})
	if err != nil {
		return err
	}
	book := res.(*futures.DepthResponse)
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return fmt.Errorf("%w: empty order book for %s", ports.ErrDataGap, symbol)
	}

	var bidUSD, askUSD float64
	for _, b := range book.Bids {
		p, q, err := parseLevel(b.Price, b.Quantity)
		if err != nil {
			return fmt.Errorf("parsing bid level: %w", err)
		}
		bidUSD += p * q
	}
	for _, a := range book.Asks {
		p, q, err := parseLevel(a.Price, a.Quantity)
		if err != nil {
			return fmt.Errorf("parsing ask level: %w", err)
		}
		askUSD += p * q
	}
	bid, _, _ := parseLevel(book.Bids[0].Price, book.Bids[0].Quantity)
	ask, _, _ := parseLevel(book.Asks[0].Price, book.Asks[0].Quantity)
	spread, err := spreadPct(bid, ask)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ports.ErrDataGap, symbol, err)
	}

	snap.SpreadPct = spread
	snap.BidDepthUSD = bidUSD
	snap.AskDepthUSD = askUSD
	return nil
}

// fundingRate returns the last funding rate in percent.
func (c *Client) fundingRate(ctx context.Context, symbol string) (float64, error) {
	op := "GetFundingRate"
	res, err := c.call(ctx, op, func() (interface{}, error) {
		return c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return 0, err
	}
	for _, entry := range res.([]*futures.PremiumIndex) {
		if entry == nil || !strings.EqualFold(entry.Symbol, symbol) {
			continue
		}
		rate, err := strconv.ParseFloat(entry.LastFundingRate, 64)
		if err != nil {
			return 0, fmt.Errorf("could not parse funding rate '%s': %w", entry.LastFundingRate, err)
		}
		return rate * 100, nil
	}
	return 0, fmt.Errorf("%w: funding rate not available for %s", ports.ErrDataGap, symbol)
}

// openInterest returns the latest open interest and its change over the window in percent.
func (c *Client) openInterest(ctx context.Context, symbol string) (latest, changePct float64, err error) {
	op := "GetOpenInterest"
	res, err := c.call(ctx, op, func() (interface{}, error) {
		return c.futuresClient.NewOpenInterestStatisticsService().Symbol(symbol).Period(c.oiPeriod).Limit(c.oiPoints).Do(ctx)
	})
	if err != nil {
		return 0, 0, err
	}
	stats := res.([]*futures.OpenInterestStatistic)
	if len(stats) < 2 {
		return 0, 0, fmt.Errorf("%w: %d open interest points for %s", ports.ErrDataGap, len(stats), symbol)
	}
	first, err := strconv.ParseFloat(stats[0].SumOpenInterest, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("could not parse open interest '%s': %w", stats[0].SumOpenInterest, err)
	}
	latest, err = strconv.ParseFloat(stats[len(stats)-1].SumOpenInterest, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("could not parse open interest '%s': %w", stats[len(stats)-1].SumOpenInterest, err)
	}
	if first <= 0 {
		return latest, 0, nil
	}
	return latest, (latest - first) / first * 100, nil
}

// PriceStream subscribes to aggregated trades of every symbol on one combined
// connection. The channel is closed when the connection drops or ctx is done;
// reconnecting is left to the caller.
func (c *Client) PriceStream(ctx context.Context, symbols []string) (<-chan domain.PriceTick, error) {
	op := "PriceStream"
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%s failed: %w: no symbols", op, ports.ErrInvalidRequest)
	}
	out := make(chan domain.PriceTick, c.streamBuffer)
	streamCtx, cancel := context.WithCancel(ctx)

	handler := func(event *futures.WsAggTradeEvent) {
		tick, err := translateAggTrade(event)
		if err != nil {
			c.logger.Debug(streamCtx, op+": Dropping malformed trade event", map[string]interface{}{"error": err.Error()})
			return
		}
		select {
		case <-streamCtx.Done():
		case out <- tick:
		default:
			c.logger.Warn(streamCtx, op+": Tick channel full, dropping tick", map[string]interface{}{"symbol": tick.Symbol})
		}
	}
	errHandler := func(err error) {
		if err != nil && streamCtx.Err() == nil {
			c.logger.Warn(streamCtx, op+": WebSocket error reported", map[string]interface{}{"error": err.Error()})
		}
	}

	lower := make([]string, len(symbols))
	for i, s := range symbols {
		lower[i] = strings.ToLower(s)
	}
	doneC, stopC, err := c.wsServe(lower, handler, errHandler)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrConnectionFailed, err)
	}
	c.logger.Info(ctx, op+": WebSocket connection established", map[string]interface{}{"symbols": symbols})

	go func() {
		defer close(out)
		defer cancel()
		select {
		case <-streamCtx.Done():
			close(stopC)
			<-doneC
			c.logger.Info(ctx, op+": Context cancelled, WebSocket stopped", nil)
		case <-doneC:
			c.logger.Warn(ctx, op+": WebSocket connection closed", nil)
		}
	}()
	return out, nil
}

func parseLevel(price, qty string) (float64, float64, error) {
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return 0, 0, err
	}
	q, err := strconv.ParseFloat(qty, 64)
	if err != nil {
		return 0, 0, err
	}
	return p, q, nil
}

// spreadPct returns (ask-bid)/mid in percent.
func spreadPct(bid, ask float64) (float64, error) {
	mid := (bid + ask) / 2
	if bid <= 0 || ask <= 0 || ask < bid {
		return 0, fmt.Errorf("crossed or empty top of book (bid %v, ask %v)", bid, ask)
	}
	return (ask - bid) / mid * 100, nil
}

func translateAggTrade(event *futures.WsAggTradeEvent) (domain.PriceTick, error) {
	if event == nil {
		return domain.PriceTick{}, errors.New("received nil trade event")
	}
	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil || price <= 0 {
		return domain.PriceTick{}, fmt.Errorf("parsing trade price '%s': %v", event.Price, err)
	}
	ts := event.TradeTime
	if ts == 0 {
		ts = event.Time
	}
	return domain.PriceTick{
		Symbol:    strings.ToUpper(event.Symbol),
		Price:     price,
		Timestamp: time.UnixMilli(ts),
	}, nil
}

func translateBinanceKline(bk *futures.Kline, symbol, interval string) (domain.Candle, error) {
	if bk == nil {
		return domain.Candle{}, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return domain.Candle{
		OpenTime:  time.UnixMilli(bk.OpenTime),
		CloseTime: time.UnixMilli(bk.CloseTime),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   true,
	}, nil
}
