package ports

import (
	"context"
	"time"

	"cryptoSignalBot/internal/domain"
)

// MarketDataFeed is the shared, read-only source of market data.
// Implementations must be safe for concurrent use by every profile.
type MarketDataFeed interface {
	// LatestCandles returns up to limit closed-or-forming candles, oldest first.
	LatestCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error)

	// Snapshot returns the current price, spread, depth, funding and open interest.
	Snapshot(ctx context.Context, symbol string) (*domain.MarketSnapshot, error)

	// PriceStream subscribes to live prices for the given symbols.
	// The returned channel is closed when the stream disconnects or ctx is done.
	PriceStream(ctx context.Context, symbols []string) (<-chan domain.PriceTick, error)

	// LatestPrice polls the current price of a symbol.
	LatestPrice(ctx context.Context, symbol string) (domain.PriceTick, error)
}

// SentimentSource supplies a market-wide sentiment reading.
type SentimentSource interface {
	// Current returns a score in [0,1]; 0 is extreme bearish, 1 extreme bullish.
	Current(ctx context.Context) (float64, error)
}

// PriceCache stores the last known price per symbol.
type PriceCache interface {
	SetLastPrice(ctx context.Context, tick domain.PriceTick) error
	// LastPrice returns ErrNotFound when no price was recorded.
	LastPrice(ctx context.Context, symbol string) (domain.PriceTick, error)
}

// Metrics receives pipeline events for monitoring.
type Metrics interface {
	ScanCompleted(duration time.Duration)
	ScanSkipped()
	EvaluationFailed(profile string)
	SignalEmitted(profile string, setup domain.SetupType)
	SignalRejected(profile string, reason domain.ReasonCode)
	PositionOpened(profile string)
	PositionClosed(profile string, outcome domain.Outcome, pnl float64)
	SetDegraded(degraded bool)
	SetBalance(profile string, balance float64)
}
