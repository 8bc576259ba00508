package domain

import "time"

// SpreadUnavailable is the spread value reported when the order book could not be read.
const SpreadUnavailable = 999.0

// MarketSnapshot is the instantaneous state of an instrument for one scan tick.
type MarketSnapshot struct {
	Symbol         string
	Price          float64
	SpreadPct      float64 // (ask-bid)/mid in percent; SpreadUnavailable when unknown
	BidDepthUSD    float64 // Notional resting on the top bid levels
	AskDepthUSD    float64 // Notional resting on the top ask levels
	FundingRatePct float64 // Last funding rate in percent (0.01 == 0.01%)
	OpenInterest   float64
	OIChangePct    float64 // Change of open interest over the lookback window, percent
	Volume24h      float64 // Quote volume over 24h
	Timestamp      time.Time
}

// OrderBookAvailable reports whether spread and depth were measured.
func (s *MarketSnapshot) OrderBookAvailable() bool {
	return s.SpreadPct < 900 && s.BidDepthUSD+s.AskDepthUSD > 0
}

// PriceTick is a single price observation from the stream or a poll.
type PriceTick struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}
