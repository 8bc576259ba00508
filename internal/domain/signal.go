package domain

import "time"

// SignalStatus represents the lifecycle status of a signal.
type SignalStatus string

const (
	SignalPending  SignalStatus = "pending"
	SignalExecuted SignalStatus = "executed"
	SignalSkipped  SignalStatus = "skipped"
	SignalExpired  SignalStatus = "expired"
	SignalError    SignalStatus = "error"
)

// ReasonCode is a closed set of tags explaining how a signal was scored or why
// an evaluation was rejected.
type ReasonCode string

const (
	// Layer scores, Value carries the 0-100 layer score.
	ReasonTradeability ReasonCode = "TRADEABILITY"
	ReasonDirection    ReasonCode = "DIRECTION"
	ReasonEntry        ReasonCode = "ENTRY"
	ReasonSentiment    ReasonCode = "SENTIMENT"

	// Context tags.
	ReasonSetupBreakout   ReasonCode = "SETUP_BREAKOUT"
	ReasonSetupRetest     ReasonCode = "SETUP_RETEST"
	ReasonSetupDivergence ReasonCode = "SETUP_DIVERGENCE"
	ReasonSetupEMABounce  ReasonCode = "SETUP_EMA_BOUNCE"
	ReasonConfluence      ReasonCode = "CONFLUENCE"      // Value: number of triggered setups
	ReasonRegimeTrending  ReasonCode = "REGIME_TRENDING" // Value: score modifier
	ReasonRegimeRanging   ReasonCode = "REGIME_RANGING"
	ReasonRegimeVolatile  ReasonCode = "REGIME_VOLATILE"
	ReasonFundingRate     ReasonCode = "FUNDING_RATE"   // Value: funding rate %
	ReasonSpread          ReasonCode = "SPREAD"         // Value: spread %
	ReasonMTFConfluence   ReasonCode = "MTF_CONFLUENCE" // Value: trend votes for the side minus against
	ReasonAdaptive        ReasonCode = "ADAPTIVE"       // Value: learned score modifier

	// Kill switches, Value carries the offending measurement.
	ReasonKillVolatility   ReasonCode = "KILL_VOLATILITY"
	ReasonKillSpread       ReasonCode = "KILL_SPREAD"
	ReasonKillFunding      ReasonCode = "KILL_FUNDING"
	ReasonKillOpenInterest ReasonCode = "KILL_OPEN_INTEREST"

	// Rejections.
	ReasonNotTradable       ReasonCode = "NOT_TRADABLE"
	ReasonNoDirection       ReasonCode = "NO_DIRECTION"
	ReasonNoSetup           ReasonCode = "NO_SETUP"
	ReasonScoreBelowMin     ReasonCode = "SCORE_BELOW_MIN" // Value: final score
	ReasonSetupDisabled     ReasonCode = "SETUP_DISABLED"
	ReasonDirectionFlip     ReasonCode = "DIRECTION_FLIP"
	ReasonDuplicateSignal   ReasonCode = "DUPLICATE_SIGNAL"
	ReasonRiskRejected      ReasonCode = "RISK_REJECTED"
	ReasonCorrelationLimit  ReasonCode = "CORRELATION_LIMIT"
	ReasonInsufficientFunds ReasonCode = "INSUFFICIENT_BALANCE"
)

// Reason is a tagged reason with an optional numeric payload.
type Reason struct {
	Code  ReasonCode `json:"code"`
	Value float64    `json:"value,omitempty"`
}

// SetupReason maps a setup to its reason tag.
func SetupReason(s SetupType) ReasonCode {
	switch s {
	case SetupBreakout:
		return ReasonSetupBreakout
	case SetupRetest:
		return ReasonSetupRetest
	case SetupDivergence:
		return ReasonSetupDivergence
	case SetupEMABounce:
		return ReasonSetupEMABounce
	default:
		return ReasonNoSetup
	}
}

// LayerScores holds the four normalized (0-100) layer scores of a signal.
type LayerScores struct {
	Tradeability float64 `json:"tradeability"`
	Direction    float64 `json:"direction"`
	Entry        float64 `json:"entry"`
	Sentiment    float64 `json:"sentiment"`
}

// Signal is a scored trading opportunity produced by the composer.
type Signal struct {
	ID         string
	Symbol     string
	Profile    string
	Mode       Mode
	Direction  Direction
	Score      float64 // 0-100
	EntryPrice float64
	StopLoss   float64
	TP1        float64
	TP2        float64
	TP3        float64
	Leverage   int
	Quantity   float64 // Size at the profile's default margin
	Margin     float64 // Default margin used to size the signal
	ATR        float64 // Volatility the levels were derived from
	SetupType  SetupType
	Layers     LayerScores
	Reasons    []Reason
	CreatedAt  time.Time
	Status     SignalStatus
}

// IsExpired reports whether the signal is older than ttl at now.
func (s *Signal) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}

// Context extracts the trade context from the signal's score and reasons.
func (s *Signal) Context() TradeContext {
	c := TradeContext{Score: s.Score}
	for _, r := range s.Reasons {
		switch r.Code {
		case ReasonRegimeTrending:
			c.Regime = "trending"
		case ReasonRegimeRanging:
			c.Regime = "ranging"
		case ReasonRegimeVolatile:
			c.Regime = "volatile"
		case ReasonMTFConfluence:
			c.MTF = int(r.Value)
		}
	}
	return c
}

// HasReason reports whether the signal carries the given tag.
func (s *Signal) HasReason(code ReasonCode) bool {
	for _, r := range s.Reasons {
		if r.Code == code {
			return true
		}
	}
	return false
}
