package scoring

import (
	"fmt"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/indicators"
)

const (
	emaFast   = 20
	emaSlow   = 50
	rsiPeriod = 14
)

// DirectionResult is the Layer B verdict.
type DirectionResult struct {
	Direction    domain.Direction
	Confidence   float64 // 1.0 for 3 votes, 0.7 for 2, 0.4 without consensus
	LongVotes    int
	ShortVotes   int
	EMASpreadPct float64
	RSI          float64
	Structure    indicators.Bias
}

// EvaluateDirection votes on the higher-timeframe bias using the EMA20/50
// spread, market structure and RSI. Two agreeing votes set the direction.
func EvaluateDirection(cfg config.DirectionConfig, candles []domain.Candle) (DirectionResult, error) {
	closes := indicators.Closes(candles)
	fast, err := indicators.EMA(closes, emaFast)
	if err != nil {
		return DirectionResult{}, fmt.Errorf("direction: %w", err)
	}
	slow, err := indicators.EMA(closes, emaSlow)
	if err != nil {
		return DirectionResult{}, fmt.Errorf("direction: %w", err)
	}
	rsi, err := indicators.RSI(closes, rsiPeriod)
	if err != nil {
		return DirectionResult{}, fmt.Errorf("direction: %w", err)
	}

	res := DirectionResult{Direction: domain.DirectionNone, Confidence: 0.4}
	price := indicators.Last(closes)
	ema20, ema50 := indicators.Last(fast), indicators.Last(slow)

	if ema50 > 0 {
		res.EMASpreadPct = (ema20 - ema50) / ema50 * 100
		switch {
		case res.EMASpreadPct > cfg.EMANeutralPct && price > ema20:
			res.LongVotes++
		case res.EMASpreadPct < -cfg.EMANeutralPct && price < ema20:
			res.ShortVotes++
		}
	}

	res.Structure = indicators.Structure(candles, min(cfg.StructureLookback, len(candles))).Trend
	switch res.Structure {
	case indicators.Bullish:
		res.LongVotes++
	case indicators.Bearish:
		res.ShortVotes++
	}

	res.RSI = indicators.Last(rsi)
	switch {
	case res.RSI > cfg.RSILong:
		res.LongVotes++
	case res.RSI < cfg.RSIShort:
		res.ShortVotes++
	}

	votes := 0
	switch {
	case res.LongVotes >= 2:
		res.Direction, votes = domain.Long, res.LongVotes
	case res.ShortVotes >= 2:
		res.Direction, votes = domain.Short, res.ShortVotes
	}
	switch votes {
	case 3:
		res.Confidence = 1.0
	case 2:
		res.Confidence = 0.7
	}
	return res, nil
}
