package scoring

import (
	"fmt"
	"math"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/indicators"
)

// RegimeKind classifies the market behaviour on the trading timeframe.
type RegimeKind string

const (
	RegimeTrending RegimeKind = "trending"
	RegimeRanging  RegimeKind = "ranging"
	RegimeVolatile RegimeKind = "volatile"
)

const adxPeriod = 14

// Regime is the detected market regime.
type Regime struct {
	Kind       RegimeKind
	Confidence float64
	ADX        float64
	Bandwidth  float64
	ATRRatio   float64
}

// DetectRegime classifies candles as volatile, trending or ranging from ADX,
// Bollinger bandwidth and the ATR ratio.
func DetectRegime(candles []domain.Candle) (Regime, error) {
	adx, err := indicators.ADX(candles, adxPeriod)
	if err != nil {
		return Regime{}, fmt.Errorf("regime: %w", err)
	}
	bands, err := indicators.BollingerBands(indicators.Closes(candles), bbPeriod, bbStdDev)
	if err != nil {
		return Regime{}, fmt.Errorf("regime: %w", err)
	}
	atr, err := indicators.ATR(candles, atrPeriod)
	if err != nil {
		return Regime{}, fmt.Errorf("regime: %w", err)
	}

	r := Regime{
		ADX:       indicators.Last(adx),
		Bandwidth: indicators.Last(bands.Bandwidth),
		ATRRatio:  1,
	}
	if mean := indicators.MeanOfLast(atr, atrMeanWindow); mean > 0 {
		r.ATRRatio = indicators.Last(atr) / mean
	}

	switch {
	case r.ATRRatio > 2 || r.Bandwidth > 5:
		r.Kind = RegimeVolatile
		r.Confidence = math.Min(1, math.Max(r.ATRRatio/3, r.Bandwidth/8))
	case r.ADX >= 25 && r.Bandwidth >= 1.5:
		r.Kind = RegimeTrending
		r.Confidence = math.Min(1, (r.ADX-20)/30)
	case r.ADX < 20 && r.Bandwidth < 2:
		r.Kind = RegimeRanging
		r.Confidence = math.Min(1, (20-r.ADX)/15)
	default:
		r.Kind = RegimeRanging
		if r.ADX >= 22 {
			r.Kind = RegimeTrending
		}
		r.Confidence = 0.3
	}
	return r, nil
}

// Modifier returns the score adjustment for a setup in this regime,
// scaled by confidence and truncated to whole points.
func (r Regime) Modifier(setup domain.SetupType) float64 {
	var base float64
	switch r.Kind {
	case RegimeVolatile:
		base = -5
	case RegimeRanging:
		switch setup {
		case domain.SetupBreakout:
			base = -5
		case domain.SetupRetest:
			base = 5
		}
	case RegimeTrending:
		switch setup {
		case domain.SetupBreakout:
			base = 8
		case domain.SetupRetest:
			base = 3
		}
	}
	return math.Trunc(base * math.Min(1, math.Max(0.1, r.Confidence)))
}

// Reason returns the reason tag of the regime.
func (r Regime) Reason() domain.ReasonCode {
	switch r.Kind {
	case RegimeTrending:
		return domain.ReasonRegimeTrending
	case RegimeVolatile:
		return domain.ReasonRegimeVolatile
	default:
		return domain.ReasonRegimeRanging
	}
}
