package indicators

import "cryptoSignalBot/internal/domain"

// Bias is a bullish/bearish/neutral classification.
type Bias string

const (
	Neutral Bias = "neutral"
	Bullish Bias = "bullish"
	Bearish Bias = "bearish"
)

// pivotWidth is the number of bars on each side a swing point must exceed.
const pivotWidth = 2

// MarketStructure describes the last two swing highs and lows.
type MarketStructure struct {
	Trend      Bias
	HH, HL     bool
	LH, LL     bool
	SwingHighs []float64
	SwingLows  []float64
}

// Structure labels swing points over the last lookback candles.
// A swing high is a bar whose high exceeds the two bars on each side; swing lows mirror it.
// Trend is bullish on HH+HL, bearish on LH+LL, neutral otherwise or with fewer than two swings.
func Structure(candles []domain.Candle, lookback int) MarketStructure {
	ms := MarketStructure{Trend: Neutral}
	if lookback <= 2*pivotWidth || len(candles) < lookback {
		return ms
	}
	recent := candles[len(candles)-lookback:]
	for i := pivotWidth; i < len(recent)-pivotWidth; i++ {
		h, l := recent[i].High, recent[i].Low
		isHigh, isLow := true, true
		for j := 1; j <= pivotWidth; j++ {
			if !(h > recent[i-j].High && h > recent[i+j].High) {
				isHigh = false
			}
			if !(l < recent[i-j].Low && l < recent[i+j].Low) {
				isLow = false
			}
		}
		if isHigh {
			ms.SwingHighs = append(ms.SwingHighs, h)
		}
		if isLow {
			ms.SwingLows = append(ms.SwingLows, l)
		}
	}
	if len(ms.SwingHighs) < 2 || len(ms.SwingLows) < 2 {
		return ms
	}
	lastH, prevH := ms.SwingHighs[len(ms.SwingHighs)-1], ms.SwingHighs[len(ms.SwingHighs)-2]
	lastL, prevL := ms.SwingLows[len(ms.SwingLows)-1], ms.SwingLows[len(ms.SwingLows)-2]
	ms.HH, ms.LH = lastH > prevH, lastH < prevH
	ms.HL, ms.LL = lastL > prevL, lastL < prevL
	switch {
	case ms.HH && ms.HL:
		ms.Trend = Bullish
	case ms.LH && ms.LL:
		ms.Trend = Bearish
	}
	return ms
}

// Divergence compares price and oscillator extremes between the two halves of
// the last lookback values. Bullish: price lower low while the oscillator makes
// a higher low. Bearish: price higher high while the oscillator makes a lower high.
// Oscillator values still in warm-up (zero) disable detection.
func Divergence(prices, osc []float64, lookback int) Bias {
	if lookback < 4 || len(prices) < lookback || len(osc) < lookback {
		return Neutral
	}
	p := prices[len(prices)-lookback:]
	o := osc[len(osc)-lookback:]
	for _, v := range o {
		if v == 0 {
			return Neutral
		}
	}
	half := lookback / 2

	low1, low2 := argMin(p[:half]), half+argMin(p[half:])
	if p[low2] < p[low1] && o[low2] > o[low1] {
		return Bullish
	}
	high1, high2 := argMax(p[:half]), half+argMax(p[half:])
	if p[high2] > p[high1] && o[high2] < o[high1] {
		return Bearish
	}
	return Neutral
}

// Engulfing detects a two-candle engulfing pattern on the last two candles.
func Engulfing(candles []domain.Candle) Bias {
	if len(candles) < 2 {
		return Neutral
	}
	prev, curr := candles[len(candles)-2], candles[len(candles)-1]
	prevBody := prev.Close - prev.Open
	currBody := curr.Close - curr.Open
	if prevBody < 0 && currBody > 0 && curr.Open <= prev.Close && curr.Close >= prev.Open {
		return Bullish
	}
	if prevBody > 0 && currBody < 0 && curr.Open >= prev.Close && curr.Close <= prev.Open {
		return Bearish
	}
	return Neutral
}

// PinBar detects a rejection candle whose dominant wick is at least twice the
// body and twice the opposite wick.
func PinBar(candles []domain.Candle) Bias {
	if len(candles) == 0 {
		return Neutral
	}
	c := candles[len(candles)-1]
	if c.Range() <= 0 {
		return Neutral
	}
	body, upper, lower := c.Body(), c.UpperWick(), c.LowerWick()
	if lower > body*2 && lower > upper*2 {
		return Bullish
	}
	if upper > body*2 && upper > lower*2 {
		return Bearish
	}
	return Neutral
}

func argMin(values []float64) int {
	idx := 0
	for i, v := range values {
		if v < values[idx] {
			idx = i
		}
	}
	return idx
}

func argMax(values []float64) int {
	idx := 0
	for i, v := range values {
		if v > values[idx] {
			idx = i
		}
	}
	return idx
}
