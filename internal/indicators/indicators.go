package indicators

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// ErrInsufficientData is returned when a series is shorter than the indicator lookback.
var ErrInsufficientData = fmt.Errorf("%w: not enough candles", ports.ErrDataGap)

// Bands holds Bollinger Band series. Bandwidth is (upper-lower)/middle in percent.
type Bands struct {
	Upper     []float64
	Middle    []float64
	Lower     []float64
	Bandwidth []float64
}

// Closes extracts close prices.
func Closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return sanitize(out)
}

// Highs extracts high prices.
func Highs(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return sanitize(out)
}

// Lows extracts low prices.
func Lows(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return sanitize(out)
}

// Volumes extracts traded volume.
func Volumes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return sanitize(out)
}

// EMA computes the exponential moving average. The first period-1 values are warm-up.
func EMA(values []float64, period int) ([]float64, error) {
	if period <= 0 || len(values) < period {
		return nil, fmt.Errorf("EMA(%d) over %d values: %w", period, len(values), ErrInsufficientData)
	}
	return talib.Ema(values, period), nil
}

// SMA computes the simple moving average.
func SMA(values []float64, period int) ([]float64, error) {
	if period <= 0 || len(values) < period {
		return nil, fmt.Errorf("SMA(%d) over %d values: %w", period, len(values), ErrInsufficientData)
	}
	return talib.Sma(values, period), nil
}

// RSI computes the relative strength index using Wilder's smoothing.
func RSI(values []float64, period int) ([]float64, error) {
	if period <= 0 || len(values) <= period {
		return nil, fmt.Errorf("RSI(%d) over %d values: %w", period, len(values), ErrInsufficientData)
	}
	return talib.Rsi(values, period), nil
}

// ATR computes the average true range.
func ATR(candles []domain.Candle, period int) ([]float64, error) {
	if period <= 0 || len(candles) <= period {
		return nil, fmt.Errorf("ATR(%d) over %d candles: %w", period, len(candles), ErrInsufficientData)
	}
	return talib.Atr(Highs(candles), Lows(candles), Closes(candles), period), nil
}

// ADX computes the average directional index.
func ADX(candles []domain.Candle, period int) ([]float64, error) {
	if period <= 0 || len(candles) < 2*period+1 {
		return nil, fmt.Errorf("ADX(%d) over %d candles: %w", period, len(candles), ErrInsufficientData)
	}
	return talib.Adx(Highs(candles), Lows(candles), Closes(candles), period), nil
}

// BollingerBands computes bands around an SMA with stdDev deviations.
func BollingerBands(values []float64, period int, stdDev float64) (Bands, error) {
	if period <= 1 || len(values) < period {
		return Bands{}, fmt.Errorf("BBands(%d) over %d values: %w", period, len(values), ErrInsufficientData)
	}
	upper, middle, lower := talib.BBands(values, period, stdDev, stdDev, talib.SMA)
	bw := make([]float64, len(middle))
	for i := range middle {
		if middle[i] != 0 {
			bw[i] = (upper[i] - lower[i]) / middle[i] * 100
		}
	}
	return Bands{Upper: upper, Middle: middle, Lower: lower, Bandwidth: bw}, nil
}

// VWAP computes the cumulative volume-weighted average of the typical price.
// Values stay 0 until some volume has traded.
func VWAP(candles []domain.Candle) ([]float64, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("VWAP over 0 candles: %w", ErrInsufficientData)
	}
	out := make([]float64, len(candles))
	var cumVol, cumPV float64
	for i, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		if !finite(typical) || !finite(c.Volume) {
			if i > 0 {
				out[i] = out[i-1]
			}
			continue
		}
		cumVol += c.Volume
		cumPV += typical * c.Volume
		if cumVol > 0 {
			out[i] = cumPV / cumVol
		}
	}
	return out, nil
}

// VolumeRatio compares the average volume of the last fast candles with the
// average of the last slow candles.
func VolumeRatio(candles []domain.Candle, fast, slow int) (float64, error) {
	if fast <= 0 || slow < fast || len(candles) < slow {
		return 0, fmt.Errorf("volume ratio %d/%d over %d candles: %w", fast, slow, len(candles), ErrInsufficientData)
	}
	vols := Volumes(candles)
	slowMean := mean(vols[len(vols)-slow:])
	if slowMean == 0 {
		return 0, nil
	}
	return mean(vols[len(vols)-fast:]) / slowMean, nil
}

// Last returns the final value of a series, 0 when empty.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// MeanOfLast averages the last n values of a series, skipping warm-up zeros.
func MeanOfLast(series []float64, n int) float64 {
	if n > len(series) {
		n = len(series)
	}
	var sum float64
	var count int
	for _, v := range series[len(series)-n:] {
		if v == 0 {
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// sanitize replaces NaN/Inf with the previous finite value so series stay aligned with candles.
func sanitize(values []float64) []float64 {
	var prev float64
	for i, v := range values {
		if !finite(v) {
			values[i] = prev
			continue
		}
		prev = v
	}
	return values
}
