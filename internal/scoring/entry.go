package scoring

import (
	"fmt"
	"math"
	"sort"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/indicators"
)

const (
	bbPeriod       = 20
	bbStdDev       = 2.0
	rangeLookback  = 20
	maxVolumePts   = 20
	detectorMaxPts = 50
	layerCMaxPts   = 75

	breakoutBasePts   = 15
	breakoutMaxPts    = 30
	retestPts         = 20
	divergencePts     = 22
	divergenceVolPts  = 10
	emaBouncePts      = 25
	confluenceOnePts  = 5
	confluenceTwoPts  = 15
	confluenceManyPts = 25
)

// SetupResult is a single triggered detector.
type SetupResult struct {
	Setup   domain.SetupType
	Pattern float64
	Volume  float64
}

// Score returns the normalized detector score.
func (s SetupResult) Score() float64 {
	return (s.Pattern + s.Volume) / detectorMaxPts
}

// EntryResult is the Layer C verdict.
type EntryResult struct {
	Triggered       bool
	Setup           domain.SetupType
	Score           float64 // 0-1
	Pattern         float64
	Volume          float64
	ConfluenceBonus float64
	Confluence      []domain.SetupType // Every triggered setup, winner first
	VolumeRatio     float64
}

// EvaluateEntry runs the detectors allowed by the mode in the given direction.
func EvaluateEntry(cfg config.EntryConfig, mode config.ModeConfig, dir domain.Direction, candles []domain.Candle) (EntryResult, error) {
	if dir != domain.Long && dir != domain.Short {
		return EntryResult{}, nil
	}
	closes := indicators.Closes(candles)
	bands, err := indicators.BollingerBands(closes, bbPeriod, bbStdDev)
	if err != nil {
		return EntryResult{}, fmt.Errorf("entry: %w", err)
	}
	fast, err := indicators.EMA(closes, emaFast)
	if err != nil {
		return EntryResult{}, fmt.Errorf("entry: %w", err)
	}
	slow, err := indicators.EMA(closes, emaSlow)
	if err != nil {
		return EntryResult{}, fmt.Errorf("entry: %w", err)
	}
	rsi, err := indicators.RSI(closes, rsiPeriod)
	if err != nil {
		return EntryResult{}, fmt.Errorf("entry: %w", err)
	}
	volRatio, err := indicators.VolumeRatio(candles, 1, rangeLookback)
	if err != nil {
		return EntryResult{}, fmt.Errorf("entry: %w", err)
	}

	d := detectors{
		cfg:      cfg,
		dir:      dir,
		candles:  candles,
		close:    indicators.Last(closes),
		bands:    bands,
		ema20:    indicators.Last(fast),
		ema50:    indicators.Last(slow),
		rsi:      rsi,
		closes:   closes,
		volRatio: volRatio,
	}

	var hits []SetupResult
	for _, setup := range domain.SetupPriority {
		if !mode.AllowsSetup(setup) {
			continue
		}
		if r, ok := d.run(setup); ok {
			hits = append(hits, r)
		}
	}
	res := EntryResult{VolumeRatio: volRatio}
	if len(hits) == 0 {
		return res, nil
	}

	// Stable sort keeps priority order among equal scores.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score() > hits[j].Score() })
	best := hits[0]

	res.Triggered = true
	res.Setup = best.Setup
	res.Pattern = best.Pattern
	res.Volume = best.Volume
	res.ConfluenceBonus = confluenceBonus(len(hits))
	for _, h := range hits {
		res.Confluence = append(res.Confluence, h.Setup)
	}
	res.Score = math.Min(1, (res.Pattern+res.Volume+res.ConfluenceBonus)/layerCMaxPts)
	return res, nil
}

func confluenceBonus(n int) float64 {
	switch {
	case n >= 3:
		return confluenceManyPts
	case n == 2:
		return confluenceTwoPts
	case n == 1:
		return confluenceOnePts
	}
	return 0
}

type detectors struct {
	cfg      config.EntryConfig
	dir      domain.Direction
	candles  []domain.Candle
	closes   []float64
	close    float64
	bands    indicators.Bands
	ema20    float64
	ema50    float64
	rsi      []float64
	volRatio float64
}

func (d detectors) run(setup domain.SetupType) (SetupResult, bool) {
	switch setup {
	case domain.SetupBreakout:
		return d.breakout()
	case domain.SetupRetest:
		return d.retest()
	case domain.SetupDivergence:
		return d.divergence()
	case domain.SetupEMABounce:
		return d.emaBounce()
	}
	return SetupResult{}, false
}

func (d detectors) volumePoints() float64 {
	return math.Min(maxVolumePts, 10*d.volRatio)
}

func (d detectors) breakout() (SetupResult, bool) {
	if indicators.Last(d.bands.Bandwidth) > d.cfg.BBSqueezePct || d.volRatio < d.cfg.VolumeSpike {
		return SetupResult{}, false
	}
	beyond := (d.dir == domain.Long && d.close > indicators.Last(d.bands.Upper)) ||
		(d.dir == domain.Short && d.close < indicators.Last(d.bands.Lower))
	if !beyond {
		return SetupResult{}, false
	}
	pattern := math.Min(breakoutMaxPts, breakoutBasePts+breakoutMaxPts*(d.volRatio-d.cfg.VolumeSpike)/d.cfg.VolumeSpike)
	return SetupResult{Setup: domain.SetupBreakout, Pattern: pattern, Volume: d.volumePoints()}, true
}

func (d detectors) retest() (SetupResult, bool) {
	if len(d.candles) < rangeLookback {
		return SetupResult{}, false
	}
	last := d.candles[len(d.candles)-1]
	if last.Range() <= 0 {
		return SetupResult{}, false
	}
	window := d.candles[len(d.candles)-rangeLookback:]
	buffer := d.cfg.RetestBufferPct / 100
	minWick := last.Body() * d.cfg.RejectionWickRatio

	switch d.dir {
	case domain.Long:
		low := math.Inf(1)
		for _, c := range window {
			low = math.Min(low, c.Low)
		}
		if d.close > low && d.close <= low*(1+buffer) && last.LowerWick() > minWick {
			return SetupResult{Setup: domain.SetupRetest, Pattern: retestPts, Volume: d.volumePoints()}, true
		}
	case domain.Short:
		high := math.Inf(-1)
		for _, c := range window {
			high = math.Max(high, c.High)
		}
		if d.close < high && d.close >= high*(1-buffer) && last.UpperWick() > minWick {
			return SetupResult{Setup: domain.SetupRetest, Pattern: retestPts, Volume: d.volumePoints()}, true
		}
	}
	return SetupResult{}, false
}

func (d detectors) divergence() (SetupResult, bool) {
	div := indicators.Divergence(d.closes, d.rsi, d.cfg.DivergenceLookback)
	if (d.dir == domain.Long && div == indicators.Bullish) || (d.dir == domain.Short && div == indicators.Bearish) {
		return SetupResult{Setup: domain.SetupDivergence, Pattern: divergencePts, Volume: divergenceVolPts}, true
	}
	return SetupResult{}, false
}

func (d detectors) emaBounce() (SetupResult, bool) {
	if d.ema20 <= 0 || d.close <= 0 {
		return SetupResult{}, false
	}
	if math.Abs(d.close-d.ema20)/d.ema20*100 > d.cfg.EMAProximityPct {
		return SetupResult{}, false
	}
	engulfing, pin := indicators.Engulfing(d.candles), indicators.PinBar(d.candles)
	switch {
	case d.dir == domain.Long && d.ema20 > d.ema50 && (engulfing == indicators.Bullish || pin == indicators.Bullish),
		d.dir == domain.Short && d.ema20 < d.ema50 && (engulfing == indicators.Bearish || pin == indicators.Bearish):
		return SetupResult{Setup: domain.SetupEMABounce, Pattern: emaBouncePts, Volume: d.volumePoints()}, true
	}
	return SetupResult{}, false
}
