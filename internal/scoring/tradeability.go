package scoring

import (
	"fmt"
	"math"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/indicators"
)

// CheckName identifies one of the Layer A checks.
type CheckName string

const (
	CheckVolatility   CheckName = "volatility"
	CheckVolume       CheckName = "volume"
	CheckSpread       CheckName = "spread"
	CheckDepth        CheckName = "depth"
	CheckFunding      CheckName = "funding"
	CheckOpenInterest CheckName = "open_interest"
)

const (
	atrPeriod        = 14
	atrMeanWindow    = 50
	volumeSMAPeriod  = 20
	neutralBookScore = 0.7
)

// CheckResult is the outcome of a single tradeability check.
type CheckResult struct {
	Name   CheckName
	Score  float64 // 0-1
	Value  float64 // Measurement the score was derived from
	Passed bool
	Killed bool
}

// TradeabilityResult is the Layer A verdict.
type TradeabilityResult struct {
	Score        float64 // 0-1
	Tradable     bool
	KilledBy     CheckName
	KillValue    float64
	FailedChecks []CheckName
	Checks       []CheckResult
}

// EvaluateTradeability runs the six checks in fixed order. The first kill switch
// short-circuits the evaluation with a zero score.
func EvaluateTradeability(cfg config.TradeabilityConfig, mode config.ModeConfig, snap *domain.MarketSnapshot, candles []domain.Candle) (TradeabilityResult, error) {
	if snap == nil {
		return TradeabilityResult{}, fmt.Errorf("tradeability: %w", indicators.ErrInsufficientData)
	}
	atr, err := indicators.ATR(candles, atrPeriod)
	if err != nil {
		return TradeabilityResult{}, fmt.Errorf("tradeability: %w", err)
	}
	volSMA, err := indicators.SMA(indicators.Volumes(candles), volumeSMAPeriod)
	if err != nil {
		return TradeabilityResult{}, fmt.Errorf("tradeability: %w", err)
	}

	atrRatio := ratio(indicators.Last(atr), indicators.MeanOfLast(atr, atrMeanWindow))
	volRatio := ratio(candles[len(candles)-1].Volume, indicators.Last(volSMA))

	checks := []func() CheckResult{
		func() CheckResult { return checkVolatility(cfg, atrRatio) },
		func() CheckResult { return checkVolume(cfg, volRatio) },
		func() CheckResult { return checkSpread(cfg, mode.SpreadMaxPct, snap.SpreadPct) },
		func() CheckResult { return checkDepth(cfg, snap.BidDepthUSD+snap.AskDepthUSD) },
		func() CheckResult { return checkFunding(cfg, snap.FundingRatePct) },
		func() CheckResult { return checkOpenInterest(cfg, snap.OIChangePct) },
	}

	res := TradeabilityResult{Checks: make([]CheckResult, 0, len(checks))}
	for _, run := range checks {
		c := run()
		res.Checks = append(res.Checks, c)
		if c.Killed {
			res.KilledBy = c.Name
			res.KillValue = c.Value
			res.FailedChecks = append(res.FailedChecks, c.Name)
			return res, nil
		}
		if !c.Passed {
			res.FailedChecks = append(res.FailedChecks, c.Name)
		}
		res.Score += c.Score * weightOf(cfg.Weights, c.Name)
	}
	res.Score = clamp01(res.Score)
	res.Tradable = res.Score >= cfg.MinScore
	return res, nil
}

func weightOf(w config.TradeabilityWeights, name CheckName) float64 {
	switch name {
	case CheckVolatility:
		return w.Volatility
	case CheckVolume:
		return w.Volume
	case CheckSpread:
		return w.Spread
	case CheckDepth:
		return w.Depth
	case CheckFunding:
		return w.Funding
	case CheckOpenInterest:
		return w.OpenInterest
	}
	return 0
}

func checkVolatility(cfg config.TradeabilityConfig, r float64) CheckResult {
	c := CheckResult{Name: CheckVolatility, Value: r}
	if r >= cfg.ATRKillRatio {
		c.Killed = true
		return c
	}
	minR, maxR := cfg.ATRMinRatio, cfg.ATRMaxRatio
	if r < minR || r > maxR {
		return c
	}
	mid := (minR + maxR) / 2
	if r <= mid {
		c.Score = (r - minR) / (mid - minR)
	} else {
		c.Score = 1 - (r-mid)/(maxR-mid)
	}
	return passed(c)
}

func checkVolume(cfg config.TradeabilityConfig, r float64) CheckResult {
	c := CheckResult{Name: CheckVolume, Value: r}
	switch {
	case r < cfg.VolumeMinRatio || r == 0:
	case r >= 2:
		c.Score = 1
	default:
		c.Score = (r - cfg.VolumeMinRatio) / (2 - cfg.VolumeMinRatio)
	}
	return passed(c)
}

func checkSpread(cfg config.TradeabilityConfig, maxPct, spread float64) CheckResult {
	c := CheckResult{Name: CheckSpread, Value: spread}
	switch {
	case spread >= 900:
		c.Score = neutralBookScore
	case spread >= cfg.SpreadKillPct:
		c.Killed = true
		return c
	case spread >= maxPct:
	default:
		c.Score = 1 - spread/maxPct
	}
	return passed(c)
}

func checkDepth(cfg config.TradeabilityConfig, total float64) CheckResult {
	c := CheckResult{Name: CheckDepth, Value: total}
	minDepth := cfg.MinDepthUSD
	switch {
	case total == 0:
		c.Score = neutralBookScore
	case total < minDepth:
	case total >= minDepth*5:
		c.Score = 1
	default:
		c.Score = (total - minDepth) / (minDepth * 4)
	}
	return passed(c)
}

func checkFunding(cfg config.TradeabilityConfig, fr float64) CheckResult {
	c := CheckResult{Name: CheckFunding, Value: fr}
	abs := math.Abs(fr)
	switch {
	case abs >= cfg.FundingKillPct:
		c.Killed = true
		return c
	case abs >= cfg.FundingMaxPct:
	default:
		c.Score = 1 - abs/cfg.FundingMaxPct
	}
	return passed(c)
}

func checkOpenInterest(cfg config.TradeabilityConfig, chg float64) CheckResult {
	c := CheckResult{Name: CheckOpenInterest, Value: chg}
	switch {
	case chg < -cfg.OIKillDropPct:
		c.Killed = true
		return c
	case chg < -cfg.OIMaxDropPct:
	case math.Abs(chg) < 1:
		c.Score = 1
	default:
		c.Score = math.Max(0, 1-math.Abs(chg)/cfg.OIMaxDropPct)
	}
	return passed(c)
}

func passed(c CheckResult) CheckResult {
	if math.IsNaN(c.Score) {
		c.Score = 0
	}
	c.Score = clamp01(c.Score)
	c.Passed = c.Score > 0
	return c
}

func ratio(a, b float64) float64 {
	if b == 0 || math.IsNaN(a) || math.IsNaN(b) {
		return 0
	}
	return a / b
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// KillReason maps a killed check to its reason tag.
func KillReason(name CheckName) domain.ReasonCode {
	switch name {
	case CheckVolatility:
		return domain.ReasonKillVolatility
	case CheckSpread:
		return domain.ReasonKillSpread
	case CheckFunding:
		return domain.ReasonKillFunding
	case CheckOpenInterest:
		return domain.ReasonKillOpenInterest
	}
	return domain.ReasonNotTradable
}
