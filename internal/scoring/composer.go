package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/indicators"
	"cryptoSignalBot/internal/ports"
)

// Layer weights of the final score.
const (
	WeightTradeability = 0.30
	WeightDirection    = 0.25
	WeightEntry        = 0.25
	WeightSentiment    = 0.20
)

// DisabledChecker reports whether a setup combination is currently suppressed.
type DisabledChecker interface {
	IsDisabled(key domain.SetupKey) bool
}

// ScoreAdjuster returns a learned score adjustment for a candidate signal.
type ScoreAdjuster interface {
	Modifier(f domain.Features) float64
}

// MarketView is the read-only market data one evaluation works on.
type MarketView struct {
	Symbol       string
	Snapshot     *domain.MarketSnapshot
	EntryCandles []domain.Candle // Trading timeframe
	TrendCandles []domain.Candle // Higher timeframe
}

// Inputs are the layer results combined by Compose.
type Inputs struct {
	Symbol       string
	Mode         domain.Mode
	Tradeability TradeabilityResult
	Direction    DirectionResult
	Entry        EntryResult
	Sentiment    float64 // 0-1, already normalized for the direction
	Regime       *Regime
	FundingRate  float64
	SpreadPct    float64
	At           time.Time // Market time of the evaluation, zero when unknown
}

// Decision is the composer output. Rejection is empty when Accepted.
type Decision struct {
	Accepted  bool
	Rejection domain.ReasonCode
	Symbol    string
	Mode      domain.Mode
	Score     float64 // 0-100
	Direction domain.Direction
	Setup     domain.SetupType
	Layers    domain.LayerScores
	Reasons   []domain.Reason
	Price     float64
	ATR       float64
}

// Composer combines the four layers under one profile's thresholds.
type Composer struct {
	profile   config.Profile
	disabled  DisabledChecker
	sentiment *SentimentEvaluator
	adjuster  ScoreAdjuster
}

// NewComposer creates a composer for a profile.
func NewComposer(profile config.Profile, disabled DisabledChecker, sentiment *SentimentEvaluator) *Composer {
	return &Composer{profile: profile, disabled: disabled, sentiment: sentiment}
}

// WithAdjuster sets the learned score adjustment. It is applied only when
// the profile enables adaptive_adjust.
func (c *Composer) WithAdjuster(a ScoreAdjuster) *Composer {
	c.adjuster = a
	return c
}

// Profile returns the profile the composer was built with.
func (c *Composer) Profile() config.Profile {
	return c.profile
}

// Evaluate runs every layer over the view for one mode and composes the result.
// Data gaps are returned as errors wrapping ports.ErrDataGap.
func (c *Composer) Evaluate(ctx context.Context, view MarketView, mode domain.Mode) (Decision, error) {
	mc, ok := c.profile.Modes[mode]
	if !ok || !mc.Enabled {
		return Decision{}, fmt.Errorf("%w: mode %s not enabled for profile %s", ports.ErrInvalidRequest, mode, c.profile.Name)
	}
	if view.Snapshot == nil {
		return Decision{}, fmt.Errorf("%w: no snapshot for %s", ports.ErrDataGap, view.Symbol)
	}

	a, err := EvaluateTradeability(c.profile.Tradeability, mc, view.Snapshot, view.EntryCandles)
	if err != nil {
		return Decision{}, err
	}
	b, err := EvaluateDirection(c.profile.Direction, view.TrendCandles)
	if err != nil {
		return Decision{}, err
	}
	e, err := EvaluateEntry(c.profile.Entry, mc, b.Direction, view.EntryCandles)
	if err != nil {
		return Decision{}, err
	}
	atr, err := indicators.ATR(view.EntryCandles, atrPeriod)
	if err != nil {
		return Decision{}, err
	}

	in := Inputs{
		Symbol:       view.Symbol,
		Mode:         mode,
		Tradeability: a,
		Direction:    b,
		Entry:        e,
		Sentiment:    c.sentiment.Score(ctx, b.Direction),
		FundingRate:  view.Snapshot.FundingRatePct,
		SpreadPct:    view.Snapshot.SpreadPct,
		At:           view.Snapshot.Timestamp,
	}
	if in.At.IsZero() && len(view.EntryCandles) > 0 {
		in.At = view.EntryCandles[len(view.EntryCandles)-1].OpenTime
	}
	if regime, err := DetectRegime(view.EntryCandles); err == nil {
		in.Regime = &regime
	}

	d := c.Compose(in)
	d.Price = view.Snapshot.Price
	if d.Price <= 0 {
		d.Price = indicators.Last(indicators.Closes(view.EntryCandles))
	}
	d.ATR = indicators.Last(atr)
	return d, nil
}

// Compose weights the layers and applies the acceptance rules in order:
// tradable, direction, setup, minimum score, learner gate.
func (c *Composer) Compose(in Inputs) Decision {
	d := Decision{
		Symbol:    in.Symbol,
		Mode:      in.Mode,
		Direction: in.Direction.Direction,
		Setup:     in.Entry.Setup,
		Layers: domain.LayerScores{
			Tradeability: score100(in.Tradeability.Score),
			Direction:    score100(in.Direction.Confidence),
			Entry:        score100(in.Entry.Score),
			Sentiment:    score100(in.Sentiment),
		},
	}
	d.Score = WeightTradeability*d.Layers.Tradeability +
		WeightDirection*d.Layers.Direction +
		WeightEntry*d.Layers.Entry +
		WeightSentiment*d.Layers.Sentiment

	d.Reasons = []domain.Reason{
		{Code: domain.ReasonTradeability, Value: d.Layers.Tradeability},
		{Code: domain.ReasonDirection, Value: d.Layers.Direction},
		{Code: domain.ReasonEntry, Value: d.Layers.Entry},
		{Code: domain.ReasonSentiment, Value: d.Layers.Sentiment},
	}
	if in.Entry.Triggered {
		d.Reasons = append(d.Reasons,
			domain.Reason{Code: domain.SetupReason(in.Entry.Setup), Value: in.Entry.Score * 100},
			domain.Reason{Code: domain.ReasonConfluence, Value: float64(len(in.Entry.Confluence))},
		)
	}
	if in.Regime != nil {
		mod := in.Regime.Modifier(in.Entry.Setup)
		d.Reasons = append(d.Reasons, domain.Reason{Code: in.Regime.Reason(), Value: mod})
		if c.profile.RegimeAdjust {
			d.Score += mod
		}
	}
	mtf := mtfConfluence(in.Direction)
	if in.Direction.Direction == domain.Long || in.Direction.Direction == domain.Short {
		d.Reasons = append(d.Reasons, domain.Reason{Code: domain.ReasonMTFConfluence, Value: float64(mtf)})
	}
	if c.adjuster != nil && c.profile.AdaptiveAdjust && in.Entry.Triggered {
		features := domain.Features{
			Setup:     in.Entry.Setup,
			Symbol:    in.Symbol,
			Mode:      in.Mode,
			Direction: in.Direction.Direction,
			At:        in.At,
			Context:   domain.TradeContext{Score: math.Max(0, math.Min(100, d.Score)), MTF: mtf},
		}
		if in.Regime != nil {
			features.Context.Regime = string(in.Regime.Kind)
		}
		if mod := c.adjuster.Modifier(features); mod != 0 {
			d.Reasons = append(d.Reasons, domain.Reason{Code: domain.ReasonAdaptive, Value: mod})
			d.Score += mod
		}
	}
	if in.FundingRate != 0 {
		d.Reasons = append(d.Reasons, domain.Reason{Code: domain.ReasonFundingRate, Value: in.FundingRate})
	}
	if in.SpreadPct < 900 {
		d.Reasons = append(d.Reasons, domain.Reason{Code: domain.ReasonSpread, Value: in.SpreadPct})
	}
	d.Score = math.Max(0, math.Min(100, d.Score))

	switch {
	case in.Tradeability.KilledBy != "":
		return d.reject(KillReason(in.Tradeability.KilledBy), in.Tradeability.KillValue)
	case !in.Tradeability.Tradable:
		return d.reject(domain.ReasonNotTradable, d.Layers.Tradeability)
	case in.Direction.Direction != domain.Long && in.Direction.Direction != domain.Short:
		return d.reject(domain.ReasonNoDirection, 0)
	case !in.Entry.Triggered:
		return d.reject(domain.ReasonNoSetup, 0)
	case d.Score < c.profile.Modes[in.Mode].MinScore:
		return d.reject(domain.ReasonScoreBelowMin, d.Score)
	case c.disabled != nil && c.disabled.IsDisabled(domain.SetupKey{SetupType: in.Entry.Setup, Symbol: in.Symbol, Mode: in.Mode}):
		return d.reject(domain.ReasonSetupDisabled, 0)
	}
	d.Accepted = true
	return d
}

func (d Decision) reject(code domain.ReasonCode, value float64) Decision {
	d.Accepted = false
	d.Rejection = code
	d.Reasons = append(d.Reasons, domain.Reason{Code: code, Value: value})
	return d
}

// mtfConfluence counts the higher-timeframe votes agreeing with the chosen
// direction minus those against it.
func mtfConfluence(b DirectionResult) int {
	switch b.Direction {
	case domain.Long:
		return b.LongVotes - b.ShortVotes
	case domain.Short:
		return b.ShortVotes - b.LongVotes
	default:
		return 0
	}
}

func score100(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v*100))
}
