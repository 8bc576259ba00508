package learner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// Dimension is one axis the adaptive learner groups trades by.
type Dimension string

const (
	DimSetup      Dimension = "setup_type"
	DimSymbol     Dimension = "symbol"
	DimMode       Dimension = "mode"
	DimRegime     Dimension = "regime"
	DimSession    Dimension = "hour_group"
	DimScoreRange Dimension = "score_range"
	DimDirection  Dimension = "direction"
	DimMTF        Dimension = "mtf_confluence"
)

// Dimensions lists every dimension in reporting order.
var Dimensions = []Dimension{DimSetup, DimSymbol, DimMode, DimRegime, DimSession, DimScoreRange, DimDirection, DimMTF}

// ScoreRanges are the score_range values from lowest to highest.
var ScoreRanges = []string{"0-59", "60-69", "70-79", "80+"}

// AdaptiveConfig holds the windows and the graded response of the adaptive learner.
type AdaptiveConfig struct {
	MinTrades       int           // Trades before a value gets any modifier
	StrongMinTrades int           // Trades before the strong penalty applies
	ShortWindow     time.Duration // Primary win-rate window
	LongWindow      time.Duration // Fallback window, also the edge-decay reference
	HistoryLimit    int           // Most recent trades considered
	CapMin          float64
	CapMax          float64
	DecayDrop       float64          // Win-rate drop in points that raises an edge-decay alert
	Clock           func() time.Time // Defaults to time.Now
}

// DefaultAdaptiveConfig returns the default windows and thresholds.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		MinTrades:       5,
		StrongMinTrades: 8,
		ShortWindow:     7 * 24 * time.Hour,
		LongWindow:      30 * 24 * time.Hour,
		HistoryLimit:    2000,
		CapMin:          -20,
		CapMax:          10,
		DecayDrop:       15,
	}
}

// graded maps a win rate in percent to a score modifier.
func (c AdaptiveConfig) graded(winRate float64, samples int) float64 {
	if samples < c.MinTrades {
		return 0
	}
	switch {
	case winRate < 30 && samples >= c.StrongMinTrades:
		return -15
	case winRate < 40:
		return -8
	case winRate > 65:
		return 5
	default:
		return 0
	}
}

// Weight is the learned state of one dimension value. Win rates are percentages.
type Weight struct {
	Dimension    Dimension
	Value        string
	Modifier     float64
	Confidence   float64 // Samples / 20, capped at 1
	WinRateShort float64
	WinRateLong  float64
	WinRateAll   float64
	Samples      int
	ShortSamples int // Trades inside the short window
	AvgPnL       float64
}

// DecayAlert flags a dimension value whose recent win rate fell well below
// its longer-run rate.
type DecayAlert struct {
	Dimension    Dimension
	Value        string
	WinRateShort float64
	WinRateLong  float64
	Drop         float64
	Samples      int
}

// Adaptive adjusts candidate scores from the profile's own trade history.
// Each dimension value with enough trades contributes a graded modifier; the
// sum is capped.
type Adaptive struct {
	cfg     AdaptiveConfig
	profile string
	repo    ports.TradeRepository
	logger  ports.Logger

	mu      sync.RWMutex
	history []domain.Trade
	weights map[Dimension]map[string]Weight
	alerted map[string]bool
}

// NewAdaptive creates the adaptive learner of one profile. repo may be nil.
func NewAdaptive(profile string, cfg AdaptiveConfig, repo ports.TradeRepository, logger ports.Logger) *Adaptive {
	def := DefaultAdaptiveConfig()
	if cfg.MinTrades <= 0 {
		cfg.MinTrades = def.MinTrades
	}
	if cfg.StrongMinTrades < cfg.MinTrades {
		cfg.StrongMinTrades = max(def.StrongMinTrades, cfg.MinTrades)
	}
	if cfg.ShortWindow <= 0 {
		cfg.ShortWindow = def.ShortWindow
	}
	if cfg.LongWindow < cfg.ShortWindow {
		cfg.LongWindow = max(def.LongWindow, cfg.ShortWindow)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.CapMin == 0 && cfg.CapMax == 0 {
		cfg.CapMin, cfg.CapMax = def.CapMin, def.CapMax
	}
	if cfg.DecayDrop <= 0 {
		cfg.DecayDrop = def.DecayDrop
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Adaptive{
		cfg:     cfg,
		profile: profile,
		repo:    repo,
		logger:  logger,
		weights: make(map[Dimension]map[string]Weight),
		alerted: make(map[string]bool),
	}
}

// Load replaces the history with the profile's stored trades.
func (a *Adaptive) Load(ctx context.Context) error {
	op := "Adaptive.Load"
	if a.repo == nil {
		return nil
	}
	trades, err := a.repo.FindTradesByProfile(ctx, a.profile)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	history := make([]domain.Trade, 0, len(trades))
	for _, t := range trades {
		history = append(history, *t)
	}

	a.mu.Lock()
	a.history = a.trim(history)
	a.recompute()
	alerts := a.newAlerts()
	a.mu.Unlock()

	a.logAlerts(ctx, alerts)
	if a.logger != nil {
		a.logger.Info(ctx, op+": Trade history loaded", map[string]interface{}{"profile": a.profile, "trades": len(history)})
	}
	return nil
}

// Record adds a closed trade and recomputes the weights.
func (a *Adaptive) Record(ctx context.Context, trade *domain.Trade) {
	a.mu.Lock()
	a.history = a.trim(append(a.history, *trade))
	a.recompute()
	alerts := a.newAlerts()
	a.mu.Unlock()

	a.logAlerts(ctx, alerts)
}

// Refresh recomputes the weights so the rolling windows follow the clock.
func (a *Adaptive) Refresh(ctx context.Context) {
	a.mu.Lock()
	a.recompute()
	alerts := a.newAlerts()
	a.mu.Unlock()

	a.logAlerts(ctx, alerts)
}

// Reset drops the history and every weight.
func (a *Adaptive) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
	a.weights = make(map[Dimension]map[string]Weight)
	a.alerted = make(map[string]bool)
}

// Modifier returns the capped sum of the modifiers matching f.
func (a *Adaptive) Modifier(f domain.Features) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := 0.0
	for _, dim := range Dimensions {
		v := dimensionValue(f, dim)
		if v == "" {
			continue
		}
		total += a.weights[dim][v].Modifier
	}
	return math.Max(a.cfg.CapMin, math.Min(a.cfg.CapMax, total))
}

// Weights returns every learned weight ordered by dimension and value.
func (a *Adaptive) Weights() []Weight {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []Weight
	for _, dim := range Dimensions {
		values := make([]string, 0, len(a.weights[dim]))
		for v := range a.weights[dim] {
			values = append(values, v)
		}
		sort.Strings(values)
		for _, v := range values {
			out = append(out, a.weights[dim][v])
		}
	}
	return out
}

// DecayAlerts returns the values whose short-window win rate dropped by at
// least DecayDrop points against the long window. A value without trades in
// the short window never alerts.
func (a *Adaptive) DecayAlerts() []DecayAlert {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.decayAlerts()
}

// Calibration returns the weight of every score range, lowest first. Ranges
// without trades are returned empty.
func (a *Adaptive) Calibration() []Weight {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Weight, 0, len(ScoreRanges))
	for _, r := range ScoreRanges {
		w, ok := a.weights[DimScoreRange][r]
		if !ok {
			w = Weight{Dimension: DimScoreRange, Value: r}
		}
		out = append(out, w)
	}
	return out
}

func (a *Adaptive) trim(history []domain.Trade) []domain.Trade {
	if len(history) > a.cfg.HistoryLimit {
		history = history[len(history)-a.cfg.HistoryLimit:]
	}
	return history
}

type tally struct {
	trades, wins           int
	shortTrades, shortWins int
	longTrades, longWins   int
	pnl                    float64
}

// recompute rebuilds the weights from the history. Caller holds the write lock.
func (a *Adaptive) recompute() {
	now := a.cfg.Clock()
	tallies := make(map[Dimension]map[string]*tally, len(Dimensions))
	for i := range a.history {
		t := &a.history[i]
		f := t.Features()
		win := t.PNL > 0
		age := now.Sub(t.ExitTime)
		for _, dim := range Dimensions {
			v := dimensionValue(f, dim)
			if v == "" {
				continue
			}
			byValue := tallies[dim]
			if byValue == nil {
				byValue = make(map[string]*tally)
				tallies[dim] = byValue
			}
			tl := byValue[v]
			if tl == nil {
				tl = &tally{}
				byValue[v] = tl
			}
			tl.trades++
			tl.pnl += t.PNL
			if win {
				tl.wins++
			}
			if age <= a.cfg.ShortWindow {
				tl.shortTrades++
				if win {
					tl.shortWins++
				}
			}
			if age <= a.cfg.LongWindow {
				tl.longTrades++
				if win {
					tl.longWins++
				}
			}
		}
	}

	weights := make(map[Dimension]map[string]Weight, len(tallies))
	for dim, byValue := range tallies {
		weights[dim] = make(map[string]Weight, len(byValue))
		for v, tl := range byValue {
			w := Weight{
				Dimension:    dim,
				Value:        v,
				WinRateShort: percent(tl.shortWins, tl.shortTrades),
				WinRateLong:  percent(tl.longWins, tl.longTrades),
				WinRateAll:   percent(tl.wins, tl.trades),
				Samples:      tl.trades,
				ShortSamples: tl.shortTrades,
				AvgPnL:       tl.pnl / float64(tl.trades),
				Confidence:   math.Min(1, float64(tl.trades)/20),
			}
			// The short window leads, then the long one, then the whole history.
			rate := w.WinRateAll
			if tl.longTrades > 0 {
				rate = w.WinRateLong
			}
			if tl.shortTrades > 0 {
				rate = w.WinRateShort
			}
			w.Modifier = a.cfg.graded(rate, tl.trades)
			weights[dim][v] = w
		}
	}
	a.weights = weights
}

// decayAlerts scans the weights. Caller holds the lock.
func (a *Adaptive) decayAlerts() []DecayAlert {
	var out []DecayAlert
	for _, dim := range Dimensions {
		for _, w := range a.weights[dim] {
			drop := w.WinRateLong - w.WinRateShort
			if w.Samples < a.cfg.MinTrades || w.ShortSamples == 0 || w.WinRateLong <= 0 || drop < a.cfg.DecayDrop {
				continue
			}
			out = append(out, DecayAlert{
				Dimension:    dim,
				Value:        w.Value,
				WinRateShort: w.WinRateShort,
				WinRateLong:  w.WinRateLong,
				Drop:         math.Round(drop*10) / 10,
				Samples:      w.Samples,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dimension != out[j].Dimension {
			return out[i].Dimension < out[j].Dimension
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// newAlerts returns the alerts not raised before and forgets cleared ones.
// Caller holds the write lock.
func (a *Adaptive) newAlerts() []DecayAlert {
	current := a.decayAlerts()
	seen := make(map[string]bool, len(current))
	var fresh []DecayAlert
	for _, al := range current {
		key := string(al.Dimension) + ":" + al.Value
		seen[key] = true
		if !a.alerted[key] {
			fresh = append(fresh, al)
		}
	}
	a.alerted = seen
	return fresh
}

func (a *Adaptive) logAlerts(ctx context.Context, alerts []DecayAlert) {
	if a.logger == nil {
		return
	}
	for _, al := range alerts {
		a.logger.Warn(ctx, "Adaptive: Edge decay detected", map[string]interface{}{
			"profile":      a.profile,
			"dimension":    al.Dimension,
			"value":        al.Value,
			"win_rate_7d":  al.WinRateShort,
			"win_rate_30d": al.WinRateLong,
			"drop":         al.Drop,
			"sample_size":  al.Samples,
		})
	}
}

func percent(wins, trades int) float64 {
	if trades == 0 {
		return 0
	}
	return math.Round(float64(wins)/float64(trades)*1000) / 10
}

func dimensionValue(f domain.Features, dim Dimension) string {
	switch dim {
	case DimSetup:
		if f.Setup == domain.SetupNone {
			return ""
		}
		return string(f.Setup)
	case DimSymbol:
		return f.Symbol
	case DimMode:
		return string(f.Mode)
	case DimRegime:
		return f.Context.Regime
	case DimSession:
		return session(f.At)
	case DimScoreRange:
		return scoreRange(f.Context.Score)
	case DimDirection:
		if f.Direction != domain.Long && f.Direction != domain.Short {
			return ""
		}
		return string(f.Direction)
	case DimMTF:
		return mtfLabel(f.Context.MTF)
	default:
		return ""
	}
}

// session groups the UTC hour into the Asian, European and US sessions.
func session(at time.Time) string {
	if at.IsZero() {
		return ""
	}
	switch h := at.UTC().Hour(); {
	case h < 8:
		return "asian"
	case h < 16:
		return "european"
	default:
		return "us"
	}
}

func scoreRange(score float64) string {
	switch {
	case score >= 80:
		return "80+"
	case score >= 70:
		return "70-79"
	case score >= 60:
		return "60-69"
	default:
		return "0-59"
	}
}

func mtfLabel(v int) string {
	switch {
	case v > 0:
		return "positive"
	case v < 0:
		return "negative"
	default:
		return "zero"
	}
}
