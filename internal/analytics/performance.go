package analytics

import (
	"math"
	"sort"
	"time"

	"cryptoSignalBot/internal/domain"
)

// PerformanceMetrics summarizes the closed trades of one profile.
type PerformanceMetrics struct {
	// Basic Metrics
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	BreakevenTrades    int
	WinRate            float64 // Wins over decided trades
	TotalProfit        float64
	GrossProfit        float64
	GrossLoss          float64 // Positive
	MaxDrawdown        float64 // Fraction of the running peak
	ProfitFactor       float64
	AverageWin         float64
	AverageLoss        float64 // Negative
	SharpeRatio        float64 // Per-trade, risk-free rate 0
	FinalBalance       float64
	ReturnOnInvestment float64

	// Advanced Metrics
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	RecoveryFactor       float64
	Expectancy           float64
	RiskRewardRatio      float64
	MonthlyReturns       map[string]float64
	BySetup              map[domain.SetupType]*Breakdown
	ByMode               map[domain.Mode]*Breakdown
	Drawdowns            []Drawdown
	EquityCurve          []EquityPoint
}

// Breakdown aggregates the trades sharing a setup or mode.
type Breakdown struct {
	Trades int
	Wins   int
	Losses int
	PnL    float64
}

// WinRate returns wins over decided trades.
func (b *Breakdown) WinRate() float64 {
	if b.Wins+b.Losses == 0 {
		return 0
	}
	return float64(b.Wins) / float64(b.Wins+b.Losses)
}

// Drawdown is one peak-to-recovery stretch of the balance.
type Drawdown struct {
	StartTime  time.Time
	EndTime    time.Time
	StartValue float64
	EndValue   float64
	Depth      float64
	Duration   time.Duration
	Recovered  bool
}

func (d *Drawdown) end(at time.Time, value float64, recovered bool) Drawdown {
	d.EndTime = at
	d.EndValue = value
	d.Duration = at.Sub(d.StartTime)
	d.Recovered = recovered
	return *d
}

// EquityPoint is the balance after one closed trade.
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance replays trades in exit order on top of initialBalance.
// The input slice is not reordered.
func AnalyzePerformance(trades []*domain.Trade, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance:   initialBalance,
		MonthlyReturns: make(map[string]float64),
		BySetup:        make(map[domain.SetupType]*Breakdown),
		ByMode:         make(map[domain.Mode]*Breakdown),
		Drawdowns:      make([]Drawdown, 0),
		EquityCurve:    make([]EquityPoint, 0),
	}
	if len(trades) == 0 {
		return metrics
	}

	ordered := make([]*domain.Trade, 0, len(trades))
	for _, tr := range trades {
		if tr != nil {
			ordered = append(ordered, tr)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExitTime.Before(ordered[j].ExitTime)
	})

	var currentBalance = initialBalance
	var peakBalance = initialBalance
	var currentDrawdown *Drawdown
	var consecutiveWins, consecutiveLosses int
	var returns []float64
	var totalDuration time.Duration

	for _, trade := range ordered {
		metrics.TotalTrades++
		outcome := outcomeOf(trade)
		switch outcome {
		case domain.OutcomeWin:
			metrics.WinningTrades++
			metrics.GrossProfit += trade.PNL
			consecutiveWins++
			consecutiveLosses = 0
		case domain.OutcomeLoss:
			metrics.LosingTrades++
			metrics.GrossLoss -= trade.PNL
			consecutiveLosses++
			consecutiveWins = 0
		default:
			metrics.BreakevenTrades++
		}
		metrics.MaxConsecutiveWins = max(metrics.MaxConsecutiveWins, consecutiveWins)
		metrics.MaxConsecutiveLosses = max(metrics.MaxConsecutiveLosses, consecutiveLosses)

		addTo(metrics.BySetup, trade.SetupType, trade.PNL, outcome)
		addTo(metrics.ByMode, trade.Mode, trade.PNL, outcome)

		if currentBalance > 0 {
			returns = append(returns, trade.PNL/currentBalance)
		}
		currentBalance += trade.PNL
		metrics.TotalProfit += trade.PNL
		metrics.MonthlyReturns[trade.ExitTime.Format("2006-01")] += trade.PNL
		totalDuration += trade.ExitTime.Sub(trade.EntryTime)

		if currentBalance >= peakBalance {
			peakBalance = currentBalance
			if currentDrawdown != nil {
				metrics.Drawdowns = append(metrics.Drawdowns, currentDrawdown.end(trade.ExitTime, currentBalance, true))
				currentDrawdown = nil
			}
		} else {
			drawdown := (peakBalance - currentBalance) / peakBalance
			if currentDrawdown == nil {
				currentDrawdown = &Drawdown{
					StartTime:  trade.ExitTime,
					StartValue: peakBalance,
					Depth:      drawdown,
				}
			} else {
				currentDrawdown.Depth = math.Max(currentDrawdown.Depth, drawdown)
			}
			metrics.MaxDrawdown = math.Max(metrics.MaxDrawdown, drawdown)
		}

		metrics.EquityCurve = append(metrics.EquityCurve, EquityPoint{
			Time:     trade.ExitTime,
			Value:    currentBalance,
			Drawdown: (peakBalance - currentBalance) / peakBalance,
		})
	}

	// A drawdown still open at the last trade is reported unrecovered.
	if currentDrawdown != nil {
		metrics.Drawdowns = append(metrics.Drawdowns, currentDrawdown.end(ordered[len(ordered)-1].ExitTime, currentBalance, false))
	}

	metrics.FinalBalance = currentBalance
	if metrics.TotalTrades == 0 {
		return metrics
	}
	if decided := metrics.WinningTrades + metrics.LosingTrades; decided > 0 {
		metrics.WinRate = float64(metrics.WinningTrades) / float64(decided)
	}
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = metrics.GrossProfit / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = -metrics.GrossLoss / float64(metrics.LosingTrades)
	}
	if metrics.GrossLoss > 0 {
		metrics.ProfitFactor = metrics.GrossProfit / metrics.GrossLoss
	}
	if metrics.AverageLoss != 0 {
		metrics.RiskRewardRatio = metrics.AverageWin / -metrics.AverageLoss
	}
	if initialBalance > 0 {
		metrics.ReturnOnInvestment = (metrics.FinalBalance - initialBalance) / initialBalance
		if metrics.MaxDrawdown > 0 {
			metrics.RecoveryFactor = metrics.TotalProfit / (initialBalance * metrics.MaxDrawdown)
		}
	}
	metrics.AverageTradeDuration = totalDuration / time.Duration(metrics.TotalTrades)
	metrics.Expectancy = metrics.TotalProfit / float64(metrics.TotalTrades)
	metrics.SharpeRatio = calculateSharpeRatio(returns)

	return metrics
}

func outcomeOf(t *domain.Trade) domain.Outcome {
	if t.Outcome != domain.OutcomeNone {
		return t.Outcome
	}
	switch {
	case t.PNL > 0:
		return domain.OutcomeWin
	case t.PNL < 0:
		return domain.OutcomeLoss
	default:
		return domain.OutcomeBreakeven
	}
}

func addTo[K comparable](m map[K]*Breakdown, key K, pnl float64, outcome domain.Outcome) {
	b, ok := m[key]
	if !ok {
		b = &Breakdown{}
		m[key] = b
	}
	b.Trades++
	b.PnL += pnl
	switch outcome {
	case domain.OutcomeWin:
		b.Wins++
	case domain.OutcomeLoss:
		b.Losses++
	}
}

// calculateSharpeRatio returns mean over sample standard deviation.
func calculateSharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	stdDev := math.Sqrt(variance)

	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}

// MonthlyReturn is the realized PnL of one calendar month (UTC).
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}

// GetMonthlyReturns returns MonthlyReturns in calendar order.
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	months := make([]string, 0, len(m.MonthlyReturns))
	for month := range m.MonthlyReturns {
		months = append(months, month)
	}
	sort.Strings(months)

	out := make([]MonthlyReturn, 0, len(months))
	for _, month := range months {
		date, err := time.Parse("2006-01", month)
		if err != nil {
			continue
		}
		out = append(out, MonthlyReturn{Month: date, Return: m.MonthlyReturns[month]})
	}
	return out
}
