package monitor

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/domain"
)

// Rules are the lifecycle parameters of a profile.
type Rules struct {
	TP1ClosePct    float64 // Share of the original quantity closed at tp1, percent
	TP2ClosePct    float64 // Share of the original quantity closed at tp2, percent
	QuickProfitUSD float64 // Total P&L that closes the position outright; 0 disables
}

// RulesFromConfig converts profile monitor settings.
func RulesFromConfig(cfg config.MonitorConfig) Rules {
	return Rules{TP1ClosePct: cfg.TP1ClosePct, TP2ClosePct: cfg.TP2ClosePct, QuickProfitUSD: cfg.QuickProfitUSD}
}

// Step advances the position for one price observation and returns the fills
// it produced. Fills execute at the level that was crossed and transitions
// cascade, so a gap through several levels is handled in order.
func Step(p *domain.Position, price float64, at time.Time, r Rules) []domain.Fill {
	if !p.IsOpen() || price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil
	}
	var fills []domain.Fill
	sign := p.Direction.Sign()
	reached := func(level float64) bool { return sign*(price-level) >= 0 }
	stopped := func() bool { return sign*(price-p.StopLoss) <= 0 }

	if r.QuickProfitUSD > 0 && p.RealizedPnL+p.UnrealizedPnL(price) >= r.QuickProfitUSD {
		fills = append(fills, closeRemainder(p, domain.FillQuickProfit, price, at))
		finish(p, domain.CloseReasonQuickProfit, domain.OutcomeFromPnL(p.RealizedPnL), at)
		return fills
	}

	for p.IsOpen() {
		switch p.State {
		case domain.StateActive:
			switch {
			case stopped():
				fills = append(fills, closeRemainder(p, domain.FillStop, p.StopLoss, at))
				finish(p, domain.CloseReasonStopLoss, domain.OutcomeLoss, at)
			case reached(p.TP1):
				fills = append(fills, closePart(p, domain.FillTP1, p.TP1, r.TP1ClosePct, at))
				p.TP1Hit = true
				p.StopLoss = p.EntryPrice
				p.State = domain.StateBreakeven
				if p.RemainingQty <= 0 {
					finish(p, domain.CloseReasonTakeProfit1, domain.OutcomeWin, at)
				}
			default:
				return fills
			}

		case domain.StateBreakeven:
			switch {
			case stopped():
				fills = append(fills, closeRemainder(p, domain.FillStop, p.StopLoss, at))
				finish(p, domain.CloseReasonBreakeven, domain.OutcomeBreakeven, at)
			case reached(p.TP2):
				fills = append(fills, closePart(p, domain.FillTP2, p.TP2, r.TP2ClosePct, at))
				p.TP2Hit = true
				tighten(p, price)
				p.State = domain.StateTrailing
				if p.RemainingQty <= 0 {
					finish(p, domain.CloseReasonTakeProfit2, domain.OutcomeWin, at)
				}
			default:
				return fills
			}

		case domain.StateTrailing:
			switch {
			case reached(p.TP3):
				fills = append(fills, closeRemainder(p, domain.FillTP3, p.TP3, at))
				p.TP3Hit = true
				finish(p, domain.CloseReasonTakeProfit3, domain.OutcomeWin, at)
			case stopped():
				fills = append(fills, closeRemainder(p, domain.FillStop, p.StopLoss, at))
				finish(p, domain.CloseReasonTrailingStop, domain.OutcomeFromPnL(p.RealizedPnL), at)
			default:
				tighten(p, price)
				return fills
			}

		default:
			return fills
		}
	}
	return fills
}

// tighten moves the stop to price minus the trail distance when that is
// closer to price. The stop never loosens.
func tighten(p *domain.Position, price float64) {
	sign := p.Direction.Sign()
	candidate := price - sign*p.TrailDistance
	if sign*(candidate-p.StopLoss) > 0 {
		p.StopLoss = candidate
	}
}

func closePart(p *domain.Position, level domain.FillLevel, at float64, pct float64, when time.Time) domain.Fill {
	remaining := decimal.NewFromFloat(p.RemainingQty)
	qty := decimal.NewFromFloat(p.OriginalQty).Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100))
	if qty.GreaterThan(remaining) {
		qty = remaining
	}
	return fill(p, level, at, qty, when)
}

func closeRemainder(p *domain.Position, level domain.FillLevel, at float64, when time.Time) domain.Fill {
	return fill(p, level, at, decimal.NewFromFloat(p.RemainingQty), when)
}

func fill(p *domain.Position, level domain.FillLevel, price float64, qty decimal.Decimal, when time.Time) domain.Fill {
	pnl := decimal.NewFromFloat(price).
		Sub(decimal.NewFromFloat(p.EntryPrice)).
		Mul(decimal.NewFromFloat(p.Direction.Sign())).
		Mul(qty)
	p.RemainingQty = decimal.NewFromFloat(p.RemainingQty).Sub(qty).InexactFloat64()
	p.RealizedPnL = decimal.NewFromFloat(p.RealizedPnL).Add(pnl).InexactFloat64()
	f := domain.Fill{Level: level, Price: price, Qty: qty.InexactFloat64(), PnL: pnl.InexactFloat64(), At: when}
	p.Fills = append(p.Fills, f)
	return f
}

func finish(p *domain.Position, reason domain.CloseReason, outcome domain.Outcome, at time.Time) {
	p.State = domain.StateClosed
	p.CloseReason = reason
	p.Outcome = outcome
	p.ClosedAt = at
}
