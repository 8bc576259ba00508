package domain

import "time"

// PositionState represents the lifecycle state of a simulated position.
type PositionState string

const (
	StateActive    PositionState = "active"
	StateBreakeven PositionState = "breakeven"
	StateTrailing  PositionState = "trailing"
	StateClosed    PositionState = "closed"
)

// Order returns the position of the state in the forward-only lifecycle.
func (s PositionState) Order() int {
	switch s {
	case StateActive:
		return 0
	case StateBreakeven:
		return 1
	case StateTrailing:
		return 2
	case StateClosed:
		return 3
	default:
		return -1
	}
}

// Outcome classifies a closed position.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

// OutcomeFromPnL classifies a realized P&L by its sign.
func OutcomeFromPnL(pnl float64) Outcome {
	switch {
	case pnl > 0:
		return OutcomeWin
	case pnl < 0:
		return OutcomeLoss
	default:
		return OutcomeBreakeven
	}
}

// FillLevel names the level a fill was executed at.
type FillLevel string

const (
	FillTP1         FillLevel = "tp1"
	FillTP2         FillLevel = "tp2"
	FillTP3         FillLevel = "tp3"
	FillStop        FillLevel = "stop"
	FillQuickProfit FillLevel = "quick_profit"
	FillReset       FillLevel = "reset"
)

// Fill is a partial or final close of a position.
type Fill struct {
	Level FillLevel
	Price float64
	Qty   float64
	PnL   float64
	At    time.Time
}

// Position represents a simulated position driven by the monitor.
type Position struct {
	ID             string
	SignalID       string
	Profile        string
	Symbol         string
	Mode           Mode
	SetupType      SetupType
	Direction      Direction
	EntryPrice     float64
	OriginalQty    float64
	RemainingQty   float64
	StopLoss       float64
	TP1            float64
	TP2            float64
	TP3            float64
	TP1Hit         bool
	TP2Hit         bool
	TP3Hit         bool
	TrailDistance  float64 // Fixed distance the stop trails behind price once trailing
	State          PositionState
	MarginRequired float64
	Leverage       int
	RealizedPnL    float64
	Fills          []Fill
	Outcome        Outcome
	CloseReason    CloseReason
	OpenedAt       time.Time
	ClosedAt       time.Time
	Context        TradeContext
}

// IsOpen reports whether the position is still managed by the monitor.
func (p *Position) IsOpen() bool {
	return p.State != StateClosed
}

// UnrealizedPnL returns the P&L of the remaining quantity at price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Direction.Sign() * p.RemainingQty
}

// SetupKey returns the learner key of the position.
func (p *Position) SetupKey() SetupKey {
	return SetupKey{SetupType: p.SetupType, Symbol: p.Symbol, Mode: p.Mode}
}
