package domain

// Direction is the side of a signal or position.
type Direction string

const (
	Long          Direction = "long"
	Short         Direction = "short"
	DirectionNone Direction = "none"
)

// Sign returns +1 for long, -1 for short and 0 otherwise.
func (d Direction) Sign() float64 {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	default:
		return 0
	}
}

// Opposite returns the other side. DirectionNone maps to itself.
func (d Direction) Opposite() Direction {
	switch d {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return DirectionNone
	}
}

// Mode is the trading horizon a signal was produced for.
type Mode string

const (
	ModeScalp Mode = "scalp"
	ModeSwing Mode = "swing"
)

// SetupType identifies an entry-trigger pattern.
type SetupType string

const (
	SetupNone       SetupType = ""
	SetupBreakout   SetupType = "breakout"
	SetupRetest     SetupType = "retest"
	SetupDivergence SetupType = "divergence"
	SetupEMABounce  SetupType = "ema_bounce"
)

// SetupPriority is the tie-break order between detectors, highest first.
var SetupPriority = []SetupType{SetupBreakout, SetupRetest, SetupDivergence, SetupEMABounce}

// Rank returns the tie-break rank of a setup; lower wins.
func (s SetupType) Rank() int {
	for i, st := range SetupPriority {
		if st == s {
			return i
		}
	}
	return len(SetupPriority)
}

// CloseReason indicates why a position (or part of it) was closed.
type CloseReason string

const (
	CloseReasonStopLoss     CloseReason = "SL"
	CloseReasonBreakeven    CloseReason = "BREAKEVEN"
	CloseReasonTrailingStop CloseReason = "TRAILING_STOP"
	CloseReasonTakeProfit1  CloseReason = "TP1"
	CloseReasonTakeProfit2  CloseReason = "TP2"
	CloseReasonTakeProfit3  CloseReason = "TP3"
	CloseReasonQuickProfit  CloseReason = "QUICK_PROFIT"
	CloseReasonReset        CloseReason = "RESET"
	CloseReasonUnknown      CloseReason = "Unknown"
)
