package domain

import "time"

// Trade is the record of a fully closed position.
type Trade struct {
	ID          int64     // Unique identifier for the trade (usually from DB)
	PositionID  string    // Position this trade closed
	Profile     string    // Profile that owned the position
	Symbol      string    // Trading symbol (e.g., "ETHUSDT")
	Direction   Direction // Side of the position
	SetupType   SetupType // Entry setup that produced the signal
	Mode        Mode      // Scalp or swing
	EntryPrice  float64   // Price at which the position was entered
	ExitPrice   float64   // Quantity-weighted average exit price over all fills
	Quantity    float64   // Original size of the position
	Leverage    int       // Leverage used for the position
	PNL         float64   // Realized profit and loss over all fills
	EntryTime   time.Time // Timestamp when the position was entered
	ExitTime    time.Time // Timestamp of the final fill
	CloseReason CloseReason
	Outcome     Outcome
	Context     TradeContext
}

// Features returns the attributes the adaptive learner groups the trade by.
func (t *Trade) Features() Features {
	return Features{
		Setup:     t.SetupType,
		Symbol:    t.Symbol,
		Mode:      t.Mode,
		Direction: t.Direction,
		At:        t.EntryTime,
		Context:   t.Context,
	}
}

// TradeFromPosition builds the trade record of a closed position.
func TradeFromPosition(p *Position) *Trade {
	var qty, notional float64
	for _, f := range p.Fills {
		qty += f.Qty
		notional += f.Qty * f.Price
	}
	exit := p.EntryPrice
	if qty > 0 {
		exit = notional / qty
	}
	return &Trade{
		PositionID:  p.ID,
		Profile:     p.Profile,
		Symbol:      p.Symbol,
		Direction:   p.Direction,
		SetupType:   p.SetupType,
		Mode:        p.Mode,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exit,
		Quantity:    p.OriginalQty,
		Leverage:    p.Leverage,
		PNL:         p.RealizedPnL,
		EntryTime:   p.OpenedAt,
		ExitTime:    p.ClosedAt,
		CloseReason: p.CloseReason,
		Outcome:     p.Outcome,
		Context:     p.Context,
	}
}

// TradeContext records the market conditions a signal was accepted in. It
// travels from the signal through the position into the trade history.
type TradeContext struct {
	Regime string  `json:"regime,omitempty"` // trending, ranging or volatile
	Score  float64 `json:"score"`            // Final signal score, 0-100
	MTF    int     `json:"mtf"`              // Higher-timeframe votes for the side minus votes against
}

// Features describes a candidate or closed trade for the adaptive learner.
// A zero At leaves the session dimension out.
type Features struct {
	Setup     SetupType
	Symbol    string
	Mode      Mode
	Direction Direction
	At        time.Time
	Context   TradeContext
}
