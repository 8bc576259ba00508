package domain

import (
	"fmt"
	"time"
)

// Portfolio is the virtual account of one profile.
type Portfolio struct {
	Profile        string
	InitialBalance float64
	CurrentBalance float64
	ReservedMargin float64
	Wins           int
	Losses         int
	TotalPnL       float64
	OpenPositions  int
	UpdatedAt      time.Time
}

// Available returns the balance not reserved by open positions.
func (p Portfolio) Available() float64 {
	return p.CurrentBalance - p.ReservedMargin
}

// WinRate returns wins over decided trades, 0 when none.
func (p Portfolio) WinRate() float64 {
	total := p.Wins + p.Losses
	if total == 0 {
		return 0
	}
	return float64(p.Wins) / float64(total)
}

// SetupKey identifies a (setup, instrument, mode) combination.
type SetupKey struct {
	SetupType SetupType
	Symbol    string
	Mode      Mode
}

// String implements fmt.Stringer.
func (k SetupKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.SetupType, k.Symbol, k.Mode)
}

// SetupStat aggregates outcomes of one setup combination.
type SetupStat struct {
	SetupType SetupType
	Symbol    string
	Mode      Mode
	Wins      int
	Losses    int
	Disabled  bool
	UpdatedAt time.Time
}

// Key returns the combination key.
func (s SetupStat) Key() SetupKey {
	return SetupKey{SetupType: s.SetupType, Symbol: s.Symbol, Mode: s.Mode}
}

// Samples returns the number of recorded outcomes.
func (s SetupStat) Samples() int {
	return s.Wins + s.Losses
}

// WinRate returns wins over samples, 0 when empty.
func (s SetupStat) WinRate() float64 {
	if s.Samples() == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Samples())
}
