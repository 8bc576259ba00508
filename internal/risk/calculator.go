package risk

import (
	"fmt"
	"math"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// Params holds the stop, target and sizing parameters of a profile.
type Params struct {
	StopATR     float64    // k: stop distance in ATR
	TPATR       [3]float64 // m1<m2<m3: cumulative target steps in ATR
	RiskPct     float64    // Share of balance a full stop may lose, percent
	MaxStopPct  float64    // Stop distance cap, percent of entry
	MinLeverage int
	MaxLeverage int
	TrailATR    float64 // Trailing distance in ATR
}

// ParamsFromConfig converts profile risk settings.
func ParamsFromConfig(cfg config.RiskConfig) Params {
	p := Params{
		StopATR:     cfg.StopATR,
		RiskPct:     cfg.RiskPct,
		MaxStopPct:  cfg.MaxStopPct,
		MinLeverage: cfg.MinLeverage,
		MaxLeverage: cfg.MaxLeverage,
		TrailATR:    cfg.TrailATR,
	}
	copy(p.TPATR[:], cfg.TPATR)
	return p
}

// Request is the input of a sizing calculation.
type Request struct {
	Direction domain.Direction
	Entry     float64
	ATR       float64
	Balance   float64 // Current portfolio balance the risk budget is taken from
	Margin    float64 // Margin allocated to the position
}

// Plan is the computed trade plan.
type Plan struct {
	StopLoss      float64
	TP1           float64
	TP2           float64
	TP3           float64
	StopDistance  float64
	Leverage      int
	Quantity      float64
	Notional      float64
	RiskAmount    float64
	TrailDistance float64
}

// Calculate derives stop, targets, leverage and size. It has no side effects.
func Calculate(req Request, p Params) (Plan, error) {
	if err := validate(req, p); err != nil {
		return Plan{}, err
	}
	sign := req.Direction.Sign()

	d := p.StopATR * req.ATR
	if maxD := req.Entry * p.MaxStopPct / 100; p.MaxStopPct > 0 && d > maxD {
		d = maxD
	}

	plan := Plan{
		StopDistance:  d,
		StopLoss:      req.Entry - sign*d,
		TrailDistance: p.TrailATR * req.ATR,
		RiskAmount:    req.Balance * p.RiskPct / 100,
	}
	plan.TP1 = req.Entry + sign*p.TPATR[0]*req.ATR
	plan.TP2 = plan.TP1 + sign*p.TPATR[1]*req.ATR
	plan.TP3 = plan.TP2 + sign*p.TPATR[2]*req.ATR

	// A full stop on margin*L notional loses margin*L*d/entry.
	stopFraction := d / req.Entry
	lev := int(math.Floor(plan.RiskAmount/(req.Margin*stopFraction) + 1e-9))
	if lev < p.MinLeverage {
		lev = p.MinLeverage
	}
	if lev > p.MaxLeverage {
		lev = p.MaxLeverage
	}
	plan.Leverage = lev
	plan.Notional = req.Margin * float64(lev)
	plan.Quantity = plan.Notional / req.Entry
	return plan, nil
}

func validate(req Request, p Params) error {
	switch {
	case req.Direction != domain.Long && req.Direction != domain.Short:
		return fmt.Errorf("%w: direction %q", ports.ErrInvalidRequest, req.Direction)
	case !positive(req.Entry) || !positive(req.ATR) || !positive(req.Margin):
		return fmt.Errorf("%w: entry=%v atr=%v margin=%v must be positive", ports.ErrInvalidRequest, req.Entry, req.ATR, req.Margin)
	case req.Balance < 0 || math.IsNaN(req.Balance):
		return fmt.Errorf("%w: balance %v", ports.ErrInvalidRequest, req.Balance)
	case p.StopATR <= 0:
		return fmt.Errorf("%w: stop multiplier must be positive", ports.ErrInvalidRequest)
	case p.TPATR[0] <= 0 || p.TPATR[0] >= p.TPATR[1] || p.TPATR[1] >= p.TPATR[2]:
		return fmt.Errorf("%w: take-profit multipliers %v must be positive and increasing", ports.ErrInvalidRequest, p.TPATR)
	case p.MinLeverage <= 0 || p.MinLeverage > p.MaxLeverage:
		return fmt.Errorf("%w: leverage bounds [%d,%d]", ports.ErrInvalidRequest, p.MinLeverage, p.MaxLeverage)
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
