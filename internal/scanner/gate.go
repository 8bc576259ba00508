package scanner

import (
	"math"
	"sync"
	"time"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/domain"
)

type gateEntry struct {
	setup domain.SetupType
	price float64
	at    time.Time
	prior *gateEntry // entry replaced by this one, restored on Revoke
}

// Gate suppresses signals that contradict or repeat a recent signal of the
// same profile. It keeps the last admitted signal per symbol and direction.
type Gate struct {
	cfg config.GateConfig

	mu   sync.Mutex
	last map[string]map[domain.Direction]gateEntry
}

// NewGate creates a gate with the profile's windows.
func NewGate(cfg config.GateConfig) *Gate {
	return &Gate{cfg: cfg, last: make(map[string]map[domain.Direction]gateEntry)}
}

// Admit checks a candidate signal and records it when admitted. The returned
// reason is empty when the signal passes.
func (g *Gate) Admit(symbol string, dir domain.Direction, setup domain.SetupType, price float64, at time.Time) (domain.ReasonCode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	bySide := g.last[symbol]
	if bySide == nil {
		bySide = make(map[domain.Direction]gateEntry)
		g.last[symbol] = bySide
	}

	if prev, ok := bySide[dir.Opposite()]; ok && g.cfg.FlipWindow > 0 && at.Sub(prev.at) < g.cfg.FlipWindow {
		return domain.ReasonDirectionFlip, false
	}
	if prev, ok := bySide[dir]; ok && prev.setup == setup && g.cfg.DuplicateWindow > 0 && at.Sub(prev.at) < g.cfg.DuplicateWindow {
		if prev.price > 0 && math.Abs(price-prev.price)/prev.price*100 <= g.cfg.DuplicatePct {
			return domain.ReasonDuplicateSignal, false
		}
	}

	entry := gateEntry{setup: setup, price: price, at: at}
	if prev, ok := bySide[dir]; ok {
		prev.prior = nil
		entry.prior = &prev
	}
	bySide[dir] = entry
	return "", true
}

// Revoke undoes the Admit made at the given time for symbol and direction,
// restoring the entry it replaced. Used when the admitted signal could not
// be stored.
func (g *Gate) Revoke(symbol string, dir domain.Direction, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	bySide := g.last[symbol]
	entry, ok := bySide[dir]
	if !ok || !entry.at.Equal(at) {
		return
	}
	if entry.prior != nil {
		bySide[dir] = *entry.prior
		return
	}
	delete(bySide, dir)
}

// Reset drops all history.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = make(map[string]map[domain.Direction]gateEntry)
}
