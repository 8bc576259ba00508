package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// Ledger is the virtual account of one profile. All mutations are serialized
// by its mutex and persisted through the repository.
type Ledger struct {
	profile      string
	maxPositions int
	repo         ports.PortfolioRepository
	logger       ports.Logger
	now          func() time.Time

	mu       sync.Mutex
	initial  decimal.Decimal
	current  decimal.Decimal
	reserved decimal.Decimal
	totalPnL decimal.Decimal
	wins     int
	losses   int
	open     map[string]openEntry // position ID -> reservation
}

type openEntry struct {
	symbol    string
	direction domain.Direction
	margin    decimal.Decimal
}

// New creates a ledger with a fresh balance. Use Restore to resume persisted state.
func New(profile string, initialBalance float64, maxPositions int, repo ports.PortfolioRepository, logger ports.Logger) *Ledger {
	initial := decimal.NewFromFloat(initialBalance)
	return &Ledger{
		profile:      profile,
		maxPositions: maxPositions,
		repo:         repo,
		logger:       logger,
		now:          time.Now,
		initial:      initial,
		current:      initial,
		reserved:     decimal.Zero,
		totalPnL:     decimal.Zero,
		open:         make(map[string]openEntry),
	}
}

// Restore loads the persisted portfolio and re-reserves the margin of open positions.
func (l *Ledger) Restore(ctx context.Context, open []*domain.Position) error {
	op := "Ledger.Restore"
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.repo != nil {
		p, err := l.repo.FindPortfolio(ctx, l.profile)
		if err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
		if p != nil {
			l.current = decimal.NewFromFloat(p.CurrentBalance)
			l.totalPnL = decimal.NewFromFloat(p.TotalPnL)
			l.wins, l.losses = p.Wins, p.Losses
		}
	}
	l.reserved = decimal.Zero
	l.open = make(map[string]openEntry, len(open))
	for _, pos := range open {
		if !pos.IsOpen() {
			continue
		}
		m := decimal.NewFromFloat(pos.MarginRequired)
		l.open[pos.ID] = openEntry{symbol: pos.Symbol, direction: pos.Direction, margin: m}
		l.reserved = l.reserved.Add(m)
	}
	if l.logger != nil {
		l.logger.Info(ctx, op+": Portfolio restored", map[string]interface{}{
			"profile":         l.profile,
			"current_balance": l.current.InexactFloat64(),
			"open_positions":  len(l.open),
		})
	}
	return nil
}

// Open reserves margin for a new position.
func (l *Ledger) Open(ctx context.Context, pos *domain.Position) error {
	op := "Ledger.Open"
	margin := decimal.NewFromFloat(pos.MarginRequired)
	if !margin.IsPositive() {
		return fmt.Errorf("%s failed: %w: margin %v", op, ports.ErrInvalidRequest, pos.MarginRequired)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.open[pos.ID]; exists {
		return fmt.Errorf("%s failed: %w: position %s already reserved", op, ports.ErrDuplicatePosition, pos.ID)
	}
	if l.maxPositions > 0 && len(l.open) >= l.maxPositions {
		return fmt.Errorf("%s failed: %w: %d open", op, ports.ErrMaxPositions, len(l.open))
	}
	for _, e := range l.open {
		if e.symbol == pos.Symbol && e.direction == pos.Direction {
			return fmt.Errorf("%s failed: %w: %s %s", op, ports.ErrDuplicatePosition, pos.Symbol, pos.Direction)
		}
	}
	available := l.current.Sub(l.reserved)
	if margin.GreaterThan(available) {
		return fmt.Errorf("%s failed: %w: margin %s > available %s", op, ports.ErrInsufficientBalance, margin.StringFixed(2), available.StringFixed(2))
	}

	l.open[pos.ID] = openEntry{symbol: pos.Symbol, direction: pos.Direction, margin: margin}
	l.reserved = l.reserved.Add(margin)
	if err := l.persist(ctx); err != nil {
		delete(l.open, pos.ID)
		l.reserved = l.reserved.Sub(margin)
		return fmt.Errorf("%s failed: %w", op, err)
	}
	return nil
}

// Close releases the margin of a position and applies its realized P&L.
// Losses are capped at the position's margin (isolated margin), so the
// reserved margin never exceeds the balance.
func (l *Ledger) Close(ctx context.Context, positionID string, realizedPnL float64) (domain.Portfolio, error) {
	op := "Ledger.Close"
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.open[positionID]
	if !ok {
		return domain.Portfolio{}, fmt.Errorf("%s failed: %w: position %s", op, ports.ErrNotFound, positionID)
	}

	pnl := decimal.NewFromFloat(realizedPnL)
	if pnl.LessThan(e.margin.Neg()) {
		pnl = e.margin.Neg()
	}

	prevReserved, prevCurrent, prevPnL := l.reserved, l.current, l.totalPnL
	prevWins, prevLosses := l.wins, l.losses
	delete(l.open, positionID)
	l.reserved = l.reserved.Sub(e.margin)
	l.current = l.current.Add(pnl)
	l.totalPnL = l.totalPnL.Add(pnl)
	switch pnl.Sign() {
	case 1:
		l.wins++
	case -1:
		l.losses++
	}

	if err := l.persist(ctx); err != nil {
		l.open[positionID] = e
		l.reserved, l.current, l.totalPnL = prevReserved, prevCurrent, prevPnL
		l.wins, l.losses = prevWins, prevLosses
		return domain.Portfolio{}, fmt.Errorf("%s failed: %w", op, err)
	}
	return l.snapshot(), nil
}

// Reset restores the initial balance and forgets every reservation.
func (l *Ledger) Reset(ctx context.Context) error {
	op := "Ledger.Reset"
	l.mu.Lock()
	defer l.mu.Unlock()

	l.current = l.initial
	l.reserved = decimal.Zero
	l.totalPnL = decimal.Zero
	l.wins, l.losses = 0, 0
	l.open = make(map[string]openEntry)
	if err := l.persist(ctx); err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if l.logger != nil {
		l.logger.Info(ctx, op+": Portfolio reset", map[string]interface{}{"profile": l.profile, "balance": l.initial.InexactFloat64()})
	}
	return nil
}

// Snapshot returns a copy of the portfolio.
func (l *Ledger) Snapshot() domain.Portfolio {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

// Available returns the unreserved balance.
func (l *Ledger) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current.Sub(l.reserved).InexactFloat64()
}

func (l *Ledger) snapshot() domain.Portfolio {
	return domain.Portfolio{
		Profile:        l.profile,
		InitialBalance: l.initial.InexactFloat64(),
		CurrentBalance: l.current.InexactFloat64(),
		ReservedMargin: l.reserved.InexactFloat64(),
		Wins:           l.wins,
		Losses:         l.losses,
		TotalPnL:       l.totalPnL.InexactFloat64(),
		OpenPositions:  len(l.open),
		UpdatedAt:      l.now(),
	}
}

func (l *Ledger) persist(ctx context.Context) error {
	if l.repo == nil {
		return nil
	}
	p := l.snapshot()
	return l.repo.SavePortfolio(ctx, &p)
}
