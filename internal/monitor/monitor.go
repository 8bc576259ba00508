package monitor

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

// CloseHandler is notified once per position when it reaches the closed state.
type CloseHandler interface {
	OnPositionClosed(ctx context.Context, pos *domain.Position) error
}

// CloseHandlerFunc adapts a function to CloseHandler.
type CloseHandlerFunc func(ctx context.Context, pos *domain.Position) error

// OnPositionClosed implements CloseHandler.
func (f CloseHandlerFunc) OnPositionClosed(ctx context.Context, pos *domain.Position) error {
	return f(ctx, pos)
}

// Monitor owns the open positions of one profile and drives them with price
// ticks. Ticks are serialized; a tick older than the last one processed for
// its symbol is dropped, which makes replays after a reconnect harmless.
type Monitor struct {
	profile    string
	rules      Rules
	maxTickAge time.Duration
	repo       ports.PositionRepository
	handler    CloseHandler
	logger     ports.Logger
	now        func() time.Time

	mu        sync.Mutex
	positions map[string]*domain.Position
	lastTick  map[string]time.Time
}

// New creates a monitor. repo and handler may be nil.
func New(profile string, rules Rules, maxTickAge time.Duration, repo ports.PositionRepository, handler CloseHandler, logger ports.Logger) *Monitor {
	return &Monitor{
		profile:    profile,
		rules:      rules,
		maxTickAge: maxTickAge,
		repo:       repo,
		handler:    handler,
		logger:     logger,
		now:        time.Now,
		positions:  make(map[string]*domain.Position),
		lastTick:   make(map[string]time.Time),
	}
}

// Track starts monitoring a position.
func (m *Monitor) Track(ctx context.Context, pos *domain.Position) error {
	op := "Monitor.Track"
	if !pos.IsOpen() {
		return fmt.Errorf("%s failed: %w: position %s is closed", op, ports.ErrInvalidRequest, pos.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[pos.ID]; ok {
		return fmt.Errorf("%s failed: %w: position %s", op, ports.ErrDuplicatePosition, pos.ID)
	}
	if m.repo != nil {
		if err := m.repo.SavePosition(ctx, pos); err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
	}
	m.positions[pos.ID] = pos
	return nil
}

// OnTick applies a price tick to every open position of its symbol and
// returns the number of fills executed. Invalid or stale ticks are ignored.
func (m *Monitor) OnTick(ctx context.Context, tick domain.PriceTick) int {
	op := "Monitor.OnTick"
	if tick.Price <= 0 || math.IsNaN(tick.Price) || math.IsInf(tick.Price, 0) {
		return 0
	}
	if m.maxTickAge > 0 && m.now().Sub(tick.Timestamp) > m.maxTickAge {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.lastTick[tick.Symbol]; ok && tick.Timestamp.Before(last) {
		return 0
	}
	m.lastTick[tick.Symbol] = tick.Timestamp

	filled := 0
	for _, id := range m.sortedIDs() {
		pos := m.positions[id]
		if pos.Symbol != tick.Symbol {
			continue
		}
		stop := pos.StopLoss
		fills := Step(pos, tick.Price, tick.Timestamp, m.rules)
		if len(fills) == 0 {
			if pos.StopLoss != stop {
				m.save(ctx, pos)
			}
			continue
		}
		filled += len(fills)
		m.save(ctx, pos)
		if m.logger != nil {
			m.logger.Info(ctx, op+": Position updated", map[string]interface{}{
				"profile":       m.profile,
				"position_id":   pos.ID,
				"symbol":        pos.Symbol,
				"state":         pos.State,
				"remaining_qty": pos.RemainingQty,
				"stop_loss":     pos.StopLoss,
				"realized_pnl":  pos.RealizedPnL,
			})
		}
		if pos.IsOpen() {
			continue
		}
		delete(m.positions, id)
		if m.handler != nil {
			if err := m.handler.OnPositionClosed(ctx, pos); err != nil && m.logger != nil {
				m.logger.Error(ctx, err, op+": Close handler failed", map[string]interface{}{"position_id": pos.ID})
			}
		}
	}
	return filled
}

// Positions returns copies of the open positions, oldest first.
func (m *Monitor) Positions() []*domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Position, 0, len(m.positions))
	for _, id := range m.sortedIDs() {
		cp := *m.positions[id]
		cp.Fills = append([]domain.Fill(nil), cp.Fills...)
		out = append(out, &cp)
	}
	return out
}

// Drain closes every open position without fills and stops tracking them.
// The close handler is not called.
func (m *Monitor) Drain(ctx context.Context) []*domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := m.now()
	drained := make([]*domain.Position, 0, len(m.positions))
	for _, id := range m.sortedIDs() {
		pos := m.positions[id]
		finish(pos, domain.CloseReasonReset, domain.OutcomeNone, at)
		m.save(ctx, pos)
		drained = append(drained, pos)
	}
	m.positions = make(map[string]*domain.Position)
	return drained
}

func (m *Monitor) save(ctx context.Context, pos *domain.Position) {
	if m.repo == nil {
		return
	}
	if err := m.repo.SavePosition(ctx, pos); err != nil && m.logger != nil {
		m.logger.Error(ctx, err, "Monitor.save: Failed to persist position", map[string]interface{}{"position_id": pos.ID})
	}
}

func (m *Monitor) sortedIDs() []string {
	ids := make([]string, 0, len(m.positions))
	for id := range m.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.positions[ids[i]], m.positions[ids[j]]
		if a.OpenedAt.Equal(b.OpenedAt) {
			return ids[i] < ids[j]
		}
		return a.OpenedAt.Before(b.OpenedAt)
	})
	return ids
}
