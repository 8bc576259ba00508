package learner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// Config holds the disable/re-enable thresholds.
type Config struct {
	MinSamples int     // Samples required before a combination can be disabled
	Floor      float64 // Win rate below which a combination is disabled
	Reenable   float64 // Win rate at which a disabled combination comes back
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{MinSamples: 10, Floor: 0.30, Reenable: 0.40}
}

// Learner tracks outcomes per (setup, symbol, mode) and disables combinations
// that keep losing. The in-memory map is the source of truth for IsDisabled;
// the repository backs it across restarts.
//
// persistMu orders every write-through (Record, ResetSetup) against Reload,
// so a reload never observes a row older than the map it replaces.
type Learner struct {
	cfg    Config
	repo   ports.SetupStatRepository
	logger ports.Logger
	now    func() time.Time

	persistMu sync.Mutex
	mu        sync.RWMutex
	stats map[domain.SetupKey]*domain.SetupStat
}

// New creates a learner. repo may be nil for an in-memory learner.
func New(cfg Config, repo ports.SetupStatRepository, logger ports.Logger) *Learner {
	def := DefaultConfig()
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.Floor <= 0 {
		cfg.Floor = def.Floor
	}
	if cfg.Reenable < cfg.Floor {
		cfg.Reenable = cfg.Floor
	}
	return &Learner{
		cfg:    cfg,
		repo:   repo,
		logger: logger,
		now:    time.Now,
		stats:  make(map[domain.SetupKey]*domain.SetupStat),
	}
}

// Record books the outcome of a closed position. A position with positive
// realized P&L is a win, anything else a loss.
func (l *Learner) Record(ctx context.Context, pos *domain.Position) (domain.SetupStat, error) {
	op := "Learner.Record"
	if pos.SetupType == domain.SetupNone {
		return domain.SetupStat{}, fmt.Errorf("%s failed: %w: position %s has no setup", op, ports.ErrInvalidRequest, pos.ID)
	}
	key := pos.SetupKey()

	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	l.mu.Lock()
	stat, ok := l.stats[key]
	if !ok {
		stat = &domain.SetupStat{SetupType: key.SetupType, Symbol: key.Symbol, Mode: key.Mode}
		l.stats[key] = stat
	}
	if pos.RealizedPnL > 0 {
		stat.Wins++
	} else {
		stat.Losses++
	}
	wasDisabled := stat.Disabled
	l.apply(stat)
	stat.UpdatedAt = l.now()
	snapshot := *stat
	l.mu.Unlock()

	if snapshot.Disabled != wasDisabled && l.logger != nil {
		msg := op + ": Setup re-enabled"
		if snapshot.Disabled {
			msg = op + ": Setup disabled"
		}
		l.logger.Info(ctx, msg, map[string]interface{}{
			"setup":    key.String(),
			"wins":     snapshot.Wins,
			"losses":   snapshot.Losses,
			"win_rate": snapshot.WinRate(),
		})
	}

	if l.repo != nil {
		if err := l.repo.SaveSetupStat(ctx, &snapshot); err != nil {
			return snapshot, fmt.Errorf("%s failed: %w", op, err)
		}
	}
	return snapshot, nil
}

// apply runs the hysteresis rule. Caller holds the lock.
func (l *Learner) apply(stat *domain.SetupStat) {
	rate := stat.WinRate()
	switch {
	case stat.Disabled && rate >= l.cfg.Reenable:
		stat.Disabled = false
	case !stat.Disabled && stat.Samples() >= l.cfg.MinSamples && rate < l.cfg.Floor:
		stat.Disabled = true
	}
}

// IsDisabled reports whether signals for key are suppressed.
func (l *Learner) IsDisabled(key domain.SetupKey) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	stat, ok := l.stats[key]
	return ok && stat.Disabled
}

// Stats returns every tracked combination ordered by key.
func (l *Learner) Stats() []domain.SetupStat {
	l.mu.RLock()
	out := make([]domain.SetupStat, 0, len(l.stats))
	for _, s := range l.stats {
		out = append(out, *s)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out
}

// ResetSetup clears the counters of key and re-enables it.
func (l *Learner) ResetSetup(ctx context.Context, key domain.SetupKey) error {
	op := "Learner.ResetSetup"
	cleared := domain.SetupStat{SetupType: key.SetupType, Symbol: key.Symbol, Mode: key.Mode, UpdatedAt: l.now()}

	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	l.mu.Lock()
	if _, ok := l.stats[key]; !ok {
		l.mu.Unlock()
		return fmt.Errorf("%s failed: %w: setup %s", op, ports.ErrNotFound, key)
	}
	delete(l.stats, key)
	l.mu.Unlock()

	if l.repo != nil {
		if err := l.repo.SaveSetupStat(ctx, &cleared); err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
	}
	if l.logger != nil {
		l.logger.Info(ctx, op+": Setup reset", map[string]interface{}{"setup": key.String()})
	}
	return nil
}

// Reload rebuilds the map from the repository. Stored disabled flags are
// re-evaluated against the current thresholds.
func (l *Learner) Reload(ctx context.Context) error {
	op := "Learner.Reload"
	if l.repo == nil {
		return nil
	}
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	stored, err := l.repo.FindAllSetupStats(ctx)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	fresh := make(map[domain.SetupKey]*domain.SetupStat, len(stored))
	for i := range stored {
		stat := stored[i]
		if stat.Samples() == 0 {
			continue
		}
		l.apply(&stat)
		fresh[stat.Key()] = &stat
	}

	l.mu.Lock()
	l.stats = fresh
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.Debug(ctx, op+": Setup stats reloaded", map[string]interface{}{"combinations": len(fresh)})
	}
	return nil
}

// Run reloads the stats every interval until ctx is done.
func (l *Learner) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Reload(ctx); err != nil && l.logger != nil {
				l.logger.Error(ctx, err, "Learner.Run: Reload failed")
			}
		}
	}
}
