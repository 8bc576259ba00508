package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/learner"
	"cryptoSignalBot/internal/ledger"
	"cryptoSignalBot/internal/monitor"
	"cryptoSignalBot/internal/ports"
	"cryptoSignalBot/internal/risk"
	"cryptoSignalBot/internal/scanner"
	"cryptoSignalBot/internal/scoring"
)

// EngineConfig holds the engine-wide timing settings.
type EngineConfig struct {
	SignalTTL  time.Duration    // Pending signals older than this can no longer be executed
	MaxTickAge time.Duration    // Price ticks older than this are ignored by the monitors
	ViewTTL    time.Duration    // Lifetime of cached market data shared by the profiles
	Clock      func() time.Time // Defaults to time.Now; replays drive it from candle time
}

// Repositories groups the persistence ports used by the engine.
type Repositories struct {
	Signals    ports.SignalRepository
	Positions  ports.PositionRepository
	Trades     ports.TradeRepository
	Portfolios ports.PortfolioRepository
	SetupStats ports.SetupStatRepository
}

func (r Repositories) validate() error {
	if r.Signals == nil || r.Positions == nil || r.Trades == nil || r.Portfolios == nil || r.SetupStats == nil {
		return fmt.Errorf("%w: every repository is required", ports.ErrConfigurationError)
	}
	return nil
}

// Bundle is the isolated state of one profile.
type Bundle struct {
	Profile  config.Profile
	Composer *scoring.Composer
	Ledger   *ledger.Ledger
	Monitor  *monitor.Monitor
	Guard    *risk.CorrelationGuard
	Gate     *scanner.Gate
	Params   risk.Params
	Adaptive *learner.Adaptive
}

// Engine runs every profile side by side over shared market data.
type Engine struct {
	cfg     EngineConfig
	feed    ports.MarketDataFeed
	repos   Repositories
	learner *learner.Learner
	metrics ports.Metrics
	logger  ports.Logger
	now     func() time.Time
	views   *viewCache

	bundles map[string]*Bundle
	names   []string

	execMu  sync.Mutex // Serializes signal execution, expiry and portfolio resets
	pending map[string]*domain.Signal
}

// NewEngine builds one bundle per profile. metrics may be nil.
func NewEngine(
	cfg EngineConfig,
	profiles map[string]config.Profile,
	feed ports.MarketDataFeed,
	sentiment *scoring.SentimentEvaluator,
	lrn *learner.Learner,
	repos Repositories,
	metrics ports.Metrics,
	logger ports.Logger,
) (*Engine, error) {
	if feed == nil || lrn == nil || logger == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for Engine", ports.ErrConfigurationError)
	}
	if err := repos.validate(); err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w: no profiles configured", ports.ErrConfigurationError)
	}
	if cfg.SignalTTL <= 0 {
		cfg.SignalTTL = 20 * time.Second
	}
	if cfg.ViewTTL <= 0 {
		cfg.ViewTTL = 10 * time.Second
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	e := &Engine{
		cfg:     cfg,
		feed:    feed,
		repos:   repos,
		learner: lrn,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		views:   newViewCache(feed, cfg.ViewTTL),
		bundles: make(map[string]*Bundle, len(profiles)),
		names:   config.ProfileNames(profiles),
		pending: make(map[string]*domain.Signal),
	}
	if cfg.Clock != nil {
		e.now = cfg.Clock
		e.views.now = cfg.Clock
	}
	for _, name := range e.names {
		p := profiles[name]
		adaptiveCfg := learner.DefaultAdaptiveConfig()
		adaptiveCfg.Clock = func() time.Time { return e.now() }
		adaptive := learner.NewAdaptive(name, adaptiveCfg, repos.Trades, logger)
		b := &Bundle{
			Profile:  p,
			Composer: scoring.NewComposer(p, lrn, sentiment).WithAdjuster(adaptive),
			Ledger:   ledger.New(name, p.InitialBalance, p.MaxOpenPositions, repos.Portfolios, logger),
			Guard:    risk.NewCorrelationGuard(p.Correlation),
			Gate:     scanner.NewGate(p.Gate),
			Params:   risk.ParamsFromConfig(p.Risk),
			Adaptive: adaptive,
		}
		b.Monitor = monitor.New(name, monitor.RulesFromConfig(p.Monitor), cfg.MaxTickAge, repos.Positions, e.closeHandler(b), logger)
		e.bundles[name] = b
	}
	return e, nil
}

// Profiles returns the profile names in sorted order.
func (e *Engine) Profiles() []string {
	return append([]string(nil), e.names...)
}

// Bundle returns the bundle of a profile.
func (e *Engine) Bundle(profile string) (*Bundle, error) {
	b, ok := e.bundles[profile]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrProfileNotFound, profile)
	}
	return b, nil
}

// Recover restores ledgers and monitors from persisted state after a restart.
func (e *Engine) Recover(ctx context.Context) error {
	op := "Engine.Recover"
	if err := e.learner.Reload(ctx); err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	for _, name := range e.names {
		b := e.bundles[name]
		open, err := e.repos.Positions.FindOpenPositions(ctx, name)
		if err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
		if err := b.Ledger.Restore(ctx, open); err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
		if err := b.Adaptive.Load(ctx); err != nil {
			return fmt.Errorf("%s failed: %w", op, err)
		}
		for _, pos := range open {
			if err := b.Monitor.Track(ctx, pos); err != nil {
				return fmt.Errorf("%s failed: %w", op, err)
			}
		}
		snap := b.Ledger.Snapshot()
		e.metrics.SetBalance(name, snap.CurrentBalance)
		e.logger.Info(ctx, op+": Profile restored", map[string]interface{}{
			"profile":        name,
			"open_positions": len(open),
			"balance":        snap.CurrentBalance,
		})
	}
	return nil
}

// Evaluate scores a symbol for a profile across its enabled modes. The best
// accepted decision becomes a pending signal; nil is returned when every mode
// rejects.
func (e *Engine) Evaluate(ctx context.Context, symbol, profile string) (*domain.Signal, error) {
	op := "Engine.Evaluate"
	b, err := e.Bundle(profile)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	var (
		best      *scoring.Decision
		firstErr  error
		evaluated int
	)
	for _, mode := range b.Profile.EnabledModes() {
		view, err := e.views.View(ctx, symbol, b.Profile.Modes[mode])
		if err == nil {
			var d scoring.Decision
			d, err = b.Composer.Evaluate(ctx, view, mode)
			if err == nil {
				evaluated++
				if !d.Accepted {
					e.reject(ctx, profile, d, d.Rejection)
					continue
				}
				if best == nil || d.Score > best.Score {
					best = &d
				}
				continue
			}
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if best == nil {
		if evaluated == 0 && firstErr != nil {
			return nil, fmt.Errorf("%s failed for %s/%s: %w", op, profile, symbol, firstErr)
		}
		return nil, nil
	}

	plan, err := risk.Calculate(risk.Request{
		Direction: best.Direction,
		Entry:     best.Price,
		ATR:       best.ATR,
		Balance:   b.Ledger.Snapshot().CurrentBalance,
		Margin:    b.Profile.DefaultMargin,
	}, b.Params)
	if err != nil {
		e.logger.Warn(ctx, op+": Risk calculation rejected signal", map[string]interface{}{"profile": profile, "symbol": symbol, "error": err.Error()})
		e.reject(ctx, profile, *best, domain.ReasonRiskRejected)
		return nil, nil
	}

	now := e.now()
	if reason, ok := b.Gate.Admit(symbol, best.Direction, best.Setup, best.Price, now); !ok {
		e.reject(ctx, profile, *best, reason)
		return nil, nil
	}

	sig := &domain.Signal{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Profile:    profile,
		Mode:       best.Mode,
		Direction:  best.Direction,
		Score:      best.Score,
		EntryPrice: best.Price,
		StopLoss:   plan.StopLoss,
		TP1:        plan.TP1,
		TP2:        plan.TP2,
		TP3:        plan.TP3,
		Leverage:   plan.Leverage,
		Quantity:   plan.Quantity,
		Margin:     b.Profile.DefaultMargin,
		ATR:        best.ATR,
		SetupType:  best.Setup,
		Layers:     best.Layers,
		Reasons:    best.Reasons,
		CreatedAt:  now,
		Status:     domain.SignalPending,
	}
	if err := e.repos.Signals.CreateSignal(ctx, sig); err != nil {
		b.Gate.Revoke(symbol, best.Direction, now)
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	e.execMu.Lock()
	e.pending[sig.ID] = sig
	e.execMu.Unlock()

	e.metrics.SignalEmitted(profile, sig.SetupType)
	e.logger.Info(ctx, op+": Signal generated", map[string]interface{}{
		"signal_id": sig.ID,
		"profile":   profile,
		"symbol":    symbol,
		"mode":      sig.Mode,
		"direction": sig.Direction,
		"setup":     sig.SetupType,
		"score":     sig.Score,
		"entry":     sig.EntryPrice,
		"stop_loss": sig.StopLoss,
		"leverage":  sig.Leverage,
	})
	return sig, nil
}

func (e *Engine) reject(ctx context.Context, profile string, d scoring.Decision, reason domain.ReasonCode) {
	e.metrics.SignalRejected(profile, reason)
	e.logger.Debug(ctx, "Engine.Evaluate: Signal rejected", map[string]interface{}{
		"profile": profile,
		"symbol":  d.Symbol,
		"mode":    d.Mode,
		"reason":  reason,
		"score":   d.Score,
	})
}

// Execute opens a simulated position from a pending signal. margin <= 0
// uses the profile's default margin.
func (e *Engine) Execute(ctx context.Context, signalID string, margin float64) (*domain.Position, error) {
	op := "Engine.Execute"
	e.execMu.Lock()
	defer e.execMu.Unlock()

	sig, err := e.repos.Signals.FindSignalByID(ctx, signalID)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if sig == nil {
		return nil, fmt.Errorf("%s failed: %w: signal %s", op, ports.ErrNotFound, signalID)
	}
	if sig.Status != domain.SignalPending {
		return nil, fmt.Errorf("%s failed: %w: signal %s is %s", op, ports.ErrSignalNotExecutable, signalID, sig.Status)
	}
	now := e.now()
	if sig.IsExpired(now, e.cfg.SignalTTL) {
		e.setStatus(ctx, sig, domain.SignalExpired)
		return nil, fmt.Errorf("%s failed: %w: signal %s", op, ports.ErrSignalExpired, signalID)
	}

	b, err := e.Bundle(sig.Profile)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if margin <= 0 {
		margin = b.Profile.DefaultMargin
	}

	plan, err := risk.Calculate(risk.Request{
		Direction: sig.Direction,
		Entry:     sig.EntryPrice,
		ATR:       sig.ATR,
		Balance:   b.Ledger.Snapshot().CurrentBalance,
		Margin:    margin,
	}, b.Params)
	if err != nil {
		e.setStatus(ctx, sig, domain.SignalError)
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	pos := &domain.Position{
		ID:             uuid.New().String(),
		SignalID:       sig.ID,
		Profile:        sig.Profile,
		Symbol:         sig.Symbol,
		Mode:           sig.Mode,
		SetupType:      sig.SetupType,
		Direction:      sig.Direction,
		EntryPrice:     sig.EntryPrice,
		OriginalQty:    plan.Quantity,
		RemainingQty:   plan.Quantity,
		StopLoss:       plan.StopLoss,
		TP1:            plan.TP1,
		TP2:            plan.TP2,
		TP3:            plan.TP3,
		TrailDistance:  plan.TrailDistance,
		State:          domain.StateActive,
		MarginRequired: margin,
		Leverage:       plan.Leverage,
		OpenedAt:       now,
		Context:        sig.Context(),
	}

	if err := b.Guard.Check(b.Monitor.Positions(), pos.Symbol, pos.Direction); err != nil {
		e.skip(ctx, sig, domain.ReasonCorrelationLimit, err)
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if err := b.Ledger.Open(ctx, pos); err != nil {
		reason := domain.ReasonInsufficientFunds
		if !errors.Is(err, ports.ErrInsufficientBalance) {
			reason = domain.ReasonRiskRejected
		}
		e.skip(ctx, sig, reason, err)
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if err := b.Monitor.Track(ctx, pos); err != nil {
		if _, rbErr := b.Ledger.Close(ctx, pos.ID, 0); rbErr != nil {
			e.logger.Error(ctx, rbErr, op+": Failed to release margin after tracking failure", map[string]interface{}{"position_id": pos.ID})
		}
		e.setStatus(ctx, sig, domain.SignalError)
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	e.setStatus(ctx, sig, domain.SignalExecuted)
	e.metrics.PositionOpened(sig.Profile)
	e.metrics.SetBalance(sig.Profile, b.Ledger.Snapshot().CurrentBalance)
	e.logger.Info(ctx, op+": Position opened", map[string]interface{}{
		"position_id": pos.ID,
		"signal_id":   sig.ID,
		"profile":     pos.Profile,
		"symbol":      pos.Symbol,
		"direction":   pos.Direction,
		"entry":       pos.EntryPrice,
		"quantity":    pos.OriginalQty,
		"margin":      margin,
		"leverage":    pos.Leverage,
	})
	return pos, nil
}

// skip marks a signal skipped after a sizing or ledger refusal. Caller holds execMu.
func (e *Engine) skip(ctx context.Context, sig *domain.Signal, reason domain.ReasonCode, cause error) {
	e.setStatus(ctx, sig, domain.SignalSkipped)
	e.metrics.SignalRejected(sig.Profile, reason)
	e.logger.Warn(ctx, "Engine.Execute: Signal skipped", map[string]interface{}{
		"signal_id": sig.ID,
		"profile":   sig.Profile,
		"reason":    reason,
		"error":     cause.Error(),
	})
}

// setStatus persists a status change and drops the signal from the pending set.
// Caller holds execMu.
func (e *Engine) setStatus(ctx context.Context, sig *domain.Signal, status domain.SignalStatus) {
	sig.Status = status
	delete(e.pending, sig.ID)
	if err := e.repos.Signals.UpdateSignalStatus(ctx, sig.ID, status); err != nil {
		e.logger.Error(ctx, err, "Engine.setStatus: Failed to persist signal status", map[string]interface{}{"signal_id": sig.ID, "status": status})
	}
}

// ExpireSignals marks every pending signal older than the TTL as expired.
func (e *Engine) ExpireSignals(ctx context.Context, now time.Time) int {
	e.execMu.Lock()
	defer e.execMu.Unlock()
	expired := 0
	for _, sig := range e.pending {
		if sig.IsExpired(now, e.cfg.SignalTTL) {
			e.setStatus(ctx, sig, domain.SignalExpired)
			expired++
		}
	}
	return expired
}

// Scan evaluates a pair and executes the signal when the profile auto-executes.
// Refusals by the ledger or the correlation guard are not errors.
func (e *Engine) Scan(ctx context.Context, symbol, profile string) error {
	sig, err := e.Evaluate(ctx, symbol, profile)
	if err != nil || sig == nil {
		return err
	}
	b, err := e.Bundle(profile)
	if err != nil {
		return err
	}
	if !b.Profile.AutoExecute {
		return nil
	}
	_, err = e.Execute(ctx, sig.ID, 0)
	switch {
	case err == nil,
		errors.Is(err, ports.ErrInsufficientBalance),
		errors.Is(err, ports.ErrMaxPositions),
		errors.Is(err, ports.ErrDuplicatePosition),
		errors.Is(err, ports.ErrCorrelationLimit),
		errors.Is(err, ports.ErrSignalExpired):
		return nil
	default:
		return err
	}
}

// OnPriceTick feeds a tick to every profile's monitor.
func (e *Engine) OnPriceTick(ctx context.Context, tick domain.PriceTick) {
	for _, name := range e.names {
		e.bundles[name].Monitor.OnTick(ctx, tick)
	}
}

func (e *Engine) closeHandler(b *Bundle) monitor.CloseHandlerFunc {
	return func(ctx context.Context, pos *domain.Position) error {
		op := "Engine.onPositionClosed"
		// The outcome is booked with the learner and the trade history even
		// when the ledger no longer holds the reservation.
		portfolio, ledgerErr := b.Ledger.Close(ctx, pos.ID, pos.RealizedPnL)
		if ledgerErr != nil {
			portfolio = b.Ledger.Snapshot()
		}
		if _, err := e.learner.Record(ctx, pos); err != nil {
			e.logger.Error(ctx, err, op+": Failed to record setup outcome", map[string]interface{}{"position_id": pos.ID})
		}
		trade := domain.TradeFromPosition(pos)
		if _, err := e.repos.Trades.CreateTrade(ctx, trade); err != nil {
			e.logger.Error(ctx, err, op+": Failed to save trade", map[string]interface{}{"position_id": pos.ID})
		}
		b.Adaptive.Record(ctx, trade)

		e.metrics.PositionClosed(pos.Profile, pos.Outcome, pos.RealizedPnL)
		e.metrics.SetBalance(pos.Profile, portfolio.CurrentBalance)
		e.logger.Info(ctx, op+": Position closed", map[string]interface{}{
			"position_id":  pos.ID,
			"profile":      pos.Profile,
			"symbol":       pos.Symbol,
			"reason":       pos.CloseReason,
			"outcome":      pos.Outcome,
			"realized_pnl": pos.RealizedPnL,
			"balance":      portfolio.CurrentBalance,
		})
		if ledgerErr != nil {
			return fmt.Errorf("%s failed: %w", op, ledgerErr)
		}
		return nil
	}
}

// Portfolio returns the ledger snapshot of a profile.
func (e *Engine) Portfolio(profile string) (domain.Portfolio, error) {
	b, err := e.Bundle(profile)
	if err != nil {
		return domain.Portfolio{}, err
	}
	return b.Ledger.Snapshot(), nil
}

// OpenPositions returns copies of a profile's open positions.
func (e *Engine) OpenPositions(profile string) ([]*domain.Position, error) {
	b, err := e.Bundle(profile)
	if err != nil {
		return nil, err
	}
	return b.Monitor.Positions(), nil
}

// Trades returns the closed trades of a profile.
func (e *Engine) Trades(ctx context.Context, profile string) ([]*domain.Trade, error) {
	if _, err := e.Bundle(profile); err != nil {
		return nil, err
	}
	return e.repos.Trades.FindTradesByProfile(ctx, profile)
}

// ResetPortfolio closes every open position of the profile without booking
// outcomes, restores the initial balance and clears its trade history.
func (e *Engine) ResetPortfolio(ctx context.Context, profile string) error {
	op := "Engine.ResetPortfolio"
	b, err := e.Bundle(profile)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	e.execMu.Lock()
	defer e.execMu.Unlock()

	drained := b.Monitor.Drain(ctx)
	if err := b.Ledger.Reset(ctx); err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if err := e.repos.Trades.DeleteTradesByProfile(ctx, profile); err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	b.Gate.Reset()
	b.Adaptive.Reset()
	e.metrics.SetBalance(profile, b.Ledger.Snapshot().CurrentBalance)
	e.logger.Info(ctx, op+": Portfolio reset", map[string]interface{}{"profile": profile, "closed_positions": len(drained)})
	return nil
}

// RefreshAdaptive recomputes every profile's adaptive weights against the
// current clock.
func (e *Engine) RefreshAdaptive(ctx context.Context) {
	for _, name := range e.names {
		e.bundles[name].Adaptive.Refresh(ctx)
	}
}

// SetupStats returns the learner statistics.
func (e *Engine) SetupStats() []domain.SetupStat {
	return e.learner.Stats()
}

// ResetSetup clears the statistics of one combination.
func (e *Engine) ResetSetup(ctx context.Context, key domain.SetupKey) error {
	return e.learner.ResetSetup(ctx, key)
}

// PendingSignals returns the pending signals, oldest first.
func (e *Engine) PendingSignals() []*domain.Signal {
	e.execMu.Lock()
	defer e.execMu.Unlock()
	out := make([]*domain.Signal, 0, len(e.pending))
	for _, sig := range e.pending {
		cp := *sig
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type noopMetrics struct{}

func (noopMetrics) ScanCompleted(time.Duration)                    {}
func (noopMetrics) ScanSkipped()                                   {}
func (noopMetrics) EvaluationFailed(string)                        {}
func (noopMetrics) SignalEmitted(string, domain.SetupType)         {}
func (noopMetrics) SignalRejected(string, domain.ReasonCode)       {}
func (noopMetrics) PositionOpened(string)                          {}
func (noopMetrics) PositionClosed(string, domain.Outcome, float64) {}
func (noopMetrics) SetDegraded(bool)                               {}
func (noopMetrics) SetBalance(string, float64)                     {}
