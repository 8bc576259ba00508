package replay

import (
	"context"
	"fmt"
	"time"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/analytics"
	"cryptoSignalBot/internal/app"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/learner"
	"cryptoSignalBot/internal/ports"
)

// Config holds the settings of one replay.
type Config struct {
	Warmup     int // Base candles consumed before the first scan
	ScanEvery  int // Scan every N base candles
	Conditions MarketConditions
	Learner    learner.Config
}

// DefaultConfig returns a replay that scans every candle after 200 candles of history.
func DefaultConfig() Config {
	return Config{
		Warmup:    200,
		ScanEvery: 1,
		Conditions: MarketConditions{
			SpreadPct:      0.02,
			DepthUSD:       2_000_000,
			FundingRatePct: 0.01,
		},
		Learner: learner.DefaultConfig(),
	}
}

// ProfileResult is the outcome of one profile over the replay.
type ProfileResult struct {
	Portfolio   domain.Portfolio
	Signals     int
	Executed    int
	Refused     int
	Open        int
	Performance *analytics.PerformanceMetrics
}

// Result collects every profile's outcome.
type Result struct {
	Symbol   string
	Candles  int
	Scans    int
	Start    time.Time
	End      time.Time
	Profiles map[string]*ProfileResult
}

// Runner drives the real engine over a historical series.
type Runner struct {
	cfg    Config
	feed   *Feed
	engine *app.Engine
	logger ports.Logger
}

// NewRunner builds an engine over the replay feed. Every signal is executed
// regardless of the profile's auto-execute setting.
func NewRunner(cfg Config, profiles map[string]config.Profile, candles []domain.Candle, repos app.Repositories, logger ports.Logger) (*Runner, error) {
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required for replay", ports.ErrConfigurationError)
	}
	if cfg.ScanEvery <= 0 {
		cfg.ScanEvery = 1
	}
	if cfg.Warmup < 0 {
		cfg.Warmup = 0
	}
	feed, err := NewFeed(candles, cfg.Conditions)
	if err != nil {
		return nil, err
	}
	lrn := learner.New(cfg.Learner, repos.SetupStats, logger)
	engine, err := app.NewEngine(app.EngineConfig{
		SignalTTL: time.Hour,
		ViewTTL:   time.Nanosecond,
		Clock:     feed.Now,
	}, profiles, feed, nil, lrn, repos, nil, logger)
	if err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, feed: feed, engine: engine, logger: logger}, nil
}

// Engine exposes the replay engine.
func (r *Runner) Engine() *app.Engine { return r.engine }

// Run replays every candle: intra-candle ticks first, then a scan at the close.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	op := "Runner.Run"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrContextCanceled, err)
	}
	if err := r.engine.Recover(ctx); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	candles := r.feed.Candles()
	symbol := r.feed.Symbol()
	res := &Result{
		Symbol:   symbol,
		Candles:  len(candles),
		Start:    candles[0].OpenTime,
		End:      candles[len(candles)-1].CloseTime,
		Profiles: make(map[string]*ProfileResult),
	}
	for _, name := range r.engine.Profiles() {
		res.Profiles[name] = &ProfileResult{}
	}
	r.logger.Info(ctx, op+": Replay started", map[string]interface{}{
		"symbol":  symbol,
		"candles": len(candles),
		"start":   res.Start,
		"end":     res.End,
	})

	for i, c := range candles {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ports.ErrContextCanceled, err)
		}
		for _, tick := range Ticks(c) {
			r.feed.Advance(tick.Timestamp)
			r.engine.OnPriceTick(ctx, tick)
		}
		r.feed.Advance(c.CloseTime)
		r.engine.ExpireSignals(ctx, c.CloseTime)

		if i < r.cfg.Warmup || (i-r.cfg.Warmup)%r.cfg.ScanEvery != 0 {
			continue
		}
		res.Scans++
		for _, name := range r.engine.Profiles() {
			r.scan(ctx, symbol, name, res.Profiles[name])
		}
	}

	for _, name := range r.engine.Profiles() {
		pr := res.Profiles[name]
		portfolio, err := r.engine.Portfolio(name)
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
		trades, err := r.engine.Trades(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
		open, err := r.engine.OpenPositions(name)
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
		pr.Portfolio = portfolio
		pr.Open = len(open)
		pr.Performance = analytics.AnalyzePerformance(trades, portfolio.InitialBalance)
	}
	r.logger.Info(ctx, op+": Replay finished", map[string]interface{}{"symbol": symbol, "scans": res.Scans})
	return res, nil
}

func (r *Runner) scan(ctx context.Context, symbol, profile string, pr *ProfileResult) {
	sig, err := r.engine.Evaluate(ctx, symbol, profile)
	if err != nil {
		r.logger.Debug(ctx, "Runner.scan: Evaluation failed", map[string]interface{}{"profile": profile, "error": err.Error()})
		return
	}
	if sig == nil {
		return
	}
	pr.Signals++
	if _, err := r.engine.Execute(ctx, sig.ID, 0); err != nil {
		pr.Refused++
		return
	}
	pr.Executed++
}

// Ticks synthesizes the intra-candle price path: open, the nearer extreme,
// the farther extreme, close. Bullish candles visit the low first.
func Ticks(c domain.Candle) []domain.PriceTick {
	span := c.CloseTime.Sub(c.OpenTime)
	first, second := c.Low, c.High
	if c.Close < c.Open {
		first, second = c.High, c.Low
	}
	prices := []float64{c.Open, first, second, c.Close}
	ticks := make([]domain.PriceTick, len(prices))
	for i, p := range prices {
		ticks[i] = domain.PriceTick{
			Symbol:    c.Symbol,
			Price:     p,
			Timestamp: c.OpenTime.Add(span * time.Duration(i) / time.Duration(len(prices)-1)),
		}
	}
	return ticks
}
