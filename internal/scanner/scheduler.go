package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"cryptoSignalBot/internal/ports"
)

// Target is what the scheduler drives each cycle.
type Target interface {
	// Profiles returns the names of the configured profiles.
	Profiles() []string
	// Scan evaluates one (symbol, profile) pair and acts on the result.
	Scan(ctx context.Context, symbol, profile string) error
	// ExpireSignals marks pending signals past their TTL as expired.
	ExpireSignals(ctx context.Context, now time.Time) int
}

// SchedulerConfig holds scan timing.
type SchedulerConfig struct {
	Symbols     []string
	Interval    time.Duration
	Concurrency int
}

// Scheduler runs a scan cycle over every (symbol, profile) pair on each tick.
// A tick arriving while the previous cycle still runs is skipped.
type Scheduler struct {
	cfg     SchedulerConfig
	target  Target
	metrics ports.Metrics
	logger  ports.Logger
	now     func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. metrics may be nil.
func NewScheduler(cfg SchedulerConfig, target Target, metrics ports.Metrics, logger ports.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Scheduler{cfg: cfg, target: target, metrics: metrics, logger: logger, now: time.Now}
}

// Run blocks until ctx is done. When ticks is nil a ticker with the
// configured interval drives the loop.
func (s *Scheduler) Run(ctx context.Context, ticks <-chan time.Time) {
	op := "Scheduler.Run"
	if ticks == nil {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		ticks = ticker.C
	}
	s.logger.Info(ctx, op+": Scanner started", map[string]interface{}{
		"symbols":     len(s.cfg.Symbols),
		"interval":    s.cfg.Interval.String(),
		"concurrency": s.cfg.Concurrency,
	})
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, op+": Scanner stopping")
			return
		case <-ticks:
			if !s.running.CompareAndSwap(false, true) {
				s.logger.Warn(ctx, op+": Previous cycle still running, skipping tick")
				if s.metrics != nil {
					s.metrics.ScanSkipped()
				}
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.running.Store(false)
				s.Cycle(ctx)
			}()
		}
	}
}

// Cycle evaluates every pair once and then sweeps expired signals.
func (s *Scheduler) Cycle(ctx context.Context) {
	op := "Scheduler.Cycle"
	start := s.now()
	profiles := s.target.Profiles()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, symbol := range s.cfg.Symbols {
		for _, profile := range profiles {
			symbol, profile := symbol, profile
			g.Go(func() error {
				if err := s.target.Scan(gctx, symbol, profile); err != nil {
					s.reportFailure(gctx, symbol, profile, err)
				}
				// A failing pair never cancels its siblings.
				return nil
			})
		}
	}
	_ = g.Wait()

	if expired := s.target.ExpireSignals(ctx, s.now()); expired > 0 {
		s.logger.Info(ctx, op+": Signals expired", map[string]interface{}{"count": expired})
	}

	elapsed := s.now().Sub(start)
	if s.metrics != nil {
		s.metrics.ScanCompleted(elapsed)
	}
	s.logger.Debug(ctx, op+": Cycle completed", map[string]interface{}{
		"pairs":    len(s.cfg.Symbols) * len(profiles),
		"duration": elapsed.String(),
	})
}

func (s *Scheduler) reportFailure(ctx context.Context, symbol, profile string, err error) {
	fields := map[string]interface{}{"symbol": symbol, "profile": profile}
	switch {
	case errors.Is(err, context.Canceled):
		return
	case errors.Is(err, ports.ErrDataGap):
		fields["error"] = err.Error()
		s.logger.Warn(ctx, "Scheduler.Cycle: Skipping pair, market data incomplete", fields)
	default:
		s.logger.Error(ctx, err, "Scheduler.Cycle: Evaluation failed", fields)
	}
	if s.metrics != nil {
		s.metrics.EvaluationFailed(profile)
	}
}
