package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"cryptoSignalBot/internal/learner"
	"cryptoSignalBot/internal/monitor"
	"cryptoSignalBot/internal/ports"
	"cryptoSignalBot/internal/scanner"
)

// ServiceConfig holds the settings of the background loops.
type ServiceConfig struct {
	Symbols            []string
	ScanInterval       time.Duration
	ScanConcurrency    int
	PollInterval       time.Duration
	ReconnectDelay     time.Duration
	MaxReconnectDelay  time.Duration
	LearnerReloadEvery time.Duration
	MetricsAddr        string // Empty disables the metrics endpoint
}

// SignalService runs the scanner, the price supervisor and the learner
// refresh around one engine until shutdown.
type SignalService struct {
	cfg        ServiceConfig
	engine     *Engine
	learner    *learner.Learner
	scheduler  *scanner.Scheduler
	supervisor *monitor.Supervisor
	metrics    http.Handler
	logger     ports.Logger
}

// NewSignalService creates the service. cache and metricsHandler may be nil.
func NewSignalService(
	cfg ServiceConfig,
	engine *Engine,
	lrn *learner.Learner,
	feed ports.MarketDataFeed,
	cache ports.PriceCache,
	metrics ports.Metrics,
	metricsHandler http.Handler,
	logger ports.Logger,
) (*SignalService, error) {
	if engine == nil || lrn == nil || feed == nil || logger == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for SignalService", ports.ErrConfigurationError)
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols to scan", ports.ErrConfigurationError)
	}
	if cfg.ScanInterval <= 0 {
		return nil, fmt.Errorf("%w: scan interval must be positive", ports.ErrConfigurationError)
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = time.Minute
	}

	return &SignalService{
		cfg:     cfg,
		engine:  engine,
		learner: lrn,
		scheduler: scanner.NewScheduler(scanner.SchedulerConfig{
			Symbols:     cfg.Symbols,
			Interval:    cfg.ScanInterval,
			Concurrency: cfg.ScanConcurrency,
		}, engine, metrics, logger),
		supervisor: monitor.NewSupervisor(monitor.SupervisorConfig{
			Symbols:           cfg.Symbols,
			PollInterval:      cfg.PollInterval,
			ReconnectDelay:    cfg.ReconnectDelay,
			MaxReconnectDelay: cfg.MaxReconnectDelay,
		}, feed, cache, engine, metrics, logger),
		metrics: metricsHandler,
		logger:  logger,
	}, nil
}

// Start restores state and blocks until ctx is canceled or SIGINT/SIGTERM arrives.
func (s *SignalService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Signal Service...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// 1. Restore ledgers, monitors and learner stats
	if err := s.engine.Recover(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to restore persisted state")
		return fmt.Errorf("failed to restore state: %w", err)
	}
	s.logger.Info(ctx, "Persisted state restored", map[string]interface{}{"profiles": s.engine.Profiles()})

	// 2. Start the background loops
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.supervisor.Run(gctx)
	})
	g.Go(func() error {
		s.scheduler.Run(gctx, nil)
		return nil
	})
	g.Go(func() error {
		s.learner.Run(gctx, s.cfg.LearnerReloadEvery)
		return nil
	})
	g.Go(func() error {
		s.refreshAdaptive(gctx)
		return nil
	})
	if s.metrics != nil && s.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return s.serveMetrics(gctx)
		})
	}
	s.logger.Info(ctx, "Signal Service running", map[string]interface{}{
		"symbols":       s.cfg.Symbols,
		"scan_interval": s.cfg.ScanInterval.String(),
		"metrics_addr":  s.cfg.MetricsAddr,
	})

	// 3. Wait for shutdown
	if err := g.Wait(); err != nil {
		s.logger.Error(ctx, err, "Signal Service stopped with error")
		return err
	}
	s.logger.Info(ctx, "Signal Service stopped.")
	return nil
}

// refreshAdaptive keeps the adaptive windows moving between trades.
func (s *SignalService) refreshAdaptive(ctx context.Context) {
	if s.cfg.LearnerReloadEvery <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.LearnerReloadEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.engine.RefreshAdaptive(ctx)
		}
	}
}

func (s *SignalService) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics)
	srv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(ctx, "Metrics server shutdown timed out", map[string]interface{}{"error": err.Error()})
		}
		return nil
	}
}
