package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// TickSink receives every price tick the supervisor dispatches.
type TickSink interface {
	OnPriceTick(ctx context.Context, tick domain.PriceTick)
}

// SupervisorConfig holds timing of the stream supervisor.
type SupervisorConfig struct {
	Symbols           []string
	PollInterval      time.Duration // Polling cadence while degraded
	ReconnectDelay    time.Duration // Base delay of the exponential backoff
	MaxReconnectDelay time.Duration
}

// Supervisor keeps prices flowing to the sink. It consumes the live stream
// and, while the stream is down, polls the feed (falling back to the last
// known price) until the stream can be re-established.
type Supervisor struct {
	cfg     SupervisorConfig
	feed    ports.MarketDataFeed
	cache   ports.PriceCache
	sink    TickSink
	metrics ports.Metrics
	logger  ports.Logger

	degraded atomic.Bool
}

// NewSupervisor creates a supervisor. cache and metrics may be nil.
func NewSupervisor(cfg SupervisorConfig, feed ports.MarketDataFeed, cache ports.PriceCache, sink TickSink, metrics ports.Metrics, logger ports.Logger) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = 60 * cfg.ReconnectDelay
	}
	return &Supervisor{cfg: cfg, feed: feed, cache: cache, sink: sink, metrics: metrics, logger: logger}
}

// Degraded reports whether the supervisor is currently polling.
func (s *Supervisor) Degraded() bool {
	return s.degraded.Load()
}

// Run blocks until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	op := "Supervisor.Run"
	attempt := 0
	for {
		stream, err := s.feed.PriceStream(ctx, s.cfg.Symbols)
		if err == nil {
			if s.Degraded() {
				s.reconcile(ctx)
				s.setDegraded(ctx, false)
			}
			attempt = 0
			s.consume(ctx, stream)
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn(ctx, op+": Price stream disconnected", nil)
		} else {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error(ctx, err, op+": Failed to open price stream", map[string]interface{}{"attempt": attempt + 1})
		}

		s.setDegraded(ctx, true)
		attempt++
		if !s.pollFor(ctx, s.backoff(attempt)) {
			return nil
		}
	}
}

func (s *Supervisor) consume(ctx context.Context, stream <-chan domain.PriceTick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-stream:
			if !ok {
				return
			}
			s.dispatch(ctx, tick, true)
		}
	}
}

// pollFor polls every symbol on the poll cadence for d. It returns false when ctx is done.
func (s *Supervisor) pollFor(ctx context.Context, d time.Duration) bool {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return true
		case <-ticker.C:
			s.pollAll(ctx)
		}
	}
}

// reconcile polls every symbol once before stream dispatch resumes.
func (s *Supervisor) reconcile(ctx context.Context) {
	s.logger.Info(ctx, "Supervisor.reconcile: Stream resumed, reconciling prices", map[string]interface{}{"symbols": len(s.cfg.Symbols)})
	s.pollAll(ctx)
}

func (s *Supervisor) pollAll(ctx context.Context) {
	op := "Supervisor.poll"
	for _, symbol := range s.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		tick, err := s.feed.LatestPrice(ctx, symbol)
		if err == nil {
			s.dispatch(ctx, tick, true)
			continue
		}
		s.logger.Warn(ctx, op+": Poll failed, using last known price", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		if s.cache == nil {
			continue
		}
		// The cached tick keeps its original timestamp, so monitors drop it
		// once it is older than their max tick age. A long outage leaves
		// positions untouched rather than acting on a stale price.
		cached, cacheErr := s.cache.LastPrice(ctx, symbol)
		if cacheErr != nil {
			continue
		}
		s.dispatch(ctx, cached, false)
	}
}

func (s *Supervisor) dispatch(ctx context.Context, tick domain.PriceTick, store bool) {
	if store && s.cache != nil {
		if err := s.cache.SetLastPrice(ctx, tick); err != nil {
			s.logger.Debug(ctx, "Supervisor.dispatch: Failed to cache price", map[string]interface{}{"symbol": tick.Symbol, "error": err.Error()})
		}
	}
	s.sink.OnPriceTick(ctx, tick)
}

func (s *Supervisor) setDegraded(ctx context.Context, degraded bool) {
	if s.degraded.Swap(degraded) == degraded {
		return
	}
	if s.metrics != nil {
		s.metrics.SetDegraded(degraded)
	}
	if degraded {
		s.logger.Warn(ctx, "Supervisor: DEGRADED MODE - polling prices until the stream recovers", map[string]interface{}{"poll_interval": s.cfg.PollInterval.String()})
		return
	}
	s.logger.Info(ctx, "Supervisor: Stream recovered, leaving degraded mode", nil)
}

func (s *Supervisor) backoff(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	delay := s.cfg.ReconnectDelay * time.Duration(1<<uint(attempt-1))
	if delay > s.cfg.MaxReconnectDelay {
		delay = s.cfg.MaxReconnectDelay
	}
	return delay
}
