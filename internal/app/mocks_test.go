package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

var baseTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

// breakoutCandles is a tight 5m range followed by a high-volume close above it.
func breakoutCandles() []domain.Candle {
	out := make([]domain.Candle, 0, 60)
	for i := 0; i < 59; i++ {
		out = append(out, domain.Candle{
			OpenTime: baseTime.Add(time.Duration(i) * 5 * time.Minute),
			Symbol:   "BTCUSDT",
			Open:     100,
			High:     101,
			Low:      99,
			Close:    100,
			Volume:   100,
			IsFinal:  true,
		})
	}
	return append(out, domain.Candle{
		OpenTime: baseTime.Add(59 * 5 * time.Minute),
		Symbol:   "BTCUSDT",
		Open:     100,
		High:     101.2,
		Low:      99.9,
		Close:    101,
		Volume:   300,
		IsFinal:  true,
	})
}

// uptrendCandles drifts upward with a 6-bar oscillation so swings form.
func uptrendCandles(n int) []domain.Candle {
	tri := []float64{0, 1, 2, 3, 2, 1}
	out := make([]domain.Candle, n)
	prev := 100.0
	for i := range out {
		c := 100 + 0.5*float64(i) + 2*tri[i%6]
		out[i] = domain.Candle{
			OpenTime: baseTime.Add(time.Duration(i) * time.Hour),
			Symbol:   "BTCUSDT",
			Open:     prev,
			High:     c + 0.5,
			Low:      c - 0.5,
			Close:    c,
			Volume:   100,
			IsFinal:  true,
		}
		prev = c
	}
	return out
}

// fakeFeed serves fixed candles per timeframe; unknown timeframes are a data gap.
type fakeFeed struct {
	mu            sync.Mutex
	candles       map[string][]domain.Candle
	snapshot      *domain.MarketSnapshot
	snapshotCalls int
	candleCalls   map[string]int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		candles: map[string][]domain.Candle{
			"5m": breakoutCandles(),
			"1h": uptrendCandles(124),
		},
		snapshot: &domain.MarketSnapshot{
			Symbol:         "BTCUSDT",
			Price:          101,
			SpreadPct:      0.01,
			BidDepthUSD:    150000,
			AskDepthUSD:    150000,
			FundingRatePct: 0.01,
			OIChangePct:    0.5,
			Timestamp:      baseTime,
		},
		candleCalls: make(map[string]int),
	}
}

func (f *fakeFeed) LatestCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candleCalls[timeframe]++
	c, ok := f.candles[timeframe]
	if !ok || symbol != "BTCUSDT" {
		return nil, fmt.Errorf("%w: no %s candles for %s", ports.ErrDataGap, timeframe, symbol)
	}
	return c, nil
}

func (f *fakeFeed) Snapshot(ctx context.Context, symbol string) (*domain.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshotCalls++
	if symbol != "BTCUSDT" {
		return nil, fmt.Errorf("%w: no snapshot for %s", ports.ErrDataGap, symbol)
	}
	return f.snapshot, nil
}

func (f *fakeFeed) PriceStream(ctx context.Context, symbols []string) (<-chan domain.PriceTick, error) {
	return nil, ports.ErrStreamClosed
}

func (f *fakeFeed) LatestPrice(ctx context.Context, symbol string) (domain.PriceTick, error) {
	return domain.PriceTick{Symbol: symbol, Price: 101, Timestamp: time.Now()}, nil
}

type memSignalRepo struct {
	mu        sync.Mutex
	signals   map[string]domain.Signal
	createErr error
}

func (r *memSignalRepo) CreateSignal(ctx context.Context, sig *domain.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.signals[sig.ID] = *sig
	return nil
}

func (r *memSignalRepo) UpdateSignalStatus(ctx context.Context, id string, status domain.SignalStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sig, ok := r.signals[id]
	if !ok {
		return ports.ErrNotFound
	}
	sig.Status = status
	r.signals[id] = sig
	return nil
}

func (r *memSignalRepo) FindSignalByID(ctx context.Context, id string) (*domain.Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sig, ok := r.signals[id]
	if !ok {
		return nil, nil
	}
	return &sig, nil
}

func (r *memSignalRepo) FindRecentSignals(ctx context.Context, profile string, limit int) ([]*domain.Signal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Signal
	for _, s := range r.signals {
		if s.Profile == profile {
			cp := s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memSignalRepo) status(id string) domain.SignalStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signals[id].Status
}

type memPositionRepo struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

func (r *memPositionRepo) SavePosition(ctx context.Context, pos *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *pos
	cp.Fills = append([]domain.Fill(nil), pos.Fills...)
	r.positions[pos.ID] = cp
	return nil
}

func (r *memPositionRepo) FindPositionByID(ctx context.Context, id string) (*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memPositionRepo) FindOpenPositions(ctx context.Context, profile string) ([]*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Position
	for _, p := range r.positions {
		if p.Profile == profile && p.IsOpen() {
			cp := p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memTradeRepo struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (r *memTradeRepo) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	trade.ID = int64(len(r.trades) + 1)
	r.trades = append(r.trades, *trade)
	return trade.ID, nil
}

func (r *memTradeRepo) FindTradesByProfile(ctx context.Context, profile string) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Trade
	for _, t := range r.trades {
		if t.Profile == profile {
			cp := t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memTradeRepo) DeleteTradesByProfile(ctx context.Context, profile string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.trades[:0]
	for _, t := range r.trades {
		if t.Profile != profile {
			kept = append(kept, t)
		}
	}
	r.trades = kept
	return nil
}

type memPortfolioRepo struct {
	mu         sync.Mutex
	portfolios map[string]domain.Portfolio
}

func (r *memPortfolioRepo) SavePortfolio(ctx context.Context, p *domain.Portfolio) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.portfolios[p.Profile] = *p
	return nil
}

func (r *memPortfolioRepo) FindPortfolio(ctx context.Context, profile string) (*domain.Portfolio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.portfolios[profile]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

type memStatRepo struct {
	mu    sync.Mutex
	stats map[domain.SetupKey]domain.SetupStat
}

func (r *memStatRepo) SaveSetupStat(ctx context.Context, stat *domain.SetupStat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats[stat.Key()] = *stat
	return nil
}

func (r *memStatRepo) FindAllSetupStats(ctx context.Context) ([]domain.SetupStat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SetupStat, 0, len(r.stats))
	for _, s := range r.stats {
		out = append(out, s)
	}
	return out, nil
}

type testRepos struct {
	signals    *memSignalRepo
	positions  *memPositionRepo
	trades     *memTradeRepo
	portfolios *memPortfolioRepo
	stats      *memStatRepo
}

func newTestRepos() *testRepos {
	return &testRepos{
		signals:    &memSignalRepo{signals: make(map[string]domain.Signal)},
		positions:  &memPositionRepo{positions: make(map[string]domain.Position)},
		trades:     &memTradeRepo{},
		portfolios: &memPortfolioRepo{portfolios: make(map[string]domain.Portfolio)},
		stats:      &memStatRepo{stats: make(map[domain.SetupKey]domain.SetupStat)},
	}
}

func (r *testRepos) Repositories() Repositories {
	return Repositories{
		Signals:    r.signals,
		Positions:  r.positions,
		Trades:     r.trades,
		Portfolios: r.portfolios,
		SetupStats: r.stats,
	}
}

// recordingMetrics implements ports.Metrics and keeps what it was told.
type recordingMetrics struct {
	mu       sync.Mutex
	emitted  map[string]int
	rejected map[domain.ReasonCode]int
	opened   int
	closed   []domain.Outcome
	balances map[string]float64
	degraded []bool
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		emitted:  make(map[string]int),
		rejected: make(map[domain.ReasonCode]int),
		balances: make(map[string]float64),
	}
}

func (m *recordingMetrics) ScanCompleted(time.Duration) {}
func (m *recordingMetrics) ScanSkipped()                {}
func (m *recordingMetrics) EvaluationFailed(string)     {}

func (m *recordingMetrics) SignalEmitted(profile string, setup domain.SetupType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitted[profile]++
}

func (m *recordingMetrics) SignalRejected(profile string, reason domain.ReasonCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}

func (m *recordingMetrics) PositionOpened(profile string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
}

func (m *recordingMetrics) PositionClosed(profile string, outcome domain.Outcome, pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, outcome)
}

func (m *recordingMetrics) SetDegraded(degraded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degraded = append(m.degraded, degraded)
}

func (m *recordingMetrics) SetBalance(profile string, balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[profile] = balance
}

func (m *recordingMetrics) rejections(reason domain.ReasonCode) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejected[reason]
}
