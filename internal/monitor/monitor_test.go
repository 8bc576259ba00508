package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type memPositionRepo struct {
	mu    sync.Mutex
	saved map[string]domain.Position
	saves int
}

func newMemPositionRepo() *memPositionRepo {
	return &memPositionRepo{saved: make(map[string]domain.Position)}
}

func (r *memPositionRepo) SavePosition(ctx context.Context, pos *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	r.saved[pos.ID] = *pos
	return nil
}

func (r *memPositionRepo) FindPositionByID(ctx context.Context, id string) (*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.saved[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *memPositionRepo) FindOpenPositions(ctx context.Context, profile string) ([]*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Position
	for _, p := range r.saved {
		if p.Profile == profile && p.IsOpen() {
			cp := p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type recordingHandler struct {
	mu     sync.Mutex
	closed []domain.Position
}

func (h *recordingHandler) OnPositionClosed(ctx context.Context, pos *domain.Position) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, *pos)
	return nil
}

func newTestMonitor(repo ports.PositionRepository, handler CloseHandler) *Monitor {
	m := New("strict", defaultRules(), time.Minute, repo, handler, nopLogger{})
	m.now = func() time.Time { return t0.Add(time.Minute) }
	return m
}

func tick(symbol string, price float64, offset time.Duration) domain.PriceTick {
	return domain.PriceTick{Symbol: symbol, Price: price, Timestamp: t0.Add(offset)}
}

func TestMonitor_TrackValidation(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(nil, nil)

	require.NoError(t, m.Track(ctx, longBTC()))
	assert.ErrorIs(t, m.Track(ctx, longBTC()), ports.ErrDuplicatePosition)

	closed := longBTC()
	closed.ID = "pos-closed"
	closed.State = domain.StateClosed
	assert.ErrorIs(t, m.Track(ctx, closed), ports.ErrInvalidRequest)
	assert.Len(t, m.Positions(), 1)
}

func TestMonitor_OnTickFiltersTicks(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		ticks    []domain.PriceTick
		wantFill int
	}{
		{name: "Other symbol", ticks: []domain.PriceTick{tick("ETHUSDT", 50600, 30*time.Second)}, wantFill: 0},
		{name: "Zero price", ticks: []domain.PriceTick{tick("BTCUSDT", 0, 30*time.Second)}, wantFill: 0},
		{name: "Older than max age", ticks: []domain.PriceTick{tick("BTCUSDT", 50600, -time.Minute)}, wantFill: 0},
		{name: "Fresh tick fills", ticks: []domain.PriceTick{tick("BTCUSDT", 50600, 30*time.Second)}, wantFill: 1},
		{
			name: "Out of order replay is dropped",
			ticks: []domain.PriceTick{
				tick("BTCUSDT", 50100, 40*time.Second),
				tick("BTCUSDT", 50600, 30*time.Second),
			},
			wantFill: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMonitor(nil, nil)
			require.NoError(t, m.Track(ctx, longBTC()))
			fills := 0
			for _, tk := range tt.ticks {
				fills += m.OnTick(ctx, tk)
			}
			assert.Equal(t, tt.wantFill, fills)
		})
	}
}

func TestMonitor_ClosedPositionNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	repo := newMemPositionRepo()
	handler := &recordingHandler{}
	m := newTestMonitor(repo, handler)

	eth := longBTC()
	eth.ID, eth.Symbol = "pos-eth", "ETHUSDT"
	require.NoError(t, m.Track(ctx, longBTC()))
	require.NoError(t, m.Track(ctx, eth))

	assert.Equal(t, 1, m.OnTick(ctx, tick("BTCUSDT", 48000, time.Second)))
	assert.Equal(t, 0, m.OnTick(ctx, tick("BTCUSDT", 47000, 2*time.Second)))

	require.Len(t, handler.closed, 1)
	assert.Equal(t, "pos-1", handler.closed[0].ID)
	assert.Equal(t, domain.CloseReasonStopLoss, handler.closed[0].CloseReason)

	saved, err := repo.FindPositionByID(ctx, "pos-1")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, domain.StateClosed, saved.State)

	open := m.Positions()
	require.Len(t, open, 1)
	assert.Equal(t, "pos-eth", open[0].ID)
}

func TestMonitor_PersistsTrailingStopMoves(t *testing.T) {
	ctx := context.Background()
	repo := newMemPositionRepo()
	m := newTestMonitor(repo, nil)
	require.NoError(t, m.Track(ctx, longBTC()))

	m.OnTick(ctx, tick("BTCUSDT", 51600, time.Second)) // tp1 and tp2, trailing at 51100
	savesBefore := repo.saves
	assert.Equal(t, 0, m.OnTick(ctx, tick("BTCUSDT", 52000, 2*time.Second)))
	assert.Equal(t, savesBefore+1, repo.saves)

	saved, err := repo.FindPositionByID(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, 51500.0, saved.StopLoss)
}

func TestMonitor_PositionsReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(nil, nil)
	require.NoError(t, m.Track(ctx, longBTC()))

	snap := m.Positions()
	snap[0].StopLoss = 1
	assert.Equal(t, 49000.0, m.Positions()[0].StopLoss)
}

func TestMonitor_DrainSkipsHandler(t *testing.T) {
	ctx := context.Background()
	repo := newMemPositionRepo()
	handler := &recordingHandler{}
	m := newTestMonitor(repo, handler)
	require.NoError(t, m.Track(ctx, longBTC()))

	drained := m.Drain(ctx)
	require.Len(t, drained, 1)
	assert.Equal(t, domain.StateClosed, drained[0].State)
	assert.Equal(t, domain.CloseReasonReset, drained[0].CloseReason)
	assert.Empty(t, handler.closed)
	assert.Empty(t, m.Positions())

	open, err := repo.FindOpenPositions(ctx, "strict")
	require.NoError(t, err)
	assert.Empty(t, open)
}
