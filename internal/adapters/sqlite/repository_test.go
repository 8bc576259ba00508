package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

var testTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "signal-bot-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

func testSignal(id string) *domain.Signal {
	return &domain.Signal{
		ID:         id,
		Symbol:     "BTCUSDT",
		Profile:    "strict",
		Mode:       domain.ModeScalp,
		Direction:  domain.Long,
		Score:      71.5,
		EntryPrice: 50000,
		StopLoss:   49000,
		TP1:        50500,
		TP2:        51500,
		TP3:        53000,
		Leverage:   5,
		Quantity:   0.005,
		Margin:     50,
		ATR:        500,
		SetupType:  domain.SetupBreakout,
		Layers:     domain.LayerScores{Tradeability: 80, Direction: 70, Entry: 65, Sentiment: 50},
		Reasons: []domain.Reason{
			{Code: domain.ReasonTradeability, Value: 80},
			{Code: domain.ReasonSetupBreakout, Value: 65},
		},
		CreatedAt: testTime,
		Status:    domain.SignalPending,
	}
}

func testPosition(id, profile string) *domain.Position {
	return &domain.Position{
		ID:             id,
		SignalID:       "sig-" + id,
		Profile:        profile,
		Symbol:         "BTCUSDT",
		Mode:           domain.ModeScalp,
		SetupType:      domain.SetupBreakout,
		Direction:      domain.Long,
		EntryPrice:     50000,
		OriginalQty:    0.01,
		RemainingQty:   0.01,
		StopLoss:       49000,
		TP1:            50500,
		TP2:            51500,
		TP3:            53000,
		TrailDistance:  500,
		State:          domain.StateActive,
		MarginRequired: 50,
		Leverage:       10,
		OpenedAt:       testTime,
		Context:        domain.TradeContext{Regime: "trending", Score: 72.5, MTF: 2},
	}
}

func TestRepository_Signals(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	sig := testSignal("sig-1")
	require.NoError(t, repo.CreateSignal(ctx, sig))

	found, err := repo.FindSignalByID(ctx, "sig-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, sig.Symbol, found.Symbol)
	assert.Equal(t, sig.Mode, found.Mode)
	assert.Equal(t, sig.Direction, found.Direction)
	assert.Equal(t, sig.SetupType, found.SetupType)
	assert.Equal(t, sig.Layers, found.Layers)
	assert.Equal(t, sig.Reasons, found.Reasons)
	assert.Equal(t, sig.Leverage, found.Leverage)
	assert.True(t, sig.CreatedAt.Equal(found.CreatedAt))
	assert.Equal(t, domain.SignalPending, found.Status)

	require.NoError(t, repo.UpdateSignalStatus(ctx, "sig-1", domain.SignalExecuted))
	found, err = repo.FindSignalByID(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SignalExecuted, found.Status)

	err = repo.UpdateSignalStatus(ctx, "missing", domain.SignalExpired)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	missing, err := repo.FindSignalByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Duplicate IDs are rejected by the primary key.
	assert.Error(t, repo.CreateSignal(ctx, testSignal("sig-1")))
}

func TestRepository_FindRecentSignals(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		sig := testSignal(id)
		sig.CreatedAt = testTime.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.CreateSignal(ctx, sig))
	}
	other := testSignal("d")
	other.Profile = "loose"
	require.NoError(t, repo.CreateSignal(ctx, other))

	got, err := repo.FindRecentSignals(ctx, "strict", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestRepository_SaveAndFindPosition(t *testing.T) {
	tests := []struct {
		name   string
		update func(*domain.Position)
	}{
		{
			name:   "open position",
			update: func(p *domain.Position) {},
		},
		{
			name: "after tp1",
			update: func(p *domain.Position) {
				p.TP1Hit = true
				p.RemainingQty = 0.006
				p.StopLoss = p.EntryPrice
				p.State = domain.StateBreakeven
				p.RealizedPnL = 2
				p.Fills = []domain.Fill{{Level: domain.FillTP1, Price: 50500, Qty: 0.004, PnL: 2, At: testTime.Add(time.Minute)}}
			},
		},
		{
			name: "closed position",
			update: func(p *domain.Position) {
				p.TP1Hit = true
				p.RemainingQty = 0
				p.State = domain.StateClosed
				p.RealizedPnL = 2
				p.Outcome = domain.OutcomeWin
				p.CloseReason = domain.CloseReasonBreakeven
				p.ClosedAt = testTime.Add(time.Hour)
				p.Fills = []domain.Fill{
					{Level: domain.FillTP1, Price: 50500, Qty: 0.004, PnL: 2, At: testTime.Add(time.Minute)},
					{Level: domain.FillStop, Price: 50000, Qty: 0.006, PnL: 0, At: testTime.Add(time.Hour)},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, cleanup := setupTestDB(t)
			defer cleanup()
			ctx := context.Background()

			pos := testPosition("p-1", "strict")
			require.NoError(t, repo.SavePosition(ctx, pos))
			tt.update(pos)
			require.NoError(t, repo.SavePosition(ctx, pos))

			found, err := repo.FindPositionByID(ctx, "p-1")
			require.NoError(t, err)
			require.NotNil(t, found)

			assert.Equal(t, pos.State, found.State)
			assert.Equal(t, pos.RemainingQty, found.RemainingQty)
			assert.Equal(t, pos.StopLoss, found.StopLoss)
			assert.Equal(t, pos.TP1Hit, found.TP1Hit)
			assert.Equal(t, pos.RealizedPnL, found.RealizedPnL)
			assert.Equal(t, pos.Outcome, found.Outcome)
			assert.Equal(t, pos.CloseReason, found.CloseReason)
			assert.Equal(t, pos.Direction, found.Direction)
			assert.True(t, pos.ClosedAt.Equal(found.ClosedAt))
			assert.Equal(t, pos.Context, found.Context)
			require.Len(t, found.Fills, len(pos.Fills))
			for i := range pos.Fills {
				assert.Equal(t, pos.Fills[i].Level, found.Fills[i].Level)
				assert.Equal(t, pos.Fills[i].Qty, found.Fills[i].Qty)
				assert.True(t, pos.Fills[i].At.Equal(found.Fills[i].At))
			}
		})
	}
}

func TestRepository_FindOpenPositions(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	first := testPosition("p-1", "strict")
	second := testPosition("p-2", "strict")
	second.OpenedAt = testTime.Add(time.Minute)
	second.State = domain.StateTrailing
	closed := testPosition("p-3", "strict")
	closed.State = domain.StateClosed
	closed.ClosedAt = testTime.Add(time.Hour)
	otherProfile := testPosition("p-4", "loose")

	for _, p := range []*domain.Position{second, first, closed, otherProfile} {
		require.NoError(t, repo.SavePosition(ctx, p))
	}

	open, err := repo.FindOpenPositions(ctx, "strict")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "p-1", open[0].ID)
	assert.Equal(t, "p-2", open[1].ID)

	missing, err := repo.FindPositionByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_Trades(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	trades := []*domain.Trade{
		{PositionID: "p-1", Profile: "strict", Symbol: "BTCUSDT", Direction: domain.Long, SetupType: domain.SetupBreakout, Mode: domain.ModeScalp,
			EntryPrice: 50000, ExitPrice: 50950, Quantity: 0.01, Leverage: 10, PNL: 9.5, EntryTime: testTime, ExitTime: testTime.Add(time.Hour),
			CloseReason: domain.CloseReasonTakeProfit3, Outcome: domain.OutcomeWin, Context: domain.TradeContext{Regime: "ranging", Score: 64, MTF: -1}},
		{PositionID: "p-2", Profile: "strict", Symbol: "ETHUSDT", Direction: domain.Short, SetupType: domain.SetupRetest, Mode: domain.ModeSwing,
			EntryPrice: 3000, ExitPrice: 3030, Quantity: 0.1, Leverage: 3, PNL: -3, EntryTime: testTime, ExitTime: testTime.Add(2 * time.Hour),
			CloseReason: domain.CloseReasonStopLoss, Outcome: domain.OutcomeLoss},
		{PositionID: "p-3", Profile: "loose", Symbol: "SOLUSDT", Direction: domain.Long, SetupType: domain.SetupEMABounce, Mode: domain.ModeScalp,
			EntryPrice: 150, ExitPrice: 151, Quantity: 1, Leverage: 2, PNL: 1, EntryTime: testTime, ExitTime: testTime.Add(time.Hour),
			Outcome: domain.OutcomeWin},
	}
	for _, tr := range trades {
		id, err := repo.CreateTrade(ctx, tr)
		require.NoError(t, err)
		assert.Greater(t, id, int64(0))
		assert.Equal(t, id, tr.ID)
	}

	got, err := repo.FindTradesByProfile(ctx, "strict")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p-1", got[0].PositionID)
	assert.Equal(t, domain.CloseReasonTakeProfit3, got[0].CloseReason)
	assert.Equal(t, domain.TradeContext{Regime: "ranging", Score: 64, MTF: -1}, got[0].Context)
	assert.Equal(t, domain.TradeContext{}, got[1].Context)
	assert.Equal(t, domain.Short, got[1].Direction)
	assert.Equal(t, -3.0, got[1].PNL)
	assert.Equal(t, domain.OutcomeLoss, got[1].Outcome)

	loose, err := repo.FindTradesByProfile(ctx, "loose")
	require.NoError(t, err)
	require.Len(t, loose, 1)
	assert.Equal(t, domain.CloseReasonUnknown, loose[0].CloseReason)

	require.NoError(t, repo.DeleteTradesByProfile(ctx, "strict"))
	got, err = repo.FindTradesByProfile(ctx, "strict")
	require.NoError(t, err)
	assert.Empty(t, got)
	loose, err = repo.FindTradesByProfile(ctx, "loose")
	require.NoError(t, err)
	assert.Len(t, loose, 1)
}

func TestRepository_Portfolio(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	missing, err := repo.FindPortfolio(ctx, "strict")
	require.NoError(t, err)
	assert.Nil(t, missing)

	p := &domain.Portfolio{
		Profile: "strict", InitialBalance: 1000, CurrentBalance: 1012.5, ReservedMargin: 100,
		Wins: 3, Losses: 1, TotalPnL: 12.5, OpenPositions: 2, UpdatedAt: testTime,
	}
	require.NoError(t, repo.SavePortfolio(ctx, p))

	p.CurrentBalance = 1002.5
	p.Losses = 2
	require.NoError(t, repo.SavePortfolio(ctx, p))

	found, err := repo.FindPortfolio(ctx, "strict")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, 1002.5, found.CurrentBalance)
	assert.Equal(t, 2, found.Losses)
	assert.Equal(t, 100.0, found.ReservedMargin)
	assert.Equal(t, 2, found.OpenPositions)
}

func TestRepository_SetupStats(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	stats := []*domain.SetupStat{
		{SetupType: domain.SetupRetest, Symbol: "ETHUSDT", Mode: domain.ModeSwing, Wins: 4, Losses: 2, UpdatedAt: testTime},
		{SetupType: domain.SetupBreakout, Symbol: "BTCUSDT", Mode: domain.ModeScalp, Wins: 2, Losses: 10, Disabled: true, UpdatedAt: testTime},
	}
	for _, s := range stats {
		require.NoError(t, repo.SaveSetupStat(ctx, s))
	}
	// Replacing by key keeps one row per combination.
	stats[1].Wins = 6
	stats[1].Losses = 14
	stats[1].Disabled = false
	require.NoError(t, repo.SaveSetupStat(ctx, stats[1]))

	got, err := repo.FindAllSetupStats(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.SetupBreakout, got[0].SetupType)
	assert.Equal(t, 6, got[0].Wins)
	assert.False(t, got[0].Disabled)
	assert.Equal(t, domain.SetupRetest, got[1].SetupType)
	assert.Equal(t, domain.ModeSwing, got[1].Mode)
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}
