package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cryptoSignalBot/internal/domain"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Counters(t *testing.T) {
	r := NewRegistry()

	r.ScanSkipped()
	r.ScanSkipped()
	r.EvaluationFailed("strict")
	r.SignalEmitted("loose", domain.SetupBreakout)
	r.SignalRejected("strict", domain.ReasonSpread)
	r.SignalRejected("strict", domain.ReasonSpread)
	r.PositionOpened("loose")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ScansSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.EvalFailures.WithLabelValues("strict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SignalsEmitted.WithLabelValues("loose", "breakout")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.SignalsRejected.WithLabelValues("strict", "SPREAD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PositionsOpened.WithLabelValues("loose")))
}

func TestRegistry_PositionClosed(t *testing.T) {
	tests := []struct {
		name     string
		outcome  domain.Outcome
		pnl      float64
		wantGain float64
		wantLoss float64
	}{
		{name: "Win", outcome: domain.OutcomeWin, pnl: 12.5, wantGain: 12.5},
		{name: "Loss", outcome: domain.OutcomeLoss, pnl: -4, wantLoss: 4},
		{name: "Breakeven", outcome: domain.OutcomeBreakeven, pnl: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.PositionClosed("strict", tt.outcome, tt.pnl)

			assert.Equal(t, 1.0, testutil.ToFloat64(r.PositionsClosed.WithLabelValues("strict", string(tt.outcome))))
			assert.Equal(t, tt.wantGain, testutil.ToFloat64(r.RealizedPnL.WithLabelValues("strict", "gain")))
			assert.Equal(t, tt.wantLoss, testutil.ToFloat64(r.RealizedPnL.WithLabelValues("strict", "loss")))
		})
	}
}

func TestRegistry_Gauges(t *testing.T) {
	r := NewRegistry()

	r.SetDegraded(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.FeedDegraded))
	r.SetDegraded(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.FeedDegraded))

	r.SetBalance("strict", 1012.5)
	assert.Equal(t, 1012.5, testutil.ToFloat64(r.PortfolioBalance.WithLabelValues("strict")))
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.ScanCompleted(1500 * time.Millisecond)
	r.SetBalance("loose", 990)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "signalbot_scan_duration_seconds_count 1"))
	assert.True(t, strings.Contains(body, `signalbot_portfolio_balance_usd{profile="loose"} 990`))
}

func TestNewRegistry_Isolated(t *testing.T) {
	// Each registry is private, so building two must not panic on duplicate registration.
	assert.NotPanics(t, func() {
		NewRegistry()
		NewRegistry()
	})
}
