package metrics

import (
	"net/http"
	"time"

	"cryptoSignalBot/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry implements ports.Metrics on a private Prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	ScanDuration     prometheus.Histogram
	ScansSkipped     prometheus.Counter
	EvalFailures     *prometheus.CounterVec
	SignalsEmitted   *prometheus.CounterVec
	SignalsRejected  *prometheus.CounterVec
	PositionsOpened  *prometheus.CounterVec
	PositionsClosed  *prometheus.CounterVec
	RealizedPnL      *prometheus.CounterVec
	FeedDegraded     prometheus.Gauge
	PortfolioBalance *prometheus.GaugeVec
}

// NewRegistry creates and registers every signal bot metric.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalbot_scan_duration_seconds",
			Help:    "Duration of a full scan cycle over every symbol and profile",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		ScansSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalbot_scans_skipped_total",
			Help: "Scan ticks skipped because the previous cycle was still running",
		}),
		EvalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_evaluation_failures_total",
			Help: "Evaluations that failed with an error, by profile",
		}, []string{"profile"}),
		SignalsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_signals_emitted_total",
			Help: "Signals emitted by profile and setup",
		}, []string{"profile", "setup"}),
		SignalsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_signals_rejected_total",
			Help: "Candidate signals rejected by profile and reason",
		}, []string{"profile", "reason"}),
		PositionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_positions_opened_total",
			Help: "Paper positions opened by profile",
		}, []string{"profile"}),
		PositionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_positions_closed_total",
			Help: "Paper positions closed by profile and outcome",
		}, []string{"profile", "outcome"}),
		RealizedPnL: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalbot_realized_pnl_usd_total",
			Help: "Absolute realized PnL of closed positions by profile and sign",
		}, []string{"profile", "sign"}),
		FeedDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalbot_feed_degraded",
			Help: "1 while prices come from polling instead of the stream",
		}),
		PortfolioBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalbot_portfolio_balance_usd",
			Help: "Current paper balance by profile",
		}, []string{"profile"}),
	}

	r.registry.MustRegister(
		r.ScanDuration,
		r.ScansSkipped,
		r.EvalFailures,
		r.SignalsEmitted,
		r.SignalsRejected,
		r.PositionsOpened,
		r.PositionsClosed,
		r.RealizedPnL,
		r.FeedDegraded,
		r.PortfolioBalance,
	)
	return r
}

// Handler exposes the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Registry) ScanCompleted(duration time.Duration) {
	r.ScanDuration.Observe(duration.Seconds())
}

func (r *Registry) ScanSkipped() {
	r.ScansSkipped.Inc()
}

func (r *Registry) EvaluationFailed(profile string) {
	r.EvalFailures.WithLabelValues(profile).Inc()
}

func (r *Registry) SignalEmitted(profile string, setup domain.SetupType) {
	r.SignalsEmitted.WithLabelValues(profile, string(setup)).Inc()
}

func (r *Registry) SignalRejected(profile string, reason domain.ReasonCode) {
	r.SignalsRejected.WithLabelValues(profile, string(reason)).Inc()
}

func (r *Registry) PositionOpened(profile string) {
	r.PositionsOpened.WithLabelValues(profile).Inc()
}

// PositionClosed counts the close; counters are monotonic so gains and losses
// are tracked separately.
func (r *Registry) PositionClosed(profile string, outcome domain.Outcome, pnl float64) {
	r.PositionsClosed.WithLabelValues(profile, string(outcome)).Inc()
	switch {
	case pnl > 0:
		r.RealizedPnL.WithLabelValues(profile, "gain").Add(pnl)
	case pnl < 0:
		r.RealizedPnL.WithLabelValues(profile, "loss").Add(-pnl)
	}
}

func (r *Registry) SetDegraded(degraded bool) {
	if degraded {
		r.FeedDegraded.Set(1)
		return
	}
	r.FeedDegraded.Set(0)
}

func (r *Registry) SetBalance(profile string, balance float64) {
	r.PortfolioBalance.WithLabelValues(profile).Set(balance)
}
