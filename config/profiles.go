package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

//go:embed default_profiles.yaml
var defaultProfilesYAML []byte

// Profile is a named set of thresholds applied to the shared pipeline.
type Profile struct {
	Name             string  `yaml:"name"`
	InitialBalance   float64 `yaml:"initial_balance"`
	DefaultMargin    float64 `yaml:"default_margin"`
	MaxOpenPositions int     `yaml:"max_open_positions"`
	AutoExecute      bool    `yaml:"auto_execute"`
	RegimeAdjust     bool    `yaml:"regime_adjust"`
	AdaptiveAdjust   bool    `yaml:"adaptive_adjust"`

	Tradeability TradeabilityConfig         `yaml:"tradeability"`
	Direction    DirectionConfig            `yaml:"direction"`
	Entry        EntryConfig                `yaml:"entry"`
	Risk         RiskConfig                 `yaml:"risk"`
	Monitor      MonitorConfig              `yaml:"monitor"`
	Correlation  CorrelationConfig          `yaml:"correlation"`
	Gate         GateConfig                 `yaml:"gate"`
	Modes        map[domain.Mode]ModeConfig `yaml:"modes"`
}

// ModeConfig holds the per-horizon settings of a profile.
type ModeConfig struct {
	Enabled        bool               `yaml:"enabled"`
	EntryTimeframe string             `yaml:"entry_timeframe"`
	TrendTimeframe string             `yaml:"trend_timeframe"`
	CandleLimit    int                `yaml:"candle_limit"`
	MinScore       float64            `yaml:"min_score"`
	SpreadMaxPct   float64            `yaml:"spread_max_pct"`
	Setups         []domain.SetupType `yaml:"setups"`
}

// AllowsSetup reports whether the setup may trigger in this mode.
func (m ModeConfig) AllowsSetup(s domain.SetupType) bool {
	for _, allowed := range m.Setups {
		if allowed == s {
			return true
		}
	}
	return false
}

// TradeabilityWeights are the per-check weights of Layer A, summing to 1.
type TradeabilityWeights struct {
	Volatility   float64 `yaml:"volatility"`
	Volume       float64 `yaml:"volume"`
	Spread       float64 `yaml:"spread"`
	Depth        float64 `yaml:"depth"`
	Funding      float64 `yaml:"funding"`
	OpenInterest float64 `yaml:"open_interest"`
}

// Sum returns the total of all weights.
func (w TradeabilityWeights) Sum() float64 {
	return w.Volatility + w.Volume + w.Spread + w.Depth + w.Funding + w.OpenInterest
}

// TradeabilityConfig holds Layer A thresholds.
type TradeabilityConfig struct {
	MinScore       float64             `yaml:"min_score"` // 0-1
	ATRMinRatio    float64             `yaml:"atr_min_ratio"`
	ATRMaxRatio    float64             `yaml:"atr_max_ratio"`
	ATRKillRatio   float64             `yaml:"atr_kill_ratio"`
	VolumeMinRatio float64             `yaml:"volume_min_ratio"`
	SpreadKillPct  float64             `yaml:"spread_kill_pct"`
	MinDepthUSD    float64             `yaml:"min_depth_usd"`
	FundingMaxPct  float64             `yaml:"funding_max_pct"`
	FundingKillPct float64             `yaml:"funding_kill_pct"`
	OIMaxDropPct   float64             `yaml:"oi_max_drop_pct"`
	OIKillDropPct  float64             `yaml:"oi_kill_drop_pct"`
	Weights        TradeabilityWeights `yaml:"weights"`
}

// DirectionConfig holds Layer B thresholds.
type DirectionConfig struct {
	EMANeutralPct     float64 `yaml:"ema_neutral_pct"`
	RSILong           float64 `yaml:"rsi_long"`
	RSIShort          float64 `yaml:"rsi_short"`
	StructureLookback int     `yaml:"structure_lookback"`
}

// EntryConfig holds Layer C thresholds.
type EntryConfig struct {
	BBSqueezePct       float64 `yaml:"bb_squeeze_pct"`
	VolumeSpike        float64 `yaml:"volume_spike"`
	RetestBufferPct    float64 `yaml:"retest_buffer_pct"`
	RejectionWickRatio float64 `yaml:"rejection_wick_ratio"`
	EMAProximityPct    float64 `yaml:"ema_proximity_pct"`
	DivergenceLookback int     `yaml:"divergence_lookback"`
}

// RiskConfig holds stop, target and sizing parameters.
type RiskConfig struct {
	StopATR     float64   `yaml:"stop_atr"`
	TPATR       []float64 `yaml:"tp_atr"`
	RiskPct     float64   `yaml:"risk_pct"`
	MaxStopPct  float64   `yaml:"max_stop_pct"`
	MinLeverage int       `yaml:"min_leverage"`
	MaxLeverage int       `yaml:"max_leverage"`
	TrailATR    float64   `yaml:"trail_atr"`
}

// MonitorConfig holds position lifecycle parameters.
type MonitorConfig struct {
	TP1ClosePct    float64 `yaml:"tp1_close_pct"`
	TP2ClosePct    float64 `yaml:"tp2_close_pct"`
	QuickProfitUSD float64 `yaml:"quick_profit_usd"` // 0 disables
}

// CorrelationConfig groups symbols that tend to move together.
type CorrelationConfig struct {
	MaxSameDirection int                 `yaml:"max_same_direction"`
	Clusters         map[string][]string `yaml:"clusters"`
}

// GateConfig holds flip and duplicate suppression windows.
type GateConfig struct {
	FlipWindow      time.Duration `yaml:"flip_window"`
	DuplicateWindow time.Duration `yaml:"duplicate_window"`
	DuplicatePct    float64       `yaml:"duplicate_pct"`
}

type profilesFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadProfiles reads profiles from a YAML file, or the built-in defaults when path is empty.
// Any invalid profile rejects the whole file.
func LoadProfiles(path string) (map[string]Profile, error) {
	data := defaultProfilesYAML
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read profiles %s: %v", ports.ErrConfigurationError, path, err)
		}
		data = raw
	}
	return ParseProfiles(data)
}

// ParseProfiles decodes and validates a profiles document. Unknown keys are rejected.
func ParseProfiles(data []byte) (map[string]Profile, error) {
	var file profilesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: decode profiles: %v", ports.ErrConfigurationError, err)
	}
	if len(file.Profiles) == 0 {
		return nil, fmt.Errorf("%w: no profiles defined", ports.ErrConfigurationError)
	}

	var errs []string
	profiles := make(map[string]Profile, len(file.Profiles))
	for i := range file.Profiles {
		p := file.Profiles[i]
		p.applyDefaults()
		if _, dup := profiles[p.Name]; dup {
			errs = append(errs, fmt.Sprintf("duplicate profile %q", p.Name))
			continue
		}
		errs = append(errs, p.Validate()...)
		profiles[p.Name] = p
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: profile validation failed: %s", ports.ErrConfigurationError, strings.Join(errs, "; "))
	}
	return profiles, nil
}

// ProfileNames returns the sorted profile names.
func ProfileNames(profiles map[string]Profile) []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Profile) applyDefaults() {
	if p.MaxOpenPositions == 0 {
		p.MaxOpenPositions = 5
	}
	if p.Monitor.TP1ClosePct == 0 {
		p.Monitor.TP1ClosePct = 40
	}
	if p.Monitor.TP2ClosePct == 0 {
		p.Monitor.TP2ClosePct = 30
	}
	if p.Correlation.MaxSameDirection == 0 {
		p.Correlation.MaxSameDirection = 3
	}
	if p.Gate.FlipWindow == 0 {
		p.Gate.FlipWindow = 5 * time.Minute
	}
	if p.Gate.DuplicateWindow == 0 {
		p.Gate.DuplicateWindow = 5 * time.Minute
	}
	if p.Gate.DuplicatePct == 0 {
		p.Gate.DuplicatePct = 0.2
	}
	if p.Direction.StructureLookback == 0 {
		p.Direction.StructureLookback = 50
	}
	if p.Entry.DivergenceLookback == 0 {
		p.Entry.DivergenceLookback = 20
	}
	for mode, mc := range p.Modes {
		if mc.CandleLimit == 0 {
			mc.CandleLimit = 150
			p.Modes[mode] = mc
		}
	}
}

// Validate returns every problem found in the profile.
func (p Profile) Validate() []string {
	var errs []string
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf("%s: ", p.Name)+fmt.Sprintf(format, args...))
	}

	if p.Name == "" {
		errs = append(errs, "profile name must be set")
	}
	if p.InitialBalance <= 0 {
		add("initial_balance must be positive")
	}
	if p.DefaultMargin <= 0 || p.DefaultMargin > p.InitialBalance {
		add("default_margin must be positive and not exceed initial_balance")
	}
	if p.MaxOpenPositions < 0 {
		add("max_open_positions cannot be negative")
	}

	t := p.Tradeability
	if t.MinScore < 0 || t.MinScore > 1 {
		add("tradeability.min_score must be within [0,1]")
	}
	if t.ATRMinRatio <= 0 || t.ATRMinRatio >= t.ATRMaxRatio {
		add("tradeability.atr_min_ratio must be positive and below atr_max_ratio")
	}
	if t.ATRKillRatio < t.ATRMaxRatio {
		add("tradeability.atr_kill_ratio must be at least atr_max_ratio")
	}
	if t.VolumeMinRatio < 0 || t.VolumeMinRatio >= 2 {
		add("tradeability.volume_min_ratio must be within [0,2)")
	}
	if t.SpreadKillPct <= 0 {
		add("tradeability.spread_kill_pct must be positive")
	}
	if t.MinDepthUSD <= 0 {
		add("tradeability.min_depth_usd must be positive")
	}
	if t.FundingMaxPct <= 0 || t.FundingMaxPct > t.FundingKillPct {
		add("tradeability.funding_max_pct must be positive and not exceed funding_kill_pct")
	}
	if t.OIMaxDropPct <= 0 || t.OIMaxDropPct > t.OIKillDropPct {
		add("tradeability.oi_max_drop_pct must be positive and not exceed oi_kill_drop_pct")
	}
	if math.Abs(t.Weights.Sum()-1) > 1e-6 {
		add("tradeability.weights must sum to 1 (got %.4f)", t.Weights.Sum())
	}

	d := p.Direction
	if d.EMANeutralPct < 0 {
		add("direction.ema_neutral_pct cannot be negative")
	}
	if d.RSIShort <= 0 || d.RSIShort >= d.RSILong || d.RSILong >= 100 {
		add("direction RSI thresholds must satisfy 0 < rsi_short < rsi_long < 100")
	}

	e := p.Entry
	if e.BBSqueezePct <= 0 || e.VolumeSpike <= 0 || e.RetestBufferPct <= 0 || e.RejectionWickRatio <= 0 || e.EMAProximityPct <= 0 {
		add("entry thresholds must be positive")
	}
	if e.DivergenceLookback < 4 {
		add("entry.divergence_lookback must be at least 4")
	}

	r := p.Risk
	if r.StopATR <= 0 {
		add("risk.stop_atr must be positive")
	}
	if len(r.TPATR) != 3 {
		add("risk.tp_atr must have exactly 3 multipliers")
	} else if r.TPATR[0] <= 0 || r.TPATR[0] >= r.TPATR[1] || r.TPATR[1] >= r.TPATR[2] {
		add("risk.tp_atr multipliers must be positive and strictly increasing")
	}
	if r.RiskPct <= 0 || r.RiskPct > 100 {
		add("risk.risk_pct must be within (0,100]")
	}
	if r.MaxStopPct <= 0 || r.MaxStopPct > 100 {
		add("risk.max_stop_pct must be within (0,100]")
	}
	if r.MinLeverage <= 0 || r.MinLeverage > r.MaxLeverage {
		add("risk leverage bounds must satisfy 0 < min_leverage <= max_leverage")
	}
	if r.TrailATR <= 0 {
		add("risk.trail_atr must be positive")
	}

	m := p.Monitor
	if m.TP1ClosePct <= 0 || m.TP1ClosePct > 100 || m.TP2ClosePct <= 0 || m.TP2ClosePct > 100 {
		add("monitor close percentages must be within (0,100]")
	}
	if m.TP1ClosePct+m.TP2ClosePct > 100 {
		add("monitor.tp1_close_pct + tp2_close_pct cannot exceed 100")
	}
	if m.QuickProfitUSD < 0 {
		add("monitor.quick_profit_usd cannot be negative")
	}

	if p.Gate.DuplicatePct < 0 {
		add("gate.duplicate_pct cannot be negative")
	}

	if len(p.Modes) == 0 {
		add("at least one mode must be configured")
	}
	for mode, mc := range p.Modes {
		if mode != domain.ModeScalp && mode != domain.ModeSwing {
			add("unknown mode %q", mode)
			continue
		}
		if !mc.Enabled {
			continue
		}
		if mc.EntryTimeframe == "" || mc.TrendTimeframe == "" {
			add("modes.%s timeframes must be set", mode)
		}
		if mc.MinScore < 0 || mc.MinScore > 100 {
			add("modes.%s.min_score must be within [0,100]", mode)
		}
		if mc.SpreadMaxPct <= 0 || mc.SpreadMaxPct > t.SpreadKillPct {
			add("modes.%s.spread_max_pct must be positive and not exceed spread_kill_pct", mode)
		}
		if mc.CandleLimit < 60 {
			add("modes.%s.candle_limit must be at least 60", mode)
		}
		if len(mc.Setups) == 0 {
			add("modes.%s must allow at least one setup", mode)
		}
		for _, s := range mc.Setups {
			if s.Rank() == len(domain.SetupPriority) {
				add("modes.%s: unknown setup %q", mode, s)
			}
		}
	}
	return errs
}

// EnabledModes returns the enabled modes in a stable order.
func (p Profile) EnabledModes() []domain.Mode {
	var modes []domain.Mode
	for _, m := range []domain.Mode{domain.ModeScalp, domain.ModeSwing} {
		if mc, ok := p.Modes[m]; ok && mc.Enabled {
			modes = append(modes, m)
		}
	}
	return modes
}
