package replay

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/analytics"
	"cryptoSignalBot/internal/app"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// ParameterRange defines a range for a profile parameter to sweep.
type ParameterRange struct {
	Name  string
	Min   float64
	Max   float64
	Step  float64
	IsInt bool
}

// SweepResult holds the outcome of one parameter combination.
type SweepResult struct {
	Parameters map[string]float64
	Result     *ProfileResult
	Score      float64
}

// RepoFactory opens an isolated store for one replay run.
type RepoFactory func(run int) (app.Repositories, io.Closer, error)

// SweepConfig holds configuration for a parameter sweep.
type SweepConfig struct {
	Replay        Config
	Ranges        []ParameterRange
	Concurrency   int
	ScoreFunction func(*analytics.PerformanceMetrics) float64
}

// sweepable lists the profile parameters a sweep can vary.
var sweepable = map[string]func(p *config.Profile, v float64){
	"min_score": func(p *config.Profile, v float64) {
		for mode, mc := range p.Modes {
			mc.MinScore = v
			p.Modes[mode] = mc
		}
	},
	"tradeability_min_score": func(p *config.Profile, v float64) { p.Tradeability.MinScore = v },
	"stop_atr":               func(p *config.Profile, v float64) { p.Risk.StopATR = v },
	"trail_atr":              func(p *config.Profile, v float64) { p.Risk.TrailATR = v },
	"risk_pct":               func(p *config.Profile, v float64) { p.Risk.RiskPct = v },
	"max_leverage":           func(p *config.Profile, v float64) { p.Risk.MaxLeverage = int(math.Round(v)) },
	"quick_profit_usd":       func(p *config.Profile, v float64) { p.Monitor.QuickProfitUSD = v },
}

// SweepParameters returns the names accepted in a ParameterRange.
func SweepParameters() []string {
	names := make([]string, 0, len(sweepable))
	for name := range sweepable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseRange parses name=min:max:step, e.g. min_score=55:75:5.
func ParseRange(raw string) (ParameterRange, error) {
	name, spec, ok := strings.Cut(raw, "=")
	if !ok {
		return ParameterRange{}, fmt.Errorf("%w: range %q must be name=min:max:step", ports.ErrInvalidRequest, raw)
	}
	if _, known := sweepable[name]; !known {
		return ParameterRange{}, fmt.Errorf("%w: unknown parameter %q (one of %s)", ports.ErrInvalidRequest, name, strings.Join(SweepParameters(), ", "))
	}
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return ParameterRange{}, fmt.Errorf("%w: range %q must be name=min:max:step", ports.ErrInvalidRequest, raw)
	}
	var vals [3]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return ParameterRange{}, fmt.Errorf("%w: range %q: %v", ports.ErrInvalidRequest, raw, err)
		}
		vals[i] = v
	}
	r := ParameterRange{Name: name, Min: vals[0], Max: vals[1], Step: vals[2], IsInt: name == "max_leverage"}
	if r.Step <= 0 || r.Max < r.Min {
		return ParameterRange{}, fmt.Errorf("%w: range %q needs min <= max and a positive step", ports.ErrInvalidRequest, raw)
	}
	return r, nil
}

// Sweep replays the candles once per parameter combination of the base
// profile and returns the results sorted by score, best first. Combinations
// that produce an invalid profile are skipped.
func Sweep(ctx context.Context, cfg SweepConfig, base config.Profile, candles []domain.Candle, repos RepoFactory, logger ports.Logger) ([]SweepResult, error) {
	op := "Sweep"
	if logger == nil || repos == nil {
		return nil, fmt.Errorf("%w: logger and repository factory are required", ports.ErrConfigurationError)
	}
	for _, r := range cfg.Ranges {
		if _, ok := sweepable[r.Name]; !ok {
			return nil, fmt.Errorf("%w: unknown parameter %q", ports.ErrInvalidRequest, r.Name)
		}
	}
	if cfg.ScoreFunction == nil {
		cfg.ScoreFunction = DefaultScoreFunction
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	combinations := generateCombinations(cfg.Ranges)
	logger.Info(ctx, op+": Sweep started", map[string]interface{}{
		"profile":      base.Name,
		"combinations": len(combinations),
	})

	var (
		mu      sync.Mutex
		results = make([]SweepResult, 0, len(combinations))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for i, params := range combinations {
		i, params := i, params
		g.Go(func() error {
			profile := withParameters(base, params)
			if problems := profile.Validate(); len(problems) > 0 {
				logger.Warn(gctx, op+": Combination skipped", map[string]interface{}{
					"parameters": params,
					"problems":   strings.Join(problems, "; "),
				})
				return nil
			}
			res, err := runOne(gctx, i, cfg.Replay, profile, candles, repos, logger)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, SweepResult{
				Parameters: params,
				Result:     res,
				Score:      cfg.ScoreFunction(res.Performance),
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

func runOne(ctx context.Context, run int, cfg Config, profile config.Profile, candles []domain.Candle, repos RepoFactory, logger ports.Logger) (*ProfileResult, error) {
	store, closer, err := repos(run)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	runner, err := NewRunner(cfg, map[string]config.Profile{profile.Name: profile}, candles, store, logger)
	if err != nil {
		return nil, err
	}
	res, err := runner.Run(ctx)
	if err != nil {
		return nil, err
	}
	return res.Profiles[profile.Name], nil
}

// generateCombinations expands the ranges into every parameter combination.
func generateCombinations(ranges []ParameterRange) []map[string]float64 {
	var combinations []map[string]float64
	current := make(map[string]float64)

	var generate func(int)
	generate = func(idx int) {
		if idx == len(ranges) {
			combination := make(map[string]float64, len(current))
			for k, v := range current {
				combination[k] = v
			}
			combinations = append(combinations, combination)
			return
		}
		r := ranges[idx]
		for n := 0; ; n++ {
			value := r.Min + float64(n)*r.Step
			if value > r.Max+r.Step/2 {
				break
			}
			if r.IsInt {
				value = math.Round(value)
			}
			current[r.Name] = value
			generate(idx + 1)
		}
	}
	generate(0)
	return combinations
}

// withParameters returns a copy of base with params applied. Modes is copied
// so the base profile stays untouched.
func withParameters(base config.Profile, params map[string]float64) config.Profile {
	p := base
	p.Modes = make(map[domain.Mode]config.ModeConfig, len(base.Modes))
	for mode, mc := range base.Modes {
		p.Modes[mode] = mc
	}
	p.Risk.TPATR = append([]float64(nil), base.Risk.TPATR...)
	for name, v := range params {
		sweepable[name](&p, v)
	}
	return p
}

// DefaultScoreFunction combines win rate, profit factor, drawdown and return.
func DefaultScoreFunction(metrics *analytics.PerformanceMetrics) float64 {
	if metrics == nil || metrics.TotalTrades == 0 {
		return 0
	}
	pf := metrics.ProfitFactor
	if math.IsInf(pf, 0) || pf > 10 {
		pf = 10
	}
	score := 0.0
	score += metrics.WinRate * 0.3
	score += pf * 0.2
	score += (1 - metrics.MaxDrawdown) * 0.2
	score += metrics.ReturnOnInvestment * 0.2
	score += metrics.RiskRewardRatio * 0.1
	return score
}
