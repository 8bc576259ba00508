package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/adapters/logger"
	"cryptoSignalBot/internal/adapters/sqlite"
	"cryptoSignalBot/internal/app"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
	"cryptoSignalBot/internal/replay"
	"cryptoSignalBot/internal/utils"
)

var (
	profilesPath string
	warmup       int
	scanEvery    int
	spreadPct    float64
	depthUSD     float64
	fundingPct   float64
	dbPath       string
	logLevel     string
	sweepRanges  []string
	sweepProfile string
	concurrency  int
)

var rootCmd = &cobra.Command{
	Use:   "replay <candles.csv>",
	Short: "Replay a historical candle file through the scoring and paper trading engine",
	Args:  cobra.ExactArgs(1),
	RunE:  run,
}

func init() {
	def := replay.DefaultConfig()
	rootCmd.Flags().StringVar(&profilesPath, "profiles", "", "Profiles YAML (empty uses the embedded defaults)")
	rootCmd.Flags().IntVar(&warmup, "warmup", def.Warmup, "Base candles consumed before the first scan")
	rootCmd.Flags().IntVar(&scanEvery, "scan-every", def.ScanEvery, "Scan every N base candles")
	rootCmd.Flags().Float64Var(&spreadPct, "spread", def.Conditions.SpreadPct, "Simulated spread in percent")
	rootCmd.Flags().Float64Var(&depthUSD, "depth", def.Conditions.DepthUSD, "Simulated order book depth per side in USD")
	rootCmd.Flags().Float64Var(&fundingPct, "funding", def.Conditions.FundingRatePct, "Simulated funding rate in percent")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "Database for the replay ledger (empty uses a temporary file)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level")
	rootCmd.Flags().StringArrayVar(&sweepRanges, "sweep", nil, "Sweep a profile parameter, name=min:max:step (repeatable)")
	rootCmd.Flags().StringVar(&sweepProfile, "sweep-profile", "", "Profile to tune in a sweep (required with --sweep)")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 4, "Parallel replays in a sweep")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// 1. Initialize Logger
	appLogger := logger.NewStdLogger(logger.ParseLevel(logLevel))

	// 2. Load profiles and candles
	profiles, err := config.LoadProfiles(profilesPath)
	if err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}
	candles, err := utils.ReadCandlesFromCSV(args[0])
	if err != nil {
		return fmt.Errorf("failed to read candles: %w", err)
	}
	appLogger.Info(ctx, "Loaded candles", map[string]interface{}{"file": args[0], "count": len(candles)})

	cfg := replay.DefaultConfig()
	cfg.Warmup = warmup
	cfg.ScanEvery = scanEvery
	cfg.Conditions = replay.MarketConditions{SpreadPct: spreadPct, DepthUSD: depthUSD, FundingRatePct: fundingPct}

	if len(sweepRanges) > 0 {
		return runSweep(cmd, cfg, profiles, candles, appLogger)
	}

	// 3. Initialize a fresh ledger database
	if dbPath == "" {
		dir, err := os.MkdirTemp("", "replay")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		dbPath = filepath.Join(dir, "replay.db")
	}
	repos, closer, err := openRepos(dbPath, appLogger)
	if err != nil {
		return err
	}
	defer closer.Close()

	// 4. Replay
	runner, err := replay.NewRunner(cfg, profiles, candles, repos, appLogger)
	if err != nil {
		return err
	}
	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	// 5. Report
	return printResult(cmd.OutOrStdout(), res)
}

func openRepos(path string, appLogger ports.Logger) (app.Repositories, io.Closer, error) {
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: path, Logger: appLogger})
	if err != nil {
		return app.Repositories{}, nil, fmt.Errorf("failed to initialize database repository: %w", err)
	}
	return app.Repositories{
		Signals:    repo,
		Positions:  repo,
		Trades:     repo,
		Portfolios: repo,
		SetupStats: repo,
	}, repo, nil
}

func runSweep(cmd *cobra.Command, cfg replay.Config, profiles map[string]config.Profile, candles []domain.Candle, appLogger ports.Logger) error {
	base, ok := profiles[sweepProfile]
	if !ok {
		return fmt.Errorf("--sweep-profile must name one of %v", config.ProfileNames(profiles))
	}
	ranges := make([]replay.ParameterRange, 0, len(sweepRanges))
	for _, raw := range sweepRanges {
		r, err := replay.ParseRange(raw)
		if err != nil {
			return err
		}
		ranges = append(ranges, r)
	}

	dir, err := os.MkdirTemp("", "sweep")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	results, err := replay.Sweep(cmd.Context(), replay.SweepConfig{
		Replay:      cfg,
		Ranges:      ranges,
		Concurrency: concurrency,
	}, base, candles, func(run int) (app.Repositories, io.Closer, error) {
		return openRepos(filepath.Join(dir, fmt.Sprintf("run%d.db", run)), appLogger)
	}, appLogger)
	if err != nil {
		return err
	}

	names := make([]string, len(ranges))
	for i, r := range ranges {
		names[i] = r.Name
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tSCORE\tTRADES\tWIN RATE\tPNL\tPF\tMAX DD\n", strings.ToUpper(strings.Join(names, "\t")))
	for _, r := range results {
		for _, name := range names {
			fmt.Fprintf(w, "%g\t", r.Parameters[name])
		}
		perf := r.Result.Performance
		fmt.Fprintf(w, "%.3f\t%d\t%.1f%%\t%.2f\t%.2f\t%.2f%%\n",
			r.Score, perf.TotalTrades, perf.WinRate*100, perf.TotalProfit, perf.ProfitFactor, perf.MaxDrawdown*100)
	}
	return w.Flush()
}

func printResult(out io.Writer, res *replay.Result) error {
	fmt.Fprintf(out, "Replay %s: %d candles, %d scans, %s to %s\n\n",
		res.Symbol, res.Candles, res.Scans, res.Start.Format("2006-01-02 15:04"), res.End.Format("2006-01-02 15:04"))

	names := make([]string, 0, len(res.Profiles))
	for name := range res.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tSIGNALS\tEXECUTED\tREFUSED\tTRADES\tWIN RATE\tPNL\tROI\tPF\tMAX DD\tOPEN")
	for _, name := range names {
		pr := res.Profiles[name]
		perf := pr.Performance
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.1f%%\t%.2f\t%.2f%%\t%.2f\t%.2f%%\t%d\n",
			name, pr.Signals, pr.Executed, pr.Refused, perf.TotalTrades, perf.WinRate*100,
			perf.TotalProfit, perf.ReturnOnInvestment*100, perf.ProfitFactor, perf.MaxDrawdown*100, pr.Open)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, name := range names {
		perf := res.Profiles[name].Performance
		if len(perf.BySetup) == 0 {
			continue
		}
		fmt.Fprintf(out, "\n%s by setup\n", name)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SETUP\tTRADES\tWINS\tLOSSES\tPNL")
		setups := make([]string, 0, len(perf.BySetup))
		for s := range perf.BySetup {
			setups = append(setups, string(s))
		}
		sort.Strings(setups)
		for _, s := range setups {
			b := perf.BySetup[domain.SetupType(s)]
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%.2f\n", s, b.Trades, b.Wins, b.Losses, b.PnL)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}
