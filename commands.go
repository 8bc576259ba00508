package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cryptoSignalBot/internal/adapters/logger"
	"cryptoSignalBot/internal/adapters/redisstore"
	"cryptoSignalBot/internal/analytics"
	"cryptoSignalBot/internal/app"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

var (
	evalProfile string
	evalExecute bool
	evalMargin  float64
	resetAll    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan symbols and monitor paper positions until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		// Last-price cache: redis when configured, memory otherwise
		var cache ports.PriceCache = redisstore.NewMemoryCache()
		if rt.cfg.RedisURL != "" {
			rc, err := redisstore.NewPriceCache(ctx, redisstore.Config{
				URL:    rt.cfg.RedisURL,
				TTL:    rt.cfg.MaxTickAge,
				Logger: logger.WithComponent(rt.logger, "redis"),
			})
			if err != nil {
				return fmt.Errorf("failed to initialize redis price cache: %w", err)
			}
			defer rc.Close()
			cache = rc
		}

		service, err := app.NewSignalService(app.ServiceConfig{
			Symbols:            rt.cfg.Symbols,
			ScanInterval:       rt.cfg.ScanInterval,
			ScanConcurrency:    rt.cfg.ScanConcurrency,
			PollInterval:       rt.cfg.PollInterval,
			ReconnectDelay:     rt.cfg.ReconnectDelay,
			MaxReconnectDelay:  maxReconnectDelay(rt.cfg.ReconnectDelay, rt.cfg.MaxReconnectAttempts),
			LearnerReloadEvery: rt.cfg.LearnerReloadEvery,
			MetricsAddr:        rt.cfg.MetricsAddr,
		}, rt.engine, rt.learner, rt.feed, cache, rt.metrics, rt.metrics.Handler(), rt.logger)
		if err != nil {
			return fmt.Errorf("failed to create signal service: %w", err)
		}
		if err := service.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <symbol>",
	Short: "Score one symbol for every profile (or one) and print the signals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := restore(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		symbol := strings.ToUpper(args[0])
		profiles := rt.profiles
		if evalProfile != "" {
			profiles = []string{evalProfile}
		}
		w := newTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "PROFILE\tMODE\tSETUP\tDIR\tSCORE\tENTRY\tSL\tTP1\tTP2\tTP3\tLEV\tSTATUS")
		for _, name := range profiles {
			sig, err := rt.engine.Evaluate(ctx, symbol, name)
			if err != nil {
				return fmt.Errorf("evaluate %s for %s: %w", symbol, name, err)
			}
			if sig == nil {
				fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\t-\t-\t-\t-\t-\tno signal\n", name)
				continue
			}
			status := string(sig.Status)
			if evalExecute {
				if _, err := rt.engine.Execute(ctx, sig.ID, evalMargin); err != nil {
					status = "refused: " + err.Error()
				} else {
					status = "executed"
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f\t%s\t%s\t%s\t%s\t%s\t%dx\t%s\n",
				name, sig.Mode, sig.SetupType, sig.Direction, sig.Score,
				price(sig.EntryPrice), price(sig.StopLoss), price(sig.TP1), price(sig.TP2), price(sig.TP3),
				sig.Leverage, status)
		}
		return w.Flush()
	},
}

var portfolioCmd = &cobra.Command{
	Use:   "portfolio [profile]",
	Short: "Show the paper ledger, open positions and performance of the profiles",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := restore(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		profiles := rt.profiles
		if len(args) == 1 {
			profiles = args
		}
		out := cmd.OutOrStdout()
		for _, name := range profiles {
			if err := printPortfolio(ctx, out, rt.engine, name); err != nil {
				return err
			}
		}
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset [profile]",
	Short: "Close open positions, clear trades and restore the initial balance",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !resetAll {
			return errors.New("name a profile or pass --all")
		}
		ctx := cmd.Context()
		rt, err := restore(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		profiles := rt.profiles
		if len(args) == 1 {
			profiles = args
		}
		for _, name := range profiles {
			if err := rt.engine.ResetPortfolio(ctx, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: portfolio reset\n", name)
		}
		return nil
	},
}

var setupsCmd = &cobra.Command{
	Use:   "setups",
	Short: "List learned setup statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := restore(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		stats := rt.engine.SetupStats()
		sort.Slice(stats, func(i, j int) bool { return stats[i].Key().String() < stats[j].Key().String() })
		w := newTable(cmd.OutOrStdout())
		fmt.Fprintln(w, "SETUP\tSYMBOL\tMODE\tWINS\tLOSSES\tWIN RATE\tSTATE")
		for _, s := range stats {
			state := "enabled"
			if s.Disabled {
				state = "disabled"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.1f%%\t%s\n", s.SetupType, s.Symbol, s.Mode, s.Wins, s.Losses, s.WinRate()*100, state)
		}
		return w.Flush()
	},
}

var setupsResetCmd = &cobra.Command{
	Use:   "reset <setup> <symbol> <mode>",
	Short: "Clear the statistics of one setup combination and re-enable it",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := domain.SetupKey{
			SetupType: domain.SetupType(strings.ToLower(args[0])),
			Symbol:    strings.ToUpper(args[1]),
			Mode:      domain.Mode(strings.ToLower(args[2])),
		}
		if key.SetupType.Rank() == len(domain.SetupPriority) {
			return fmt.Errorf("unknown setup %q", args[0])
		}
		if key.Mode != domain.ModeScalp && key.Mode != domain.ModeSwing {
			return fmt.Errorf("unknown mode %q", args[2])
		}
		ctx := cmd.Context()
		rt, err := restore(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.engine.ResetSetup(ctx, key); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: statistics cleared\n", key)
		return nil
	},
}

var adaptiveCmd = &cobra.Command{
	Use:   "adaptive [profile]",
	Short: "Show adaptive score modifiers, edge-decay alerts and score calibration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := restore(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		profiles := rt.profiles
		if len(args) == 1 {
			profiles = args
		}
		out := cmd.OutOrStdout()
		for _, name := range profiles {
			b, err := rt.engine.Bundle(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "== %s ==\n", name)
			w := newTable(out)
			fmt.Fprintln(w, "DIMENSION\tVALUE\tTRADES\tWR 7D\tWR 30D\tWR ALL\tAVG PNL\tMODIFIER")
			for _, wt := range b.Adaptive.Weights() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%.1f%%\t%.1f%%\t%.1f%%\t%.2f\t%+.0f\n",
					wt.Dimension, wt.Value, wt.Samples, wt.WinRateShort, wt.WinRateLong, wt.WinRateAll, wt.AvgPnL, wt.Modifier)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if alerts := b.Adaptive.DecayAlerts(); len(alerts) > 0 {
				fmt.Fprintln(out, "\nEdge decay:")
				w = newTable(out)
				for _, a := range alerts {
					fmt.Fprintf(w, "%s\t%s\t%.1f%% -> %.1f%%\t-%.1f\n", a.Dimension, a.Value, a.WinRateLong, a.WinRateShort, a.Drop)
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}

			fmt.Fprintln(out, "\nScore calibration:")
			w = newTable(out)
			for _, c := range b.Adaptive.Calibration() {
				fmt.Fprintf(w, "%s\t%d trades\t%.1f%%\n", c.Value, c.Samples, c.WinRateAll)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

func init() {
	evaluateCmd.Flags().StringVarP(&evalProfile, "profile", "p", "", "Evaluate a single profile")
	evaluateCmd.Flags().BoolVar(&evalExecute, "execute", false, "Open a paper position for every signal")
	evaluateCmd.Flags().Float64Var(&evalMargin, "margin", 0, "Margin per position (0 uses the profile default)")
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "Reset every profile")

	setupsCmd.AddCommand(setupsResetCmd)
	rootCmd.AddCommand(runCmd, evaluateCmd, portfolioCmd, resetCmd, setupsCmd, adaptiveCmd)
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

func price(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.6g", v)
}

func printPortfolio(ctx context.Context, out io.Writer, engine *app.Engine, name string) error {
	p, err := engine.Portfolio(name)
	if err != nil {
		return err
	}
	open, err := engine.OpenPositions(name)
	if err != nil {
		return err
	}
	trades, err := engine.Trades(ctx, name)
	if err != nil {
		return err
	}
	perf := analytics.AnalyzePerformance(trades, p.InitialBalance)

	fmt.Fprintf(out, "== %s ==\n", name)
	w := newTable(out)
	fmt.Fprintf(w, "Balance\t%.2f (initial %.2f, reserved %.2f, available %.2f)\n", p.CurrentBalance, p.InitialBalance, p.ReservedMargin, p.Available())
	fmt.Fprintf(w, "Realized PnL\t%.2f\n", p.TotalPnL)
	fmt.Fprintf(w, "Wins / Losses\t%d / %d (win rate %.1f%%)\n", p.Wins, p.Losses, p.WinRate()*100)
	fmt.Fprintf(w, "Profit factor\t%.2f\n", perf.ProfitFactor)
	fmt.Fprintf(w, "Max drawdown\t%.2f%%\n", perf.MaxDrawdown*100)
	fmt.Fprintf(w, "Expectancy\t%.2f\n", perf.Expectancy)
	if err := w.Flush(); err != nil {
		return err
	}

	if len(open) > 0 {
		fmt.Fprintln(out)
		w = newTable(out)
		fmt.Fprintln(w, "SYMBOL\tMODE\tSETUP\tDIR\tSTATE\tENTRY\tSTOP\tREMAINING\tMARGIN\tREALIZED")
		for _, pos := range open {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%.6g\t%.2f\t%.2f\n",
				pos.Symbol, pos.Mode, pos.SetupType, pos.Direction, pos.State,
				price(pos.EntryPrice), price(pos.StopLoss), pos.RemainingQty, pos.MarginRequired, pos.RealizedPnL)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(perf.BySetup) > 0 {
		fmt.Fprintln(out)
		w = newTable(out)
		fmt.Fprintln(w, "SETUP\tTRADES\tWIN RATE\tPNL")
		setups := make([]string, 0, len(perf.BySetup))
		for s := range perf.BySetup {
			setups = append(setups, string(s))
		}
		sort.Strings(setups)
		for _, s := range setups {
			b := perf.BySetup[domain.SetupType(s)]
			fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.2f\n", s, b.Trades, b.WinRate()*100, b.PnL)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	fmt.Fprintln(out)
	return nil
}
