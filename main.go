package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/adapters/binanceclient"
	"cryptoSignalBot/internal/adapters/feargreed"
	"cryptoSignalBot/internal/adapters/logger"
	"cryptoSignalBot/internal/adapters/metrics"
	"cryptoSignalBot/internal/adapters/sqlite"
	"cryptoSignalBot/internal/app"
	"cryptoSignalBot/internal/learner"
	"cryptoSignalBot/internal/ports"
	"cryptoSignalBot/internal/scoring"
)

var rootCmd = &cobra.Command{
	Use:   "signalbot",
	Short: "Multi-profile crypto futures signal scanner with paper trading",
	Long: `signalbot scans USDT-M futures symbols, scores setups per profile,
and tracks simulated positions on an isolated paper ledger for each profile.

Settings come from the environment (.env supported); profile thresholds come
from PROFILES_PATH or the embedded defaults.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runtime holds the wired components shared by the commands.
type runtime struct {
	cfg      *config.Config
	logger   ports.Logger
	repo     *sqlite.Repository
	feed     *binanceclient.Client
	learner  *learner.Learner
	metrics  *metrics.Registry
	engine   *app.Engine
	profiles []string
}

func (r *runtime) Close() {
	if err := r.repo.Close(); err != nil {
		r.logger.Error(context.Background(), err, "Error closing database repository")
	}
}

// bootstrap wires configuration, storage, market data and the engine. State is
// not restored here; the service restores it on Start and one-shot commands
// call restore.
func bootstrap(ctx context.Context) (*runtime, error) {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Initialize Logger
	appLogger := logger.New(cfg.LogFormat, cfg.LogLevel)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": cfg.LogFormat})

	// 3. Load Profiles
	profiles, err := config.LoadProfiles(cfg.ProfilesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	appLogger.Info(ctx, "Profiles loaded", map[string]interface{}{"profiles": config.ProfileNames(profiles)})

	// 4. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: logger.WithComponent(appLogger, "sqlite"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database repository: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: appLogger, repo: repo}

	// 5. Initialize Market Data (Binance Adapter)
	rt.feed, err = binanceclient.New(binanceclient.Config{
		APIKey:       cfg.APIKey,
		SecretKey:    cfg.SecretKey,
		UseTestnet:   cfg.IsTestnet,
		Logger:       logger.WithComponent(appLogger, "binance"),
		RateLimitRPS: cfg.RateLimitRPS,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize Binance client: %w", err)
	}

	// 6. Initialize Sentiment and Learner
	sentimentSource, err := feargreed.New(cfg.SentimentURL, logger.WithComponent(appLogger, "sentiment"))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize sentiment source: %w", err)
	}
	sentiment := scoring.NewSentimentEvaluator(sentimentSource, appLogger, cfg.SentimentCacheTTL)
	rt.learner = learner.New(learner.Config{
		MinSamples: cfg.LearnerMinSamples,
		Floor:      cfg.LearnerFloor,
		Reenable:   cfg.LearnerReenable,
	}, repo, appLogger)

	// 7. Initialize Engine
	rt.metrics = metrics.NewRegistry()
	rt.engine, err = app.NewEngine(app.EngineConfig{
		SignalTTL:  cfg.SignalTTL,
		MaxTickAge: cfg.MaxTickAge,
	}, profiles, rt.feed, sentiment, rt.learner, app.Repositories{
		Signals:    repo,
		Positions:  repo,
		Trades:     repo,
		Portfolios: repo,
		SetupStats: repo,
	}, rt.metrics, appLogger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	rt.profiles = rt.engine.Profiles()
	return rt, nil
}

// restore bootstraps and loads persisted ledgers, positions and learner stats.
func restore(ctx context.Context) (*runtime, error) {
	rt, err := bootstrap(ctx)
	if err != nil {
		return nil, err
	}
	if err := rt.engine.Recover(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to restore state: %w", err)
	}
	return rt, nil
}

// maxReconnectDelay caps stream reconnect backoff at 2^attempts base delays.
func maxReconnectDelay(base time.Duration, attempts int) time.Duration {
	if attempts > 6 {
		attempts = 6
	}
	if attempts < 0 {
		attempts = 0
	}
	return base * time.Duration(1<<attempts)
}
