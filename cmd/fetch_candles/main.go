package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/adapters/binanceclient"
	"cryptoSignalBot/internal/adapters/logger"
	"cryptoSignalBot/internal/utils"
)

var (
	symbol   string
	interval string
	days     int
	outDir   string
)

var rootCmd = &cobra.Command{
	Use:   "fetch_candles",
	Short: "Download historical futures candles into a CSV file for replays",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&symbol, "symbol", "s", "BTCUSDT", "Futures symbol")
	rootCmd.Flags().StringVarP(&interval, "interval", "i", "5m", "Candle interval")
	rootCmd.Flags().IntVarP(&days, "days", "d", 90, "Days of history up to now")
	rootCmd.Flags().StringVarP(&outDir, "out", "o", "data", "Output directory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Exchange Client (Binance Adapter)
	client, err := binanceclient.New(binanceclient.Config{
		APIKey:       cfg.APIKey,
		SecretKey:    cfg.SecretKey,
		UseTestnet:   cfg.IsTestnet,
		Logger:       appLogger,
		RateLimitRPS: cfg.RateLimitRPS,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Binance client: %w", err)
	}

	// 4. Fetch and store
	sym := strings.ToUpper(symbol)
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)
	appLogger.Info(ctx, "Fetching candles", map[string]interface{}{
		"symbol":   sym,
		"interval": interval,
		"start":    start,
		"end":      end,
	})
	candles, err := client.GetCandlesRange(ctx, sym, interval, start, end)
	if err != nil {
		return fmt.Errorf("error fetching candles: %w", err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	filename := filepath.Join(outDir, fmt.Sprintf("%s_%s_%s_to_%s.csv", sym, interval, start.Format("20060102"), end.Format("20060102")))
	if err := utils.WriteCandlesToCSV(candles, filename); err != nil {
		return fmt.Errorf("error writing CSV: %w", err)
	}
	appLogger.Info(ctx, "Saved candles", map[string]interface{}{"filename": filename, "count": len(candles)})
	return nil
}
