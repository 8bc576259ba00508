package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cryptoSignalBot/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds the process-level configuration. Per-profile trading
// thresholds live in the profiles file (see LoadProfiles).
type Config struct {
	// Binance API. Market data endpoints are public, so keys are optional.
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Universe
	Symbols      []string
	ProfilesPath string // Empty uses the embedded default profiles

	// Scanning
	ScanInterval    time.Duration
	ScanConcurrency int
	SignalTTL       time.Duration

	// Price supervision
	PollInterval         time.Duration
	MaxTickAge           time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int     // Caps the backoff exponent of stream reconnects
	RateLimitRPS         float64 // REST requests per second towards the exchange

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFormat string          // "text" or "json"

	// Optional infrastructure
	MetricsAddr        string // Empty disables the metrics endpoint
	RedisURL           string // Empty keeps the last-price cache in memory
	SentimentURL       string
	SentimentCacheTTL  time.Duration
	LearnerMinSamples  int
	LearnerFloor       float64
	LearnerReenable    float64
	LearnerReloadEvery time.Duration
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// A missing .env is fine; plain environment variables still apply.
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)
	if (cfg.APIKey == "") != (cfg.SecretKey == "") {
		errs = append(errs, "BINANCE_API_KEY and BINANCE_API_SECRET must be set together")
	}

	// Universe
	cfg.Symbols = parseSymbols(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT,SOLUSDT"))
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}
	cfg.ProfilesPath = getEnv("PROFILES_PATH", "")

	// Scanning
	cfg.ScanInterval = envSeconds("SCAN_INTERVAL_SECONDS", 30, &errs)

	cfg.ScanConcurrency, err = getEnvAsIntRequired("SCAN_CONCURRENCY", 8)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SCAN_CONCURRENCY: %v", err))
	} else if cfg.ScanConcurrency <= 0 {
		errs = append(errs, "SCAN_CONCURRENCY must be positive")
	}

	cfg.SignalTTL = envSeconds("SIGNAL_TTL_SECONDS", 20, &errs)

	// Price supervision
	cfg.PollInterval = envSeconds("POLL_INTERVAL_SECONDS", 5, &errs)
	cfg.MaxTickAge = envSeconds("MAX_TICK_AGE_SECONDS", 60, &errs)

	// Stream reconnects
	cfg.ReconnectDelay = envSeconds("RECONNECT_DELAY_SECONDS", 5, &errs)
	cfg.MaxReconnectAttempts, err = getEnvAsIntRequired("MAX_RECONNECT_ATTEMPTS", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_RECONNECT_ATTEMPTS: %v", err))
	} else if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	cfg.RateLimitRPS, err = getEnvAsFloatRequired("RATE_LIMIT_RPS", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RATE_LIMIT_RPS: %v", err))
	} else if cfg.RateLimitRPS <= 0 {
		errs = append(errs, "RATE_LIMIT_RPS must be positive")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/signal_bot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "text"))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, "LOG_FORMAT must be text or json")
	}

	// Optional infrastructure
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")
	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.SentimentURL = getEnv("SENTIMENT_URL", "https://api.alternative.me/fng/?limit=1")
	cfg.SentimentCacheTTL = envSeconds("SENTIMENT_CACHE_SECONDS", 300, &errs)

	// Learner
	cfg.LearnerMinSamples, err = getEnvAsIntRequired("LEARNER_MIN_SAMPLES", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEARNER_MIN_SAMPLES: %v", err))
	} else if cfg.LearnerMinSamples <= 0 {
		errs = append(errs, "LEARNER_MIN_SAMPLES must be positive")
	}
	cfg.LearnerFloor, err = getEnvAsFloatRequired("LEARNER_FLOOR", 0.30)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEARNER_FLOOR: %v", err))
	}
	cfg.LearnerReenable, err = getEnvAsFloatRequired("LEARNER_REENABLE", 0.40)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEARNER_REENABLE: %v", err))
	}
	if cfg.LearnerFloor <= 0 || cfg.LearnerFloor >= 1 || cfg.LearnerReenable < cfg.LearnerFloor || cfg.LearnerReenable > 1 {
		errs = append(errs, "learner thresholds must satisfy 0 < LEARNER_FLOOR <= LEARNER_REENABLE <= 1")
	}
	cfg.LearnerReloadEvery = envSeconds("LEARNER_RELOAD_SECONDS", 300, &errs)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

func parseSymbols(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range strings.Split(raw, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// envSeconds reads a positive number of seconds, recording any problem in errs.
func envSeconds(key string, defaultSeconds int, errs *[]string) time.Duration {
	seconds, err := getEnvAsIntRequired(key, defaultSeconds)
	switch {
	case err != nil:
		*errs = append(*errs, fmt.Sprintf("invalid %s: %v", key, err))
	case seconds <= 0:
		*errs = append(*errs, key+" must be positive")
	}
	return time.Duration(seconds) * time.Second
}

// getEnvAsIntRequired returns the default when unset and an error when set but malformed.
func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer: %w", valueStr, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number: %w", valueStr, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
