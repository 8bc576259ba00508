package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSignalBot/internal/adapters/logger"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"SYMBOLS", "LOG_LEVEL", "LOG_FORMAT", "BINANCE_API_KEY", "BINANCE_API_SECRET", "SCAN_INTERVAL_SECONDS", "SIGNAL_TTL_SECONDS"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, cfg.Symbols)
	assert.Equal(t, 30*time.Second, cfg.ScanInterval)
	assert.Equal(t, 8, cfg.ScanConcurrency)
	assert.Equal(t, 20*time.Second, cfg.SignalTTL)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Minute, cfg.MaxTickAge)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 10, cfg.LearnerMinSamples)
	assert.Equal(t, 0.30, cfg.LearnerFloor)
	assert.Equal(t, 0.40, cfg.LearnerReenable)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")
	t.Setenv("SYMBOLS", " btcusdt, ETHUSDT ,btcusdt,,")
	t.Setenv("SCAN_INTERVAL_SECONDS", "15")
	t.Setenv("SIGNAL_TTL_SECONDS", "45")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("METRICS_ADDR", ":9100")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, 15*time.Second, cfg.ScanInterval)
	assert.Equal(t, 45*time.Second, cfg.SignalTTL)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantMsg string
	}{
		{name: "Invalid scan interval", env: map[string]string{"SCAN_INTERVAL_SECONDS": "abc"}, wantMsg: "invalid SCAN_INTERVAL_SECONDS"},
		{name: "Zero concurrency", env: map[string]string{"SCAN_CONCURRENCY": "0"}, wantMsg: "SCAN_CONCURRENCY must be positive"},
		{name: "Half of the API credentials", env: map[string]string{"BINANCE_API_KEY": "key"}, wantMsg: "must be set together"},
		{name: "Unknown log format", env: map[string]string{"LOG_FORMAT": "xml"}, wantMsg: "LOG_FORMAT must be text or json"},
		{name: "Learner thresholds inverted", env: map[string]string{"LEARNER_FLOOR": "0.5", "LEARNER_REENABLE": "0.4"}, wantMsg: "learner thresholds"},
		{name: "Negative rate limit", env: map[string]string{"RATE_LIMIT_RPS": "-1"}, wantMsg: "RATE_LIMIT_RPS must be positive"},
		{name: "Zero poll interval", env: map[string]string{"POLL_INTERVAL_SECONDS": "0"}, wantMsg: "POLL_INTERVAL_SECONDS must be positive"},
		{name: "Malformed reconnect attempts", env: map[string]string{"MAX_RECONNECT_ATTEMPTS": "many"}, wantMsg: "invalid MAX_RECONNECT_ATTEMPTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BINANCE_API_KEY", "")
			t.Setenv("BINANCE_API_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := LoadConfig()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), "configuration validation failed")
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
