package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading agent.
type Config struct {
	// Market selection
	TargetCoinsCount int

	// SignalDetector
	SurgeThresholdRate    float64
	SurgeTimeframeMinutes int
	VolumeMultiplier      float64

	// RiskManager
	StopLossRate           float64
	TakeProfitRate         float64
	TrailingStopEnabled    bool
	TrailingActivationRate float64
	TrailingOffsetRate     float64

	// DecisionMaker
	MinOrderAmountQuote float64
	MaxPositionRatio    float64

	// ExchangeClient
	RateLimitRPS  int
	ExchangeKey   string
	ExchangeSecret string

	// StateStore
	DBPath          string
	EnableTickLog   bool
	EnableSignalLog bool

	// Feed selection
	UseMockFeed bool
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		TargetCoinsCount:       getEnvInt("TARGET_COINS_COUNT", 20),
		SurgeThresholdRate:     getEnvFloat("SURGE_THRESHOLD_RATE", 0.05),
		SurgeTimeframeMinutes:  getEnvInt("SURGE_TIMEFRAME_MINUTES", 60),
		VolumeMultiplier:       getEnvFloat("VOLUME_MULTIPLIER", 2.0),
		StopLossRate:           getEnvFloat("STOP_LOSS_RATE", 0.05),
		TakeProfitRate:         getEnvFloat("TAKE_PROFIT_RATE", 0.10),
		TrailingStopEnabled:    getEnv("TRAILING_STOP_ENABLED", "false") == "true",
		TrailingActivationRate: getEnvFloat("TRAILING_ACTIVATION_RATE", 0.08),
		TrailingOffsetRate:     getEnvFloat("TRAILING_OFFSET_RATE", 0.03),
		MinOrderAmountQuote:    getEnvFloat("MIN_ORDER_AMOUNT_QUOTE", 5000),
		MaxPositionRatio:       getEnvFloat("MAX_POSITION_RATIO", 0.5),
		RateLimitRPS:           getEnvInt("RATE_LIMIT_RPS", 10),
		ExchangeKey:            os.Getenv("EXCHANGE_ACCESS_KEY"),
		ExchangeSecret:         os.Getenv("EXCHANGE_SECRET_KEY"),
		DBPath:                 getEnv("DB_PATH", "./data/surgebot.db"),
		EnableTickLog:          getEnv("ENABLE_TICK_LOG", "false") == "true",
		EnableSignalLog:        getEnv("ENABLE_SIGNAL_LOG", "false") == "true",
		UseMockFeed:            getEnv("USE_MOCK_FEED", "true") == "true",
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TargetCoinsCount < 1 || c.TargetCoinsCount > 20 {
		return fmt.Errorf("config: TARGET_COINS_COUNT must be in [1,20], got %d", c.TargetCoinsCount)
	}
	if c.MaxPositionRatio <= 0 || c.MaxPositionRatio > 1.0 {
		return fmt.Errorf("config: MAX_POSITION_RATIO must be in (0,1], got %.4f", c.MaxPositionRatio)
	}
	if !c.UseMockFeed && (c.ExchangeKey == "" || c.ExchangeSecret == "") {
		return fmt.Errorf("config: EXCHANGE_ACCESS_KEY and EXCHANGE_SECRET_KEY are required when USE_MOCK_FEED=false")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
