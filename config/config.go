// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ghosttrader/internal/adapters/logger"
)

// Config holds all application configuration.
type Config struct {
	// Secrets
	ServerSecret string // keys session credentials, never rotated casually
	JWTSecret    string

	// Token lifetimes
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Monitor
	MonitorInterval time.Duration // polling period between cycles
	CallTimeout     time.Duration // per external call within a cycle
	SwapExecTimeout time.Duration // full swap execution including confirmation

	// Risk limits
	MaxOpenTrades  int
	MaxEntryAmount float64
	MaxSlippageBps int

	// Routing service
	RouterBaseURL string
	QuoteDecimals int
	TokenDecimals int

	// Price feed (ticker endpoint is public, keys optional)
	BinanceAPIKey    string
	BinanceSecretKey string
	QuoteAsset       string

	// Database
	DBPath string

	// Logging
	LogLevel slog.Level
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Secrets
	cfg.ServerSecret = getEnv("SERVER_SECRET", "")
	if cfg.ServerSecret == "" {
		errs = append(errs, "SERVER_SECRET must be set")
	}
	cfg.JWTSecret = getEnv("JWT_SECRET", "")
	if cfg.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET must be set")
	}

	// Token lifetimes
	accessTTLMinutes := getEnvAsInt("ACCESS_TOKEN_TTL_MINUTES", 15)
	if accessTTLMinutes <= 0 {
		errs = append(errs, "ACCESS_TOKEN_TTL_MINUTES must be positive")
	}
	cfg.AccessTokenTTL = time.Duration(accessTTLMinutes) * time.Minute

	refreshTTLHours := getEnvAsInt("REFRESH_TOKEN_TTL_HOURS", 720)
	if refreshTTLHours <= 0 {
		errs = append(errs, "REFRESH_TOKEN_TTL_HOURS must be positive")
	}
	cfg.RefreshTokenTTL = time.Duration(refreshTTLHours) * time.Hour

	// Monitor
	intervalSeconds := getEnvAsInt("MONITOR_INTERVAL_SECONDS", 30)
	if intervalSeconds <= 0 {
		errs = append(errs, "MONITOR_INTERVAL_SECONDS must be positive")
	}
	cfg.MonitorInterval = time.Duration(intervalSeconds) * time.Second

	callTimeoutSeconds := getEnvAsInt("CALL_TIMEOUT_SECONDS", 10)
	if callTimeoutSeconds <= 0 {
		errs = append(errs, "CALL_TIMEOUT_SECONDS must be positive")
	}
	cfg.CallTimeout = time.Duration(callTimeoutSeconds) * time.Second

	execTimeoutSeconds := getEnvAsInt("SWAP_EXEC_TIMEOUT_SECONDS", 45)
	if execTimeoutSeconds <= 0 {
		errs = append(errs, "SWAP_EXEC_TIMEOUT_SECONDS must be positive")
	}
	cfg.SwapExecTimeout = time.Duration(execTimeoutSeconds) * time.Second

	// Risk limits
	cfg.MaxOpenTrades, err = getEnvAsIntRequired("MAX_OPEN_TRADES", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_OPEN_TRADES: %v", err))
	} else if cfg.MaxOpenTrades <= 0 {
		errs = append(errs, "MAX_OPEN_TRADES must be positive")
	}

	cfg.MaxEntryAmount, err = getEnvAsFloatRequired("MAX_ENTRY_AMOUNT", 1000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_ENTRY_AMOUNT: %v", err))
	} else if cfg.MaxEntryAmount < 0 {
		errs = append(errs, "MAX_ENTRY_AMOUNT cannot be negative")
	}

	cfg.MaxSlippageBps, err = getEnvAsIntRequired("MAX_SLIPPAGE_BPS", 500)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_SLIPPAGE_BPS: %v", err))
	} else if cfg.MaxSlippageBps <= 0 {
		errs = append(errs, "MAX_SLIPPAGE_BPS must be positive")
	}

	// Routing service
	cfg.RouterBaseURL = getEnv("ROUTER_BASE_URL", "")
	if cfg.RouterBaseURL == "" {
		errs = append(errs, "ROUTER_BASE_URL must be set")
	}
	cfg.QuoteDecimals = getEnvAsInt("QUOTE_DECIMALS", 6)
	cfg.TokenDecimals = getEnvAsInt("TOKEN_DECIMALS", 9)
	if cfg.QuoteDecimals <= 0 || cfg.TokenDecimals <= 0 {
		errs = append(errs, "QUOTE_DECIMALS and TOKEN_DECIMALS must be positive")
	}

	// Price feed
	cfg.BinanceAPIKey = getEnv("BINANCE_API_KEY", "")
	cfg.BinanceSecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.QuoteAsset = getEnv("QUOTE_ASSET", "USDT")

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/ghosttrader.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
