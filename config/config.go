package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Loop periods. Runtime knobs (reopen delay, recovery parameters) live in
	// the settings table instead, because the dashboard mutates them between
	// ticks without a restart.
	ReconcileInterval time.Duration
	ReopenInterval    time.Duration
	RecoveryInterval  time.Duration

	// Per-call timeout for gateway/store operations inside a tick
	CallTimeout time.Duration

	// Retry interval for failed reopen attempts
	ReopenRetryInterval time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	reconcileSeconds := getEnvAsInt("RECONCILE_INTERVAL_SECONDS", 60)
	if reconcileSeconds <= 0 {
		errs = append(errs, "RECONCILE_INTERVAL_SECONDS must be positive")
	}
	cfg.ReconcileInterval = time.Duration(reconcileSeconds) * time.Second

	reopenSeconds := getEnvAsInt("REOPEN_INTERVAL_SECONDS", 30)
	if reopenSeconds <= 0 {
		errs = append(errs, "REOPEN_INTERVAL_SECONDS must be positive")
	}
	cfg.ReopenInterval = time.Duration(reopenSeconds) * time.Second

	recoverySeconds := getEnvAsInt("RECOVERY_INTERVAL_SECONDS", 15)
	if recoverySeconds <= 0 {
		errs = append(errs, "RECOVERY_INTERVAL_SECONDS must be positive")
	}
	cfg.RecoveryInterval = time.Duration(recoverySeconds) * time.Second

	callTimeoutSeconds := getEnvAsInt("CALL_TIMEOUT_SECONDS", 10)
	if callTimeoutSeconds <= 0 {
		errs = append(errs, "CALL_TIMEOUT_SECONDS must be positive")
	}
	cfg.CallTimeout = time.Duration(callTimeoutSeconds) * time.Second

	reopenRetrySeconds := getEnvAsInt("REOPEN_RETRY_SECONDS", 30)
	if reopenRetrySeconds <= 0 {
		errs = append(errs, "REOPEN_RETRY_SECONDS must be positive")
	}
	cfg.ReopenRetryInterval = time.Duration(reopenRetrySeconds) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/position_keeper.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")

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
