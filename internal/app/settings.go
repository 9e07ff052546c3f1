package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"positionKeeper/internal/domain"
	"positionKeeper/internal/ports"
)

// loadSettings reads the runtime settings snapshot for one tick. Every loop
// calls this at the start of each tick so dashboard changes take effect
// without a restart; values are never cached across ticks.
//
// Missing keys fall back to defaults silently; present-but-invalid values are
// a configuration error, logged and replaced by the safe default.
func loadSettings(ctx context.Context, store ports.PositionStore, logger ports.Logger) domain.Settings {
	s := domain.DefaultSettings()

	s.AutoReopenEnabled = boolSetting(ctx, store, logger, domain.SettingAutoReopenEnabled, s.AutoReopenEnabled)
	s.RecoveryEnabled = boolSetting(ctx, store, logger, domain.SettingRecoveryEnabled, s.RecoveryEnabled)
	s.RecoveryTriggerUSDT = floatSetting(ctx, store, logger, domain.SettingRecoveryTriggerUSDT, s.RecoveryTriggerUSDT)
	s.RecoveryAddUSDT = floatSetting(ctx, store, logger, domain.SettingRecoveryAddUSDT, s.RecoveryAddUSDT)
	s.RecoveryTakeProfitUSDT = floatSetting(ctx, store, logger, domain.SettingRecoveryTPUSDT, s.RecoveryTakeProfitUSDT)
	s.RecoveryStopLossUSDT = floatSetting(ctx, store, logger, domain.SettingRecoverySLUSDT, s.RecoveryStopLossUSDT)

	defaultDelay := int(s.ReopenDelay / time.Minute)
	delayMinutes := intSetting(ctx, store, logger, domain.SettingAutoReopenDelayMinutes, defaultDelay)
	if delayMinutes < domain.MinReopenDelayMinutes || delayMinutes > domain.MaxReopenDelayMinutes {
		logger.Warn(ctx, "Reopen delay out of bounds, using default", map[string]interface{}{
			"key":     domain.SettingAutoReopenDelayMinutes,
			"value":   delayMinutes,
			"min":     domain.MinReopenDelayMinutes,
			"max":     domain.MaxReopenDelayMinutes,
			"default": defaultDelay,
		})
		delayMinutes = defaultDelay
	}
	s.ReopenDelay = time.Duration(delayMinutes) * time.Minute

	return s
}

func rawSetting(ctx context.Context, store ports.PositionStore, logger ports.Logger, key string) (string, bool) {
	value, err := store.GetSetting(ctx, key)
	if err != nil {
		logger.Warn(ctx, "Failed to read setting, using default", map[string]interface{}{"key": key, "error": err.Error()})
		return "", false
	}
	return value, value != ""
}

func boolSetting(ctx context.Context, store ports.PositionStore, logger ports.Logger, key string, def bool) bool {
	raw, ok := rawSetting(ctx, store, logger, key)
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logInvalidSetting(ctx, logger, key, raw, err)
		return def
	}
	return v
}

func floatSetting(ctx context.Context, store ports.PositionStore, logger ports.Logger, key string, def float64) float64 {
	raw, ok := rawSetting(ctx, store, logger, key)
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logInvalidSetting(ctx, logger, key, raw, err)
		return def
	}
	return v
}

func intSetting(ctx context.Context, store ports.PositionStore, logger ports.Logger, key string, def int) int {
	raw, ok := rawSetting(ctx, store, logger, key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logInvalidSetting(ctx, logger, key, raw, err)
		return def
	}
	return v
}

func logInvalidSetting(ctx context.Context, logger ports.Logger, key, raw string, err error) {
	logger.Warn(ctx, "Invalid setting value, using default", map[string]interface{}{
		"key":   key,
		"value": raw,
		"error": fmt.Errorf("%w: %v", ports.ErrConfigurationError, err).Error(),
	})
}
