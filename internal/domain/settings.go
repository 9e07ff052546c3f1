package domain

import "time"

// Setting keys stored in the settings table. The dashboard mutates these
// between ticks; every loop re-reads them at the start of each tick.
const (
	SettingAutoReopenEnabled      = "auto_reopen_enabled"
	SettingAutoReopenDelayMinutes = "auto_reopen_delay_minutes"
	SettingRecoveryEnabled        = "recovery_enabled"
	SettingRecoveryTriggerUSDT    = "recovery_trigger_usdt"
	SettingRecoveryAddUSDT        = "recovery_add_usdt"
	SettingRecoveryTPUSDT         = "recovery_tp_usdt"
	SettingRecoverySLUSDT         = "recovery_sl_usdt"
)

// Bounds for the reopen delay; values outside fall back to the default.
const (
	MinReopenDelayMinutes = 1
	MaxReopenDelayMinutes = 60
)

// Settings holds the per-tick snapshot of runtime configuration.
type Settings struct {
	AutoReopenEnabled      bool
	ReopenDelay            time.Duration
	RecoveryEnabled        bool
	RecoveryTriggerUSDT    float64 // Typically negative: trigger when PnL <= this
	RecoveryAddUSDT        float64
	RecoveryTakeProfitUSDT float64
	RecoveryStopLossUSDT   float64
}

// DefaultSettings returns the values used when a key is missing or invalid.
func DefaultSettings() Settings {
	return Settings{
		AutoReopenEnabled:      true,
		ReopenDelay:            5 * time.Minute,
		RecoveryEnabled:        false,
		RecoveryTriggerUSDT:    -50.0,
		RecoveryAddUSDT:        100.0,
		RecoveryTakeProfitUSDT: 8.0,
		RecoveryStopLossUSDT:   500.0,
	}
}
