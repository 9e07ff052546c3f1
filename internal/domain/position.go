package domain

import "time"

// Position is the single persistent record for one logical trade lineage.
// The local ID never changes; RemotePositionID is reassigned every time the
// position is reopened on the venue. Reopening and recovery both mutate this
// record in place rather than creating new rows.
type Position struct {
	ID               int64  // Local record id, stable for the record's lifetime
	Symbol           string // Trading symbol (e.g., "ETHUSDT")
	Side             Side   // LONG or SHORT
	AmountUSDT       float64
	Leverage         int
	MarginMode       MarginMode
	EntryPrice       float64
	Quantity         float64
	RemotePositionID string // Venue handle for the current session, changes on reopen

	// Exit targets expressed as quote-currency PnL, not prices. Trigger prices
	// are derived from these together with the current entry and quantity.
	TakeProfitUSDT    float64
	StopLossUSDT      float64
	TakeProfitOrderID *string
	StopLossOrderID   *string

	IsOpen      bool
	OpenedAt    time.Time
	ClosedAt    *time.Time // nil while the position is open
	PNL         float64    // Realized PnL, set when closure is detected
	CloseReason CloseReason
	ReopenCount int

	// Cached venue metrics, refreshed by reconciliation. Never authoritative.
	MarkPrice     float64
	UnrealizedPNL float64

	RecoveryCount  int // Completed recovery sequences, never decreases
	LastRecoveryAt *time.Time

	Version int64 // Optimistic-concurrency stamp, bumped by every store update
}
