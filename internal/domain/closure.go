package domain

import "time"

// ClosureRecord is an append-only history row written each time reconciliation
// detects that the venue closed a position. The position row itself is mutated
// in place on reopen, so this table is the durable record of past sessions.
type ClosureRecord struct {
	ID          int64
	PositionID  int64
	Symbol      string
	Side        Side
	EntryPrice  float64
	Quantity    float64
	Leverage    int
	PNL         float64
	CloseReason CloseReason
	OpenedAt    time.Time
	ClosedAt    time.Time
}
