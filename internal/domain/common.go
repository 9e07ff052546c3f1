package domain

// Side represents the direction of a position (LONG or SHORT).
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Opposite returns the reverse side, used when deriving exit order sides.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// MarginMode represents how margin is allocated for a position.
type MarginMode string

const (
	MarginCross    MarginMode = "CROSSED"
	MarginIsolated MarginMode = "ISOLATED"
)

// TriggerKind distinguishes the two conditional exit orders attached to a position.
type TriggerKind string

const (
	TriggerTakeProfit TriggerKind = "TAKE_PROFIT"
	TriggerStopLoss   TriggerKind = "STOP_LOSS"
)

// CloseReason indicates why the venue reported a position as closed.
type CloseReason string

const (
	CloseReasonTakeProfit  CloseReason = "TP"
	CloseReasonStopLoss    CloseReason = "SL"
	CloseReasonUser        CloseReason = "USER"
	CloseReasonLiquidation CloseReason = "LIQUIDATION"
	CloseReasonUnknown     CloseReason = "UNKNOWN"
)
