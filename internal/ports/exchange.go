package ports

import (
	"context"
	"time"

	"positionKeeper/internal/domain"
)

// RemotePosition is the venue's authoritative view of one position.
// A zero Size means the venue considers the position closed.
type RemotePosition struct {
	Size          float64 // Absolute position size in base units
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPNL float64
}

// MarketOrderRequest describes a market order opening or adding to a position.
type MarketOrderRequest struct {
	Symbol     string
	Side       domain.Side // Position side; the adapter derives the order side
	Quantity   float64
	Leverage   int
	MarginMode domain.MarginMode
}

// OrderResult holds the essential details returned after placing a market order.
type OrderResult struct {
	OrderID          string
	RemotePositionID string // Venue handle for the resulting position session
	AvgPrice         float64
	ExecutedQty      float64
	Timestamp        time.Time
}

// TriggerOrderRequest describes a conditional exit order (take-profit or
// stop-loss) that the venue executes when price crosses TriggerPrice.
type TriggerOrderRequest struct {
	Symbol       string
	PositionSide domain.Side
	Kind         domain.TriggerKind
	TriggerPrice float64
	Quantity     float64
}

// ExchangeGateway defines the interface for the trading venue.
// This abstraction decouples the lifecycle loops from wire-level API mechanics.
type ExchangeGateway interface {
	// GetPosition retrieves the venue's view of the position held for a
	// symbol and side. Returns ErrPositionNotFound when the venue confirms
	// no such position exists; transient failures map to the transient
	// error sentinels and must never be treated as closure.
	GetPosition(ctx context.Context, symbol string, side domain.Side) (*RemotePosition, error)

	// GetTickerPrice retrieves the last traded price for a symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// PlaceMarketOrder places a market order and reports the fill.
	PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (*OrderResult, error)

	// PlaceTriggerOrder places a conditional exit order and returns its id.
	PlaceTriggerOrder(ctx context.Context, req TriggerOrderRequest) (string, error)

	// CancelOrder cancels an open order. ErrOrderNotFound means the order is
	// already gone (filled or cancelled), which callers treat as success.
	CancelOrder(ctx context.Context, symbol string, orderID string) error
}
