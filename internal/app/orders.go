package app

import (
	"context"
	"errors"
	"time"

	"positionKeeper/internal/domain"
	"positionKeeper/internal/ports"
)

// placeExitOrders places fresh take-profit and stop-loss trigger orders for a
// position that already exists on the venue. Placement is best-effort at this
// point: the market fill that preceded it cannot be retried without doubling
// the position, so a rejected trigger order is logged and its id left nil.
// Each placement runs under its own bounded timeout.
func placeExitOrders(ctx context.Context, gateway ports.ExchangeGateway, logger ports.Logger,
	symbol string, side domain.Side, quantity, tpPrice, slPrice float64, callTimeout time.Duration) (tpOrderID, slOrderID *string) {

	opCtx, cancel := callContext(ctx, callTimeout)
	if id, err := gateway.PlaceTriggerOrder(opCtx, ports.TriggerOrderRequest{
		Symbol:       symbol,
		PositionSide: side,
		Kind:         domain.TriggerTakeProfit,
		TriggerPrice: tpPrice,
		Quantity:     quantity,
	}); err != nil {
		logger.Warn(ctx, "Failed to place take profit order", map[string]interface{}{
			"symbol": symbol, "side": side, "triggerPrice": tpPrice, "error": err.Error(),
		})
	} else {
		tpOrderID = &id
	}
	cancel()

	opCtx, cancel = callContext(ctx, callTimeout)
	if id, err := gateway.PlaceTriggerOrder(opCtx, ports.TriggerOrderRequest{
		Symbol:       symbol,
		PositionSide: side,
		Kind:         domain.TriggerStopLoss,
		TriggerPrice: slPrice,
		Quantity:     quantity,
	}); err != nil {
		logger.Warn(ctx, "Failed to place stop loss order", map[string]interface{}{
			"symbol": symbol, "side": side, "triggerPrice": slPrice, "error": err.Error(),
		})
	} else {
		slOrderID = &id
	}
	cancel()

	return tpOrderID, slOrderID
}

// cancelOrderWarn attempts to cancel an exit order under its own bounded
// timeout and logs instead of failing: a stale cancelled-but-not-removed
// order is preferable to blocking the sequence that follows.
func cancelOrderWarn(ctx context.Context, gateway ports.ExchangeGateway, logger ports.Logger,
	symbol string, orderID *string, kind string, callTimeout time.Duration) {

	if orderID == nil || *orderID == "" {
		return
	}
	opCtx, cancel := callContext(ctx, callTimeout)
	err := gateway.CancelOrder(opCtx, symbol, *orderID)
	cancel()
	if err == nil {
		logger.Debug(ctx, "Exit order cancelled", map[string]interface{}{"symbol": symbol, "orderID": *orderID, "type": kind})
		return
	}
	if errors.Is(err, ports.ErrOrderNotFound) {
		logger.Warn(ctx, "Exit order not found, likely already filled or cancelled", map[string]interface{}{
			"symbol": symbol, "orderID": *orderID, "type": kind,
		})
		return
	}
	logger.Warn(ctx, "Failed to cancel exit order, continuing", map[string]interface{}{
		"symbol": symbol, "orderID": *orderID, "type": kind, "error": err.Error(),
	})
}
