package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"positionKeeper/internal/domain"
	"positionKeeper/internal/ports"
)

// RecoveryEngine scans open records for adverse PnL and runs the recovery
// sequence: cancel exits, add to the position, recompute exit targets from
// the blended entry, replace exit orders, bump the recovery counter.
//
// The in-flight set is the mutual-exclusion gate: a record id enters the set
// before any remote call and leaves it on every exit path, so a sequence runs
// at most once per trigger and a failed attempt becomes eligible again on a
// later tick. The set is in-memory only and rebuilds empty after a restart.
type RecoveryEngine struct {
	store       ports.PositionStore
	gateway     ports.ExchangeGateway
	clock       ports.Clock
	logger      ports.Logger
	callTimeout time.Duration

	mu       sync.Mutex
	inFlight map[int64]struct{}
	wg       sync.WaitGroup
}

// NewRecoveryEngine creates a recovery loop instance.
func NewRecoveryEngine(store ports.PositionStore, gateway ports.ExchangeGateway,
	clk ports.Clock, logger ports.Logger, callTimeout time.Duration) (*RecoveryEngine, error) {

	if store == nil || gateway == nil || clk == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for RecoveryEngine")
	}
	return &RecoveryEngine{
		store:       store,
		gateway:     gateway,
		clock:       clk,
		logger:      logger,
		callTimeout: callTimeout,
		inFlight:    make(map[int64]struct{}),
	}, nil
}

// acquire adds id to the in-flight set; false when already present.
func (e *RecoveryEngine) acquire(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.inFlight[id]; exists {
		return false
	}
	e.inFlight[id] = struct{}{}
	return true
}

func (e *RecoveryEngine) release(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, id)
}

// InFlight reports whether a recovery sequence is currently running for id.
func (e *RecoveryEngine) InFlight(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, exists := e.inFlight[id]
	return exists
}

// Wait blocks until all running recovery sequences finish. Used on shutdown
// so a sequence is never abandoned between venue calls and the record update.
func (e *RecoveryEngine) Wait() {
	e.wg.Wait()
}

// Tick scans open records and launches the recovery sequence for every
// breach. Sequences run asynchronously so a slow one never blocks the scan
// or subsequent ticks; the in-flight set keeps them exclusive per record.
func (e *RecoveryEngine) Tick(ctx context.Context) {
	settings := loadSettings(ctx, e.store, e.logger)
	if !settings.RecoveryEnabled {
		return
	}

	open, err := e.store.FindOpen(ctx)
	if err != nil {
		e.logger.Error(ctx, err, "Recovery: failed to list open positions")
		return
	}

	for _, pos := range open {
		if e.InFlight(pos.ID) {
			e.logger.Debug(ctx, "Recovery already in flight, skipping", map[string]interface{}{"positionID": pos.ID})
			continue
		}

		opCtx, cancel := callContext(ctx, e.callTimeout)
		remote, err := e.gateway.GetPosition(opCtx, pos.Symbol, pos.Side)
		cancel()
		if err != nil {
			// Closure detection belongs to the reconciler; here any failure
			// just means no PnL reading this tick.
			e.logger.Warn(ctx, "Recovery: gateway query failed, skipping record this tick", map[string]interface{}{
				"positionID": pos.ID, "remoteID": pos.RemotePositionID, "operation": "GetPosition", "error": err.Error(),
			})
			continue
		}
		if remote.Size == 0 {
			continue
		}
		if remote.UnrealizedPNL > settings.RecoveryTriggerUSDT {
			continue
		}

		if !e.acquire(pos.ID) {
			continue
		}
		e.wg.Add(1)
		go func(pos *domain.Position, remote *ports.RemotePosition) {
			defer e.wg.Done()
			defer e.release(pos.ID)
			if err := e.recover(ctx, pos, remote, settings); err != nil {
				e.logger.Error(ctx, err, "Recovery sequence failed, record eligible again next tick", map[string]interface{}{
					"positionID": pos.ID, "remoteID": pos.RemotePositionID, "operation": "recover",
				})
			}
		}(pos, remote)
	}
}

// recover executes one recovery sequence for a record whose PnL breached the
// trigger. The caller holds the in-flight entry for pos.ID.
func (e *RecoveryEngine) recover(ctx context.Context, pos *domain.Position, remote *ports.RemotePosition, settings domain.Settings) error {
	e.logger.Info(ctx, "Recovery triggered", map[string]interface{}{
		"positionID": pos.ID, "remoteID": pos.RemotePositionID, "symbol": pos.Symbol,
		"unrealizedPnl": remote.UnrealizedPNL, "trigger": settings.RecoveryTriggerUSDT,
	})

	// Cancel existing exit orders. Best-effort: a stale order is preferable
	// to blocking the recovery.
	cancelOrderWarn(ctx, e.gateway, e.logger, pos.Symbol, pos.TakeProfitOrderID, "TP", e.callTimeout)
	cancelOrderWarn(ctx, e.gateway, e.logger, pos.Symbol, pos.StopLossOrderID, "SL", e.callTimeout)

	markPrice := remote.MarkPrice
	if markPrice <= 0 {
		opCtx, cancel := callContext(ctx, e.callTimeout)
		price, err := e.gateway.GetTickerPrice(opCtx, pos.Symbol)
		cancel()
		if err != nil {
			return fmt.Errorf("no usable price for recovery add: %w", err)
		}
		markPrice = price
	}

	addQty := settings.RecoveryAddUSDT * float64(pos.Leverage) / markPrice
	opCtx, cancel := callContext(ctx, e.callTimeout)
	res, err := e.gateway.PlaceMarketOrder(opCtx, ports.MarketOrderRequest{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Quantity:   addQty,
		Leverage:   pos.Leverage,
		MarginMode: pos.MarginMode,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("recovery add order: %w", err)
	}

	addPrice := res.AvgPrice
	if addPrice == 0 {
		addPrice = markPrice
	}
	addFilled := res.ExecutedQty
	if addFilled == 0 {
		addFilled = addQty
	}

	blendedEntry := domain.BlendedEntry(pos.Quantity, pos.EntryPrice, addFilled, addPrice)
	totalQty := pos.Quantity + addFilled
	tpPrice, slPrice := domain.TargetPrices(blendedEntry, pos.Side,
		settings.RecoveryTakeProfitUSDT, settings.RecoveryStopLossUSDT, totalQty)

	tpOrderID, slOrderID := placeExitOrders(ctx, e.gateway, e.logger, pos.Symbol, pos.Side, totalQty, tpPrice, slPrice, e.callTimeout)

	now := e.clock.Now().UTC()
	updated, err := applyRecordUpdate(ctx, e.store, pos.ID, func(p *domain.Position) error {
		if !p.IsOpen || p.RemotePositionID != pos.RemotePositionID {
			// The session this sequence added to is gone; a record that was
			// closed and reopened meanwhile keeps its own entry and size
			// rather than inheriting a blend from the dead session.
			return errSkipUpdate
		}
		p.EntryPrice = blendedEntry
		p.Quantity = totalQty
		p.TakeProfitUSDT = settings.RecoveryTakeProfitUSDT
		p.StopLossUSDT = settings.RecoveryStopLossUSDT
		p.TakeProfitOrderID = tpOrderID
		p.StopLossOrderID = slOrderID
		p.RecoveryCount++
		t := now
		p.LastRecoveryAt = &t
		p.MarkPrice = markPrice
		return nil
	})
	if err != nil {
		if errors.Is(err, errSkipUpdate) {
			return nil
		}
		return fmt.Errorf("persist recovery result: %w", err)
	}

	e.logger.Info(ctx, "Recovery sequence completed", map[string]interface{}{
		"positionID": updated.ID, "remoteID": updated.RemotePositionID,
		"blendedEntry": blendedEntry, "quantity": totalQty,
		"takeProfit": tpPrice, "stopLoss": slPrice, "recoveryCount": updated.RecoveryCount,
	})
	return nil
}
