package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"positionKeeper/internal/domain"
	"positionKeeper/internal/ports"
)

// Reconciler compares locally persisted open records against the venue's
// authoritative state. It is the only component allowed to flip a record from
// open to closed, and it hands every detected closure to the ReopenScheduler.
type Reconciler struct {
	store       ports.PositionStore
	gateway     ports.ExchangeGateway
	reopener    *ReopenScheduler
	clock       ports.Clock
	logger      ports.Logger
	callTimeout time.Duration
}

// NewReconciler creates a reconciliation loop instance.
func NewReconciler(store ports.PositionStore, gateway ports.ExchangeGateway, reopener *ReopenScheduler,
	clk ports.Clock, logger ports.Logger, callTimeout time.Duration) (*Reconciler, error) {

	if store == nil || gateway == nil || reopener == nil || clk == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Reconciler")
	}
	return &Reconciler{
		store:       store,
		gateway:     gateway,
		reopener:    reopener,
		clock:       clk,
		logger:      logger,
		callTimeout: callTimeout,
	}, nil
}

// Tick runs one reconciliation pass. Per-record errors are logged and the
// scan continues; nothing here may terminate the loop.
func (r *Reconciler) Tick(ctx context.Context) {
	settings := loadSettings(ctx, r.store, r.logger)

	open, err := r.store.FindOpen(ctx)
	if err != nil {
		r.logger.Error(ctx, err, "Reconcile: failed to list open positions")
		return
	}

	for _, pos := range open {
		r.reconcile(ctx, pos, settings)
	}
}

func (r *Reconciler) reconcile(ctx context.Context, pos *domain.Position, settings domain.Settings) {
	opCtx, cancel := callContext(ctx, r.callTimeout)
	remote, err := r.gateway.GetPosition(opCtx, pos.Symbol, pos.Side)
	cancel()

	if err != nil {
		if errors.Is(err, ports.ErrPositionNotFound) {
			// The venue confirms the position no longer exists.
			r.markClosed(ctx, pos, nil, settings)
			return
		}
		// Transient or unclassified failure: the record is left untouched
		// this tick. A network error is never evidence of closure.
		r.logger.Warn(ctx, "Reconcile: gateway query failed, leaving record untouched", map[string]interface{}{
			"positionID": pos.ID, "remoteID": pos.RemotePositionID, "symbol": pos.Symbol,
			"operation": "GetPosition", "transient": ports.IsTransient(err), "error": err.Error(),
		})
		return
	}

	if remote.Size == 0 {
		r.markClosed(ctx, pos, remote, settings)
		return
	}

	// Still open on the venue: refresh cached metrics only.
	_, err = applyRecordUpdate(ctx, r.store, pos.ID, func(p *domain.Position) error {
		if !p.IsOpen {
			return errSkipUpdate
		}
		p.MarkPrice = remote.MarkPrice
		p.UnrealizedPNL = remote.UnrealizedPNL
		return nil
	})
	if err != nil && !errors.Is(err, errSkipUpdate) {
		r.logger.Error(ctx, err, "Reconcile: failed to refresh cached metrics", map[string]interface{}{
			"positionID": pos.ID, "remoteID": pos.RemotePositionID, "operation": "refreshMetrics",
		})
	}
}

// markClosed transitions a record to closed and schedules its reopen.
// remote is nil when the venue reported the position as not found.
func (r *Reconciler) markClosed(ctx context.Context, pos *domain.Position, remote *ports.RemotePosition, settings domain.Settings) {
	now := r.clock.Now().UTC()
	pnl := pos.UnrealizedPNL
	if remote != nil {
		pnl = remote.UnrealizedPNL
	}
	reason := inferCloseReason(remote, pnl)

	closed, err := applyRecordUpdate(ctx, r.store, pos.ID, func(p *domain.Position) error {
		if !p.IsOpen {
			// Already closed by an earlier pass; never close twice.
			return errSkipUpdate
		}
		p.IsOpen = false
		t := now
		p.ClosedAt = &t
		p.PNL = pnl
		p.CloseReason = reason
		if remote != nil {
			p.MarkPrice = remote.MarkPrice
			p.UnrealizedPNL = remote.UnrealizedPNL
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errSkipUpdate) {
			return
		}
		r.logger.Error(ctx, err, "Reconcile: failed to persist closure", map[string]interface{}{
			"positionID": pos.ID, "remoteID": pos.RemotePositionID, "operation": "markClosed",
		})
		return
	}

	r.logger.Info(ctx, "Position closed on venue", map[string]interface{}{
		"positionID": closed.ID, "remoteID": closed.RemotePositionID, "symbol": closed.Symbol,
		"pnl": closed.PNL, "reason": closed.CloseReason,
	})

	// At most one exit order fills when the venue closes a position; the
	// surviving sibling stays live and could fire against a reopened session.
	// Cancel both, best-effort: the filled one reports not-found.
	cancelOrderWarn(ctx, r.gateway, r.logger, closed.Symbol, closed.TakeProfitOrderID, "TP", r.callTimeout)
	cancelOrderWarn(ctx, r.gateway, r.logger, closed.Symbol, closed.StopLossOrderID, "SL", r.callTimeout)

	// History write is best-effort; a failure never blocks the transition.
	if _, err := r.store.RecordClosure(ctx, &domain.ClosureRecord{
		PositionID:  closed.ID,
		Symbol:      closed.Symbol,
		Side:        closed.Side,
		EntryPrice:  closed.EntryPrice,
		Quantity:    closed.Quantity,
		Leverage:    closed.Leverage,
		PNL:         closed.PNL,
		CloseReason: closed.CloseReason,
		OpenedAt:    closed.OpenedAt,
		ClosedAt:    now,
	}); err != nil {
		r.logger.Warn(ctx, "Failed to append closure history", map[string]interface{}{
			"positionID": closed.ID, "error": err.Error(),
		})
	}

	if !settings.AutoReopenEnabled {
		return
	}
	if r.reopener.Enqueue(closed.ID, now.Add(settings.ReopenDelay)) {
		r.logger.Info(ctx, "Position scheduled for reopen", map[string]interface{}{
			"positionID": closed.ID, "due": now.Add(settings.ReopenDelay),
		})
	}
}

// inferCloseReason classifies a detected closure from the last observed
// unrealized PnL. Best-effort: without venue data the reason stays unknown.
func inferCloseReason(remote *ports.RemotePosition, pnl float64) domain.CloseReason {
	if remote == nil {
		return domain.CloseReasonUnknown
	}
	switch {
	case pnl > 0:
		return domain.CloseReasonTakeProfit
	case pnl < 0:
		return domain.CloseReasonStopLoss
	default:
		return domain.CloseReasonUser
	}
}
