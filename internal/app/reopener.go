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

// errDropEntry signals that a queue entry no longer applies (record deleted
// or already open again) and should be removed without a reopen attempt.
var errDropEntry = errors.New("reopen entry no longer applicable")

// requeueGrace extends the re-derivation window past the configured delay so
// a record closed shortly before a process restart is still picked up after it.
const requeueGrace = 10 * time.Minute

type reopenEntry struct {
	positionID int64
	due        time.Time
	attempts   int
}

// ReopenScheduler holds the delay queue of closed positions pending automatic
// reopening. Entries survive any number of failures: a failed attempt is
// rescheduled after a fixed short interval, never dropped.
type ReopenScheduler struct {
	store         ports.PositionStore
	gateway       ports.ExchangeGateway
	clock         ports.Clock
	logger        ports.Logger
	retryInterval time.Duration
	callTimeout   time.Duration

	mu    sync.Mutex
	queue map[int64]*reopenEntry
	// suppressed holds ids whose venue fill succeeded but whose record update
	// did not. Requeue must never resurrect them: a second fill would double
	// the venue position. A fresh closure via Enqueue lifts the suppression.
	suppressed map[int64]struct{}
}

// NewReopenScheduler creates a reopen loop instance.
func NewReopenScheduler(store ports.PositionStore, gateway ports.ExchangeGateway,
	clk ports.Clock, logger ports.Logger, retryInterval, callTimeout time.Duration) (*ReopenScheduler, error) {

	if store == nil || gateway == nil || clk == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for ReopenScheduler")
	}
	if retryInterval <= 0 {
		retryInterval = 30 * time.Second
	}
	return &ReopenScheduler{
		store:         store,
		gateway:       gateway,
		clock:         clk,
		logger:        logger,
		retryInterval: retryInterval,
		callTimeout:   callTimeout,
		queue:         make(map[int64]*reopenEntry),
		suppressed:    make(map[int64]struct{}),
	}, nil
}

// Enqueue schedules a closed record for reopening at due. Returns false when
// the record is already queued, which keeps closure detection idempotent.
func (s *ReopenScheduler) Enqueue(positionID int64, due time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.suppressed, positionID)
	if _, exists := s.queue[positionID]; exists {
		return false
	}
	s.queue[positionID] = &reopenEntry{positionID: positionID, due: due}
	return true
}

// Contains reports whether a record is currently queued for reopening.
func (s *ReopenScheduler) Contains(positionID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.queue[positionID]
	return exists
}

// QueueLen returns the number of pending entries.
func (s *ReopenScheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *ReopenScheduler) dueEntries(now time.Time) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []int64
	for id, entry := range s.queue {
		if !entry.due.After(now) {
			due = append(due, id)
		}
	}
	return due
}

func (s *ReopenScheduler) isSuppressed(positionID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.suppressed[positionID]
	return exists
}

func (s *ReopenScheduler) suppressRequeue(positionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressed[positionID] = struct{}{}
}

func (s *ReopenScheduler) remove(positionID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queue, positionID)
}

func (s *ReopenScheduler) reschedule(positionID int64, due time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, exists := s.queue[positionID]; exists {
		entry.due = due
		entry.attempts++
	}
}

// Tick re-derives the queue from recently closed records, then reopens every
// due entry. Failures reschedule the entry after the retry interval,
// independent of the original delay window.
func (s *ReopenScheduler) Tick(ctx context.Context) {
	settings := loadSettings(ctx, s.store, s.logger)
	if settings.AutoReopenEnabled {
		s.requeueClosed(ctx, settings)
	}

	now := s.clock.Now()
	for _, id := range s.dueEntries(now) {
		err := s.reopen(ctx, id)
		switch {
		case err == nil:
			s.remove(id)
		case errors.Is(err, errDropEntry):
			s.logger.Info(ctx, "Dropping reopen entry", map[string]interface{}{"positionID": id})
			s.remove(id)
		default:
			s.reschedule(id, s.clock.Now().Add(s.retryInterval))
			s.logger.Warn(ctx, "Reopen attempt failed, will retry", map[string]interface{}{
				"positionID": id, "retryIn": s.retryInterval.String(), "operation": "reopen", "error": err.Error(),
			})
		}
	}
}

// requeueClosed rebuilds queue entries from the store. The queue itself is
// memory-only, so deriving it from recently closed records on every tick
// means a process restart between closure and reopen never strands a record
// in the closed state.
func (s *ReopenScheduler) requeueClosed(ctx context.Context, settings domain.Settings) {
	cutoff := s.clock.Now().Add(-(settings.ReopenDelay + requeueGrace))
	closed, err := s.store.FindClosedSince(ctx, cutoff)
	if err != nil {
		s.logger.Error(ctx, err, "Reopen: failed to list recently closed positions")
		return
	}
	for _, pos := range closed {
		if pos.ClosedAt == nil || s.isSuppressed(pos.ID) {
			continue
		}
		due := pos.ClosedAt.Add(settings.ReopenDelay)
		if s.Enqueue(pos.ID, due) {
			s.logger.Info(ctx, "Requeued closed position for reopen", map[string]interface{}{
				"positionID": pos.ID, "closedAt": pos.ClosedAt.UTC(), "due": due.UTC(),
			})
		}
	}
}

// reopen re-establishes the position on the venue and mutates the same local
// record in place: the local id is permanent, the remote identifier is not.
func (s *ReopenScheduler) reopen(ctx context.Context, positionID int64) error {
	pos, err := s.store.FindByID(ctx, positionID)
	if err != nil {
		return err
	}
	if pos == nil || pos.IsOpen {
		return errDropEntry
	}

	// Size from the stored USDT stake and the current market price, not the
	// stale entry price of the previous session.
	opCtx, cancel := callContext(ctx, s.callTimeout)
	price, err := s.gateway.GetTickerPrice(opCtx, pos.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("ticker price for %s: %w", pos.Symbol, err)
	}
	if price <= 0 {
		return fmt.Errorf("ticker price for %s is %f: %w", pos.Symbol, price, ports.ErrInvalidRequest)
	}
	quantity := pos.AmountUSDT * float64(pos.Leverage) / price

	opCtx, cancel = callContext(ctx, s.callTimeout)
	res, err := s.gateway.PlaceMarketOrder(opCtx, ports.MarketOrderRequest{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Quantity:   quantity,
		Leverage:   pos.Leverage,
		MarginMode: pos.MarginMode,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("entry order: %w", err)
	}

	entryPrice := res.AvgPrice
	if entryPrice == 0 {
		entryPrice = price
	}
	filledQty := res.ExecutedQty
	if filledQty == 0 {
		filledQty = quantity
	}

	tpPrice, slPrice := domain.TargetPrices(entryPrice, pos.Side, pos.TakeProfitUSDT, pos.StopLossUSDT, filledQty)
	tpOrderID, slOrderID := placeExitOrders(ctx, s.gateway, s.logger, pos.Symbol, pos.Side, filledQty, tpPrice, slPrice, s.callTimeout)

	now := s.clock.Now().UTC()
	_, err = applyRecordUpdate(ctx, s.store, positionID, func(p *domain.Position) error {
		if p.IsOpen {
			return errSkipUpdate
		}
		p.RemotePositionID = res.RemotePositionID
		p.EntryPrice = entryPrice
		p.Quantity = filledQty
		p.OpenedAt = now
		p.IsOpen = true
		p.ClosedAt = nil // cleared atomically with the is-open transition
		p.PNL = 0
		p.CloseReason = ""
		p.TakeProfitOrderID = tpOrderID
		p.StopLossOrderID = slOrderID
		p.MarkPrice = price
		p.UnrealizedPNL = 0
		p.ReopenCount++
		return nil
	})
	if err != nil {
		if errors.Is(err, errSkipUpdate) {
			return nil
		}
		// The venue position now exists; retrying the entry order would
		// double it. Drop the entry, keep it out of requeue, and surface the
		// mismatch loudly.
		s.suppressRequeue(positionID)
		s.logger.Error(ctx, err, "Record update failed after venue reopen, manual reconciliation required", map[string]interface{}{
			"positionID": positionID, "remoteID": res.RemotePositionID, "operation": "reopen",
		})
		return errDropEntry
	}

	s.logger.Info(ctx, "Position reopened", map[string]interface{}{
		"positionID": positionID, "remoteID": res.RemotePositionID, "symbol": pos.Symbol,
		"entryPrice": entryPrice, "quantity": filledQty, "takeProfit": tpPrice, "stopLoss": slPrice,
	})
	return nil
}
