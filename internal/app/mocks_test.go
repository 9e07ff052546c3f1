package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"positionKeeper/internal/domain"
	"positionKeeper/internal/ports"
)

// Mock implementations shared by the loop tests.

type mockLogger struct {
	mu        sync.Mutex
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

// mockStore is an in-memory PositionStore with the same version guard
// semantics as the SQLite adapter.
type mockStore struct {
	mu        sync.Mutex
	nextID    int64
	positions map[int64]*domain.Position
	settings  map[string]string
	closures  []*domain.ClosureRecord

	findOpenErr   error
	findClosedErr error
	findByIDErr   error
	updateErr     error
	// conflicts forces the next N Update calls to fail with a version conflict.
	conflicts int
}

func newMockStore() *mockStore {
	return &mockStore{
		positions: make(map[int64]*domain.Position),
		settings:  make(map[string]string),
	}
}

func copyPosition(p *domain.Position) *domain.Position {
	cp := *p
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		cp.ClosedAt = &t
	}
	if p.LastRecoveryAt != nil {
		t := *p.LastRecoveryAt
		cp.LastRecoveryAt = &t
	}
	if p.TakeProfitOrderID != nil {
		s := *p.TakeProfitOrderID
		cp.TakeProfitOrderID = &s
	}
	if p.StopLossOrderID != nil {
		s := *p.StopLossOrderID
		cp.StopLossOrderID = &s
	}
	return &cp
}

func (m *mockStore) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	pos.ID = m.nextID
	m.positions[pos.ID] = copyPosition(pos)
	return pos.ID, nil
}

func (m *mockStore) Update(ctx context.Context, pos *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	current, ok := m.positions[pos.ID]
	if !ok {
		return fmt.Errorf("position %d: %w", pos.ID, ports.ErrNotFound)
	}
	if m.conflicts > 0 {
		m.conflicts--
		return fmt.Errorf("position %d: %w", pos.ID, ports.ErrConcurrencyConflict)
	}
	if current.Version != pos.Version {
		return fmt.Errorf("position %d: %w", pos.ID, ports.ErrConcurrencyConflict)
	}
	pos.Version++
	m.positions[pos.ID] = copyPosition(pos)
	return nil
}

func (m *mockStore) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findByIDErr != nil {
		return nil, m.findByIDErr
	}
	pos, ok := m.positions[id]
	if !ok {
		return nil, nil
	}
	return copyPosition(pos), nil
}

func (m *mockStore) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findOpenErr != nil {
		return nil, m.findOpenErr
	}
	var open []*domain.Position
	for _, pos := range m.positions {
		if pos.IsOpen {
			open = append(open, copyPosition(pos))
		}
	}
	return open, nil
}

func (m *mockStore) FindClosedSince(ctx context.Context, cutoff time.Time) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findClosedErr != nil {
		return nil, m.findClosedErr
	}
	var closed []*domain.Position
	for _, pos := range m.positions {
		if !pos.IsOpen && pos.ClosedAt != nil && !pos.ClosedAt.Before(cutoff) {
			closed = append(closed, copyPosition(pos))
		}
	}
	return closed, nil
}

func (m *mockStore) RecordClosure(ctx context.Context, rec *domain.ClosureRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closures = append(m.closures, rec)
	return int64(len(m.closures)), nil
}

func (m *mockStore) GetSetting(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings[key], nil
}

func (m *mockStore) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *mockStore) get(id int64) *domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyPosition(m.positions[id])
}

// mockGateway scripts venue responses per symbol+side.
type mockGateway struct {
	mu sync.Mutex

	remotePositions map[string]*ports.RemotePosition
	positionErrs    map[string]error

	tickerPrice float64
	tickerErr   error

	marketResult *ports.OrderResult
	// marketErrs is consumed one per call before marketResult applies, which
	// lets a test script N failures followed by a success.
	marketErrs  []error
	marketCalls []ports.MarketOrderRequest
	// marketGate, when set, blocks PlaceMarketOrder until closed.
	marketGate chan struct{}

	triggerErr    error
	triggerCalls  []ports.TriggerOrderRequest
	nextTriggerID int
	// triggerWaitCtx makes the first N trigger placements block until their
	// context expires; triggerCtxErrs records ctx.Err() observed at entry.
	triggerWaitCtx int
	triggerCtxErrs []error

	cancelErr       error
	cancelledOrders []string
	cancelWaitCtx   int
	cancelCtxErrs   []error
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		remotePositions: make(map[string]*ports.RemotePosition),
		positionErrs:    make(map[string]error),
	}
}

func positionKey(symbol string, side domain.Side) string {
	return symbol + "/" + string(side)
}

func (m *mockGateway) setRemote(symbol string, side domain.Side, remote *ports.RemotePosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remotePositions[positionKey(symbol, side)] = remote
}

func (m *mockGateway) setPositionErr(symbol string, side domain.Side, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionErrs[positionKey(symbol, side)] = err
}

func (m *mockGateway) GetPosition(ctx context.Context, symbol string, side domain.Side) (*ports.RemotePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := positionKey(symbol, side)
	if err := m.positionErrs[key]; err != nil {
		return nil, err
	}
	remote, ok := m.remotePositions[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, ports.ErrPositionNotFound)
	}
	cp := *remote
	return &cp, nil
}

func (m *mockGateway) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickerPrice, m.tickerErr
}

func (m *mockGateway) PlaceMarketOrder(ctx context.Context, req ports.MarketOrderRequest) (*ports.OrderResult, error) {
	m.mu.Lock()
	gate := m.marketGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketCalls = append(m.marketCalls, req)
	if len(m.marketErrs) > 0 {
		err := m.marketErrs[0]
		m.marketErrs = m.marketErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if m.marketResult == nil {
		return nil, fmt.Errorf("no scripted result: %w", ports.ErrOrderPlacementFailed)
	}
	cp := *m.marketResult
	return &cp, nil
}

func (m *mockGateway) PlaceTriggerOrder(ctx context.Context, req ports.TriggerOrderRequest) (string, error) {
	m.mu.Lock()
	m.triggerCalls = append(m.triggerCalls, req)
	m.triggerCtxErrs = append(m.triggerCtxErrs, ctx.Err())
	wait := m.triggerWaitCtx > 0
	if wait {
		m.triggerWaitCtx--
	}
	err := m.triggerErr
	m.mu.Unlock()

	if wait {
		<-ctx.Done()
		return "", fmt.Errorf("trigger: %w: %w", ports.ErrTimeout, ctx.Err())
	}
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTriggerID++
	return fmt.Sprintf("trigger-%d", m.nextTriggerID), nil
}

func (m *mockGateway) CancelOrder(ctx context.Context, symbol string, orderID string) error {
	m.mu.Lock()
	m.cancelCtxErrs = append(m.cancelCtxErrs, ctx.Err())
	wait := m.cancelWaitCtx > 0
	if wait {
		m.cancelWaitCtx--
	}
	err := m.cancelErr
	m.mu.Unlock()

	if wait {
		<-ctx.Done()
		return fmt.Errorf("cancel: %w: %w", ports.ErrTimeout, ctx.Err())
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelledOrders = append(m.cancelledOrders, orderID)
	return nil
}

func (m *mockGateway) marketCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.marketCalls)
}

func (m *mockGateway) triggerCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.triggerCalls)
}

// fakeClock is a manually advanced clock so tests never sleep.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) NewTicker(d time.Duration) ports.Ticker {
	return newFakeTicker()
}

// fakeTicker fires only when the test calls Fire.
type fakeTicker struct {
	ch chan time.Time
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{ch: make(chan time.Time, 1)}
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {}

func (t *fakeTicker) Fire(at time.Time) {
	t.ch <- at
}
