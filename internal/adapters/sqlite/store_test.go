package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"positionKeeper/internal/domain"
	"positionKeeper/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestStore creates a temporary database for testing
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "position-keeper-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := NewStore(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

func testPosition() *domain.Position {
	tpID := "tp-100"
	return &domain.Position{
		Symbol:            "ETHUSDT",
		Side:              domain.Long,
		AmountUSDT:        100.0,
		Leverage:          10,
		MarginMode:        domain.MarginCross,
		EntryPrice:        2000.0,
		Quantity:          0.5,
		RemotePositionID:  "ETHUSDT-LONG-1",
		TakeProfitUSDT:    8.0,
		StopLossUSDT:      500.0,
		TakeProfitOrderID: &tpID,
		IsOpen:            true,
		OpenedAt:          time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStore_CreateAndFindByID(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	pos := testPosition()
	id, err := store.Create(ctx, pos)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))
	assert.Equal(t, int64(0), pos.Version)

	found, err := store.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, pos.Symbol, found.Symbol)
	assert.Equal(t, pos.Side, found.Side)
	assert.Equal(t, pos.MarginMode, found.MarginMode)
	assert.Equal(t, pos.EntryPrice, found.EntryPrice)
	assert.Equal(t, pos.Quantity, found.Quantity)
	assert.Equal(t, pos.RemotePositionID, found.RemotePositionID)
	require.NotNil(t, found.TakeProfitOrderID)
	assert.Equal(t, "tp-100", *found.TakeProfitOrderID)
	assert.Nil(t, found.StopLossOrderID)
	assert.True(t, found.IsOpen)
	assert.Nil(t, found.ClosedAt)
	assert.Nil(t, found.LastRecoveryAt)
}

func TestStore_FindByIDMissingReturnsNilNil(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	found, err := store.FindByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestStore_FindOpenReturnsOnlyOpenRecords(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	open := testPosition()
	_, err := store.Create(ctx, open)
	require.NoError(t, err)

	closedAt := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	closed := testPosition()
	closed.IsOpen = false
	closed.ClosedAt = &closedAt
	closed.CloseReason = domain.CloseReasonStopLoss
	_, err = store.Create(ctx, closed)
	require.NoError(t, err)

	found, err := store.FindOpen(ctx)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, open.ID, found[0].ID)
}

func TestStore_FindClosedSinceFiltersByCutoff(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	open := testPosition()
	_, err := store.Create(ctx, open)
	require.NoError(t, err)

	recentClose := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	recent := testPosition()
	recent.IsOpen = false
	recent.ClosedAt = &recentClose
	recent.CloseReason = domain.CloseReasonTakeProfit
	_, err = store.Create(ctx, recent)
	require.NoError(t, err)

	oldClose := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	old := testPosition()
	old.IsOpen = false
	old.ClosedAt = &oldClose
	old.CloseReason = domain.CloseReasonStopLoss
	_, err = store.Create(ctx, old)
	require.NoError(t, err)

	found, err := store.FindClosedSince(ctx, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, found, 1, "open records and closures before the cutoff are excluded")
	assert.Equal(t, recent.ID, found[0].ID)
	require.NotNil(t, found[0].ClosedAt)
	assert.True(t, recentClose.Equal(found[0].ClosedAt.UTC()))
}

func TestStore_UpdateRoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	pos := testPosition()
	_, err := store.Create(ctx, pos)
	require.NoError(t, err)

	closedAt := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	pos.IsOpen = false
	pos.ClosedAt = &closedAt
	pos.PNL = -42.5
	pos.CloseReason = domain.CloseReasonStopLoss
	require.NoError(t, store.Update(ctx, pos))
	assert.Equal(t, int64(1), pos.Version)

	found, err := store.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.False(t, found.IsOpen)
	require.NotNil(t, found.ClosedAt)
	assert.True(t, closedAt.Equal(found.ClosedAt.UTC()))
	assert.Equal(t, -42.5, found.PNL)
	assert.Equal(t, domain.CloseReasonStopLoss, found.CloseReason)
	assert.Equal(t, int64(1), found.Version)
}

func TestStore_UpdateStaleVersionConflicts(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	pos := testPosition()
	_, err := store.Create(ctx, pos)
	require.NoError(t, err)

	// Two loads of the same record; the second writer must lose.
	first, err := store.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	second, err := store.FindByID(ctx, pos.ID)
	require.NoError(t, err)

	first.MarkPrice = 2100.0
	require.NoError(t, store.Update(ctx, first))

	second.MarkPrice = 1900.0
	err = store.Update(ctx, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConcurrencyConflict)

	found, err := store.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, 2100.0, found.MarkPrice, "the stale write must not be applied")
}

func TestStore_UpdateMissingRecord(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	pos := testPosition()
	pos.ID = 42
	err := store.Update(context.Background(), pos)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStore_RecordClosure(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	rec := &domain.ClosureRecord{
		PositionID:  7,
		Symbol:      "ETHUSDT",
		Side:        domain.Long,
		EntryPrice:  2000.0,
		Quantity:    0.5,
		Leverage:    10,
		PNL:         12.5,
		CloseReason: domain.CloseReasonTakeProfit,
		OpenedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		ClosedAt:    time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
	}
	id, err := store.RecordClosure(ctx, rec)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))
	assert.Equal(t, id, rec.ID)

	// A second closure of the same lineage appends, never overwrites.
	id2, err := store.RecordClosure(ctx, rec)
	require.NoError(t, err)
	assert.Greater(t, id2, id)
}

func TestStore_Settings(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	// Unset key reads as empty without error.
	value, err := store.GetSetting(ctx, domain.SettingAutoReopenEnabled)
	require.NoError(t, err)
	assert.Equal(t, "", value)

	require.NoError(t, store.SetSetting(ctx, domain.SettingAutoReopenEnabled, "true"))
	value, err = store.GetSetting(ctx, domain.SettingAutoReopenEnabled)
	require.NoError(t, err)
	assert.Equal(t, "true", value)

	// Upsert replaces the previous value.
	require.NoError(t, store.SetSetting(ctx, domain.SettingAutoReopenEnabled, "false"))
	value, err = store.GetSetting(ctx, domain.SettingAutoReopenEnabled)
	require.NoError(t, err)
	assert.Equal(t, "false", value)
}
