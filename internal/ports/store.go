package ports

import (
	"context"
	"time"

	"positionKeeper/internal/domain"
)

// PositionStore defines the interface for persisting position records and
// runtime settings. Updates replace the whole record atomically; concurrent
// modification surfaces as ErrConcurrencyConflict and is retryable.
type PositionStore interface {
	// Create saves a new position and returns its assigned ID.
	Create(ctx context.Context, pos *domain.Position) (int64, error)
	// Update replaces an existing record, guarded by its Version field.
	// A stale Version yields ErrConcurrencyConflict.
	Update(ctx context.Context, pos *domain.Position) error
	// FindByID retrieves a position by its local id. Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Position, error)
	// FindOpen retrieves all records currently flagged open.
	FindOpen(ctx context.Context) ([]*domain.Position, error)
	// FindClosedSince retrieves closed records whose closure happened at or
	// after the cutoff. The reopen queue is re-derived from this set, so a
	// process restart between closure and reopen never strands a record.
	FindClosedSince(ctx context.Context, cutoff time.Time) ([]*domain.Position, error)

	// RecordClosure appends a history row for a detected closure.
	RecordClosure(ctx context.Context, rec *domain.ClosureRecord) (int64, error)

	// GetSetting returns the stored value for a key, or "" when unset.
	GetSetting(ctx context.Context, key string) (string, error)
	// SetSetting stores a value for a key, replacing any previous value.
	SetSetting(ctx context.Context, key, value string) error
}
