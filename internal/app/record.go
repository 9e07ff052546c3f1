package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"positionKeeper/internal/domain"
	"positionKeeper/internal/ports"
)

// maxUpdateAttempts bounds the reload-and-retry cycle on version conflicts.
const maxUpdateAttempts = 3

// errSkipUpdate is returned by a mutate callback when the freshly loaded
// record shows another loop already performed the transition. The caller
// treats it as "nothing to do", not a failure.
var errSkipUpdate = errors.New("record state already advanced, update skipped")

// applyRecordUpdate performs a read-modify-write against the store as one
// atomic full-record replace. On a concurrency conflict the whole cycle
// restarts from a fresh load, so interleaved writes from the other loops can
// never produce a partially applied record. Returns the updated record.
func applyRecordUpdate(ctx context.Context, store ports.PositionStore, id int64, mutate func(*domain.Position) error) (*domain.Position, error) {
	for attempt := 1; ; attempt++ {
		pos, err := store.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if pos == nil {
			return nil, fmt.Errorf("position %d: %w", id, ports.ErrNotFound)
		}
		if err := mutate(pos); err != nil {
			return nil, err
		}
		err = store.Update(ctx, pos)
		if err == nil {
			return pos, nil
		}
		if !errors.Is(err, ports.ErrConcurrencyConflict) || attempt >= maxUpdateAttempts {
			return nil, err
		}
	}
}

// callContext bounds a single gateway or store call within a tick.
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
