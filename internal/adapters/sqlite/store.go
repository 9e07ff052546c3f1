package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"positionKeeper/internal/domain"
	"positionKeeper/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store implements the ports.PositionStore interface using SQLite.
type Store struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite store.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewStore creates a new SQLite store instance.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite store")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/position_keeper.db" // Default path
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the three loops
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally, but the Go driver benefits from
	// a single connection when three loops write to the same rows.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{db: db, logger: cfg.Logger}

	if err := store.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite store initialized", map[string]interface{}{"path": dbPath})

	return store, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: This is a basic approach. A proper migration tool is recommended for production.
func (s *Store) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		amount_usdt REAL NOT NULL,
		leverage INTEGER NOT NULL,
		margin_mode TEXT NOT NULL,
		entry_price REAL NOT NULL DEFAULT 0,
		quantity REAL NOT NULL DEFAULT 0,
		remote_position_id TEXT NOT NULL DEFAULT '',
		take_profit_usdt REAL NOT NULL,
		stop_loss_usdt REAL NOT NULL,
		take_profit_order_id TEXT DEFAULT NULL,
		stop_loss_order_id TEXT DEFAULT NULL,
		is_open INTEGER NOT NULL DEFAULT 1,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL,
		pnl REAL NOT NULL DEFAULT 0,
		close_reason TEXT NOT NULL DEFAULT '',
		reopen_count INTEGER NOT NULL DEFAULT 0,
		mark_price REAL NOT NULL DEFAULT 0,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		recovery_count INTEGER NOT NULL DEFAULT 0,
		last_recovery_at TIMESTAMP DEFAULT NULL,
		version INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS position_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		quantity REAL NOT NULL,
		leverage INTEGER NOT NULL,
		pnl REAL NOT NULL,
		close_reason TEXT NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_is_open ON positions (is_open);
	CREATE INDEX IF NOT EXISTS idx_position_history_position_id ON position_history (position_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info(context.Background(), "Closing SQLite store")
		return s.db.Close()
	}
	return nil
}

// --- PositionStore Implementation ---

// Create saves a new position and returns its assigned ID.
func (s *Store) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (symbol, side, amount_usdt, leverage, margin_mode, entry_price,
	                       quantity, remote_position_id, take_profit_usdt, stop_loss_usdt,
	                       take_profit_order_id, stop_loss_order_id, is_open, opened_at,
	                       closed_at, pnl, close_reason, reopen_count, mark_price,
	                       unrealized_pnl, recovery_count, last_recovery_at, version)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`

	result, err := s.db.ExecContext(ctx, query,
		pos.Symbol, pos.Side, pos.AmountUSDT, pos.Leverage, pos.MarginMode, pos.EntryPrice,
		pos.Quantity, pos.RemotePositionID, pos.TakeProfitUSDT, pos.StopLossUSDT,
		pos.TakeProfitOrderID, pos.StopLossOrderID, pos.IsOpen, pos.OpenedAt,
		nullTime(pos.ClosedAt), pos.PNL, pos.CloseReason, pos.ReopenCount, pos.MarkPrice,
		pos.UnrealizedPNL, pos.RecoveryCount, nullTime(pos.LastRecoveryAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert position for symbol %s: %w", pos.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for position %s: %w", pos.Symbol, err)
	}
	pos.ID = id
	pos.Version = 0
	s.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "symbol": pos.Symbol})
	return id, nil
}

// Update replaces the whole record, guarded by the version stamp. A stale
// version yields ports.ErrConcurrencyConflict so callers retry from a fresh load.
func (s *Store) Update(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET symbol = ?, side = ?, amount_usdt = ?, leverage = ?, margin_mode = ?,
	    entry_price = ?, quantity = ?, remote_position_id = ?, take_profit_usdt = ?,
	    stop_loss_usdt = ?, take_profit_order_id = ?, stop_loss_order_id = ?,
	    is_open = ?, opened_at = ?, closed_at = ?, pnl = ?, close_reason = ?,
	    reopen_count = ?, mark_price = ?, unrealized_pnl = ?, recovery_count = ?,
	    last_recovery_at = ?, version = version + 1
	WHERE id = ? AND version = ?`

	result, err := s.db.ExecContext(ctx, query,
		pos.Symbol, pos.Side, pos.AmountUSDT, pos.Leverage, pos.MarginMode,
		pos.EntryPrice, pos.Quantity, pos.RemotePositionID, pos.TakeProfitUSDT,
		pos.StopLossUSDT, pos.TakeProfitOrderID, pos.StopLossOrderID,
		pos.IsOpen, pos.OpenedAt, nullTime(pos.ClosedAt), pos.PNL, pos.CloseReason,
		pos.ReopenCount, pos.MarkPrice, pos.UnrealizedPNL, pos.RecoveryCount,
		nullTime(pos.LastRecoveryAt),
		pos.ID, pos.Version)
	if err != nil {
		return fmt.Errorf("failed to update position ID %d: %w", pos.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update position ID %d: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		// Distinguish a missing row from a stale version
		existing, findErr := s.FindByID(ctx, pos.ID)
		if findErr != nil {
			return findErr
		}
		if existing == nil {
			return fmt.Errorf("position ID %d not found for update: %w", pos.ID, ports.ErrNotFound)
		}
		return fmt.Errorf("position ID %d modified concurrently (have version %d, stored %d): %w",
			pos.ID, pos.Version, existing.Version, ports.ErrConcurrencyConflict)
	}
	pos.Version++
	s.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol, "isOpen": pos.IsOpen, "version": pos.Version})
	return nil
}

const positionColumns = `id, symbol, side, amount_usdt, leverage, margin_mode, entry_price,
       quantity, remote_position_id, take_profit_usdt, stop_loss_usdt,
       take_profit_order_id, stop_loss_order_id, is_open, opened_at, closed_at,
       pnl, close_reason, reopen_count, mark_price, unrealized_pnl,
       recovery_count, last_recovery_at, version`

// FindByID retrieves a position by its local id.
func (s *Store) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query position by ID %d: %w", id, err)
	}
	return pos, nil
}

// FindOpen retrieves all records currently flagged open, oldest first.
func (s *Store) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE is_open = 1 ORDER BY opened_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindOpen: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// FindClosedSince retrieves closed records whose closure happened at or after
// the cutoff, oldest closure first.
func (s *Store) FindClosedSince(ctx context.Context, cutoff time.Time) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
	          WHERE is_open = 0 AND closed_at IS NOT NULL AND closed_at >= ?
	          ORDER BY closed_at ASC`

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed positions since %s: %w", cutoff, err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindClosedSince: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating closed position rows: %w", err)
	}
	return positions, nil
}

// RecordClosure appends a history row for a detected closure.
func (s *Store) RecordClosure(ctx context.Context, rec *domain.ClosureRecord) (int64, error) {
	const query = `
	INSERT INTO position_history (position_id, symbol, side, entry_price, quantity,
	                              leverage, pnl, close_reason, opened_at, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		rec.PositionID, rec.Symbol, rec.Side, rec.EntryPrice, rec.Quantity,
		rec.Leverage, rec.PNL, rec.CloseReason, rec.OpenedAt, rec.ClosedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert closure record for position %d: %w", rec.PositionID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for closure record: %w", err)
	}
	rec.ID = id
	s.logger.Debug(ctx, "Closure recorded", map[string]interface{}{"positionID": rec.PositionID, "pnl": rec.PNL, "reason": rec.CloseReason})
	return id, nil
}

// GetSetting returns the stored value for a key, or "" when unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	const query = `SELECT value FROM settings WHERE key = ?`
	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting stores a value for a key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	const query = `INSERT INTO settings (key, value) VALUES (?, ?)
	               ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to store setting %q: %w", key, err)
	}
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(sc scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var (
		side           string
		marginMode     string
		closeReason    string
		closedAt       sql.NullTime
		lastRecoveryAt sql.NullTime
		tpOrderID      sql.NullString
		slOrderID      sql.NullString
	)
	err := sc.Scan(
		&p.ID, &p.Symbol, &side, &p.AmountUSDT, &p.Leverage, &marginMode, &p.EntryPrice,
		&p.Quantity, &p.RemotePositionID, &p.TakeProfitUSDT, &p.StopLossUSDT,
		&tpOrderID, &slOrderID, &p.IsOpen, &p.OpenedAt, &closedAt,
		&p.PNL, &closeReason, &p.ReopenCount, &p.MarkPrice, &p.UnrealizedPNL,
		&p.RecoveryCount, &lastRecoveryAt, &p.Version)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	p.Side = domain.Side(side)
	p.MarginMode = domain.MarginMode(marginMode)
	p.CloseReason = domain.CloseReason(closeReason)
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	if lastRecoveryAt.Valid {
		t := lastRecoveryAt.Time
		p.LastRecoveryAt = &t
	}
	if tpOrderID.Valid {
		v := tpOrderID.String
		p.TakeProfitOrderID = &v
	}
	if slOrderID.Valid {
		v := slOrderID.String
		p.StopLossOrderID = &v
	}
	return p, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
