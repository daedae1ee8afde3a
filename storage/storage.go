// Package storage persists the set of already-notified orders and the sync
// cursor in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // database/sql driver

	"uzum-order-notifier/pkg/orders"
)

// bootstrapLookback bounds the first fetch window when no cursor has ever
// been recorded, instead of pulling unbounded history.
const bootstrapLookback = 24 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    order_id     TEXT PRIMARY KEY,
    processed_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS check_times (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    last_check INTEGER NOT NULL
);
`

// Store records which orders have been notified and when the last sync pass
// completed. The scheduler and the command gateway share one Store; writes
// are serialized.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu sync.Mutex // serializes writes
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// HasNotified reports whether a notification for the order was already sent.
func (s *Store) HasNotified(ctx context.Context, id orders.ID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE order_id = ?)",
		string(id),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query seen set: %w", err)
	}
	return exists, nil
}

// MarkNotified records that the order has been announced. Marking the same
// order twice is a no-op; once present an id is never removed.
func (s *Store) MarkNotified(ctx context.Context, id orders.ID) error {
	if id == "" {
		return errors.New("order id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO orders (order_id, processed_at) VALUES (?, ?)",
		string(id), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert seen record: %w", err)
	}
	return nil
}

// NotifiedCount returns how many orders have been announced so far.
func (s *Store) NotifiedCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&count); err != nil {
		return 0, fmt.Errorf("count seen records: %w", err)
	}
	return count, nil
}

// Cursor returns the time of the last completed sync pass, or now minus the
// bootstrap look-back when none has been recorded.
func (s *Store) Cursor(ctx context.Context) (time.Time, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		"SELECT last_check FROM check_times ORDER BY id DESC LIMIT 1",
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Now().Add(-bootstrapLookback).UTC(), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query cursor: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// AdvanceCursor appends a new cursor row. The history is append-only and the
// latest row wins; the cursor never moves backwards.
func (s *Store) AdvanceCursor(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(last_check) FROM check_times",
	).Scan(&latest)
	if err != nil {
		return fmt.Errorf("query cursor: %w", err)
	}
	if latest.Valid && t.UnixMilli() < latest.Int64 {
		return fmt.Errorf("cursor regression: %s is before stored %s",
			t.UTC().Format(time.RFC3339),
			time.UnixMilli(latest.Int64).UTC().Format(time.RFC3339))
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO check_times (last_check) VALUES (?)",
		t.UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert cursor: %w", err)
	}

	s.logger.Debug("cursor advanced", "to", t.UTC().Format(time.RFC3339))
	return nil
}
