// Package poll runs the order sync loop: fetch orders since the cursor, skip
// the ones already announced, notify the rest, and advance the cursor.
package poll

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"uzum-order-notifier/pkg/orders"
)

// Source fetches orders created at or after a time, oldest first.
type Source interface {
	OrdersSince(ctx context.Context, from time.Time) ([]orders.Order, error)
}

// Store is the seen-set and cursor persistence.
type Store interface {
	HasNotified(ctx context.Context, id orders.ID) (bool, error)
	MarkNotified(ctx context.Context, id orders.ID) error
	Cursor(ctx context.Context) (time.Time, error)
	AdvanceCursor(ctx context.Context, t time.Time) error
}

// Notifier delivers the notification for one order.
type Notifier interface {
	NotifyOrder(ctx context.Context, o orders.Order) error
}

// Monitor orchestrates sync passes. The scheduler and the command gateway
// share one Monitor; at most one pass runs at a time.
type Monitor struct {
	source   Source
	store    Store
	notifier Notifier
	logger   *slog.Logger

	mu sync.Mutex // held for the duration of one pass
}

// New creates a sync monitor.
func New(source Source, store Store, notifier Notifier, logger *slog.Logger) *Monitor {
	return &Monitor{
		source:   source,
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// Check runs one sync pass. Concurrent callers are serialized.
//
// The cursor advances to the wall-clock time at pass start, not to the newest
// order's timestamp, so orders whose server timestamps land slightly out of
// order inside the window are not skipped. It advances only after the pass
// completes; a fetch, auth, or store failure leaves it untouched and the same
// window is retried next pass. Each order is delivered before it is marked,
// so a crash between the two can produce a duplicate notification on the
// next pass but never a silently dropped one.
func (m *Monitor) Check(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now().UTC()

	cursor, err := m.store.Cursor(ctx)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}

	m.logger.Info("checking for new orders", "since", cursor.Format(time.RFC3339))

	fetched, err := m.source.OrdersSince(ctx, cursor)
	if err != nil {
		return fmt.Errorf("fetch orders: %w", err)
	}

	// The API sorts by createdAt ascending; keep that promise even if it
	// doesn't.
	slices.SortStableFunc(fetched, func(a, b orders.Order) int {
		return cmp.Compare(a.CreatedAt, b.CreatedAt)
	})

	var notified, alreadySeen, failed int
	for i := range fetched {
		o := fetched[i]

		seen, err := m.store.HasNotified(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("check seen set: %w", err)
		}
		if seen {
			alreadySeen++
			continue
		}

		if err := m.notifier.NotifyOrder(ctx, o); err != nil {
			// Best-effort delivery: the order stays unmarked, the pass
			// continues with the rest.
			m.logger.Warn("order notification failed", "order_id", string(o.ID), "error", err)
			failed++
			continue
		}

		if err := m.store.MarkNotified(ctx, o.ID); err != nil {
			return fmt.Errorf("mark notified: %w", err)
		}
		notified++
	}

	if err := m.store.AdvanceCursor(ctx, start); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}

	m.logger.Info("order check completed",
		"fetched", len(fetched),
		"notified", notified,
		"already_seen", alreadySeen,
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds())

	return nil
}
