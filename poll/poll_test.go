package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"uzum-order-notifier/pkg/orders"
)

type fakeSource struct {
	mu     sync.Mutex
	orders []orders.Order
	err    error
	calls  int
	from   []time.Time
}

func (f *fakeSource) OrdersSince(_ context.Context, from time.Time) ([]orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.from = append(f.from, from)
	if f.err != nil {
		return nil, f.err
	}
	return f.orders, nil
}

type fakeStore struct {
	mu         sync.Mutex
	seen       map[orders.ID]bool
	cursor     time.Time
	advanced   []time.Time
	hasErr     error
	markErr    error
	cursorErr  error
	advanceErr error
}

func newFakeStore(cursor time.Time) *fakeStore {
	return &fakeStore{seen: make(map[orders.ID]bool), cursor: cursor}
}

func (f *fakeStore) HasNotified(_ context.Context, id orders.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasErr != nil {
		return false, f.hasErr
	}
	return f.seen[id], nil
}

func (f *fakeStore) MarkNotified(_ context.Context, id orders.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.seen[id] = true
	return nil
}

func (f *fakeStore) Cursor(context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursorErr != nil {
		return time.Time{}, f.cursorErr
	}
	return f.cursor, nil
}

func (f *fakeStore) AdvanceCursor(_ context.Context, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advanceErr != nil {
		return f.advanceErr
	}
	if len(f.advanced) > 0 && t.Before(f.advanced[len(f.advanced)-1]) {
		return errors.New("cursor regression")
	}
	f.advanced = append(f.advanced, t)
	f.cursor = t
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []orders.ID
	failFor map[orders.ID]error
}

func (f *fakeNotifier) NotifyOrder(_ context.Context, o orders.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[o.ID]; err != nil {
		return err
	}
	f.sent = append(f.sent, o.ID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func order(id string, createdAt time.Time) orders.Order {
	return orders.Order{ID: orders.ID(id), CreatedAt: orders.Millis(createdAt.UnixMilli())}
}

func TestCheckNotifiesNewOrdersInCreationOrder(t *testing.T) {
	cursor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := cursor.Add(time.Hour)
	t2 := cursor.Add(2 * time.Hour)

	// Deliberately out of order to exercise the defensive sort.
	source := &fakeSource{orders: []orders.Order{order("B", t2), order("A", t1)}}
	store := newFakeStore(cursor)
	notifier := &fakeNotifier{}

	before := time.Now().UTC()
	m := New(source, store, notifier, testLogger())
	if err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	after := time.Now().UTC()

	if len(notifier.sent) != 2 || notifier.sent[0] != "A" || notifier.sent[1] != "B" {
		t.Errorf("notified order = %v, want [A B]", notifier.sent)
	}
	if !store.seen["A"] || !store.seen["B"] {
		t.Errorf("seen set = %v, want A and B marked", store.seen)
	}
	if len(source.from) != 1 || !source.from[0].Equal(cursor) {
		t.Errorf("fetch window start = %v, want %v", source.from, cursor)
	}

	if len(store.advanced) != 1 {
		t.Fatalf("cursor advanced %d times, want 1", len(store.advanced))
	}
	got := store.advanced[0]
	if got.Before(before) || got.After(after) {
		t.Errorf("cursor advanced to %v, want pass start between %v and %v", got, before, after)
	}
}

func TestCheckSkipsAlreadySeenOrders(t *testing.T) {
	cursor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{orders: []orders.Order{
		order("A", cursor.Add(time.Minute)),
		order("B", cursor.Add(2 * time.Minute)),
		order("C", cursor.Add(3 * time.Minute)),
	}}
	store := newFakeStore(cursor)
	store.seen["A"] = true
	store.seen["B"] = true
	notifier := &fakeNotifier{}

	m := New(source, store, notifier, testLogger())
	if err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	if len(notifier.sent) != 1 || notifier.sent[0] != "C" {
		t.Errorf("notified = %v, want [C]", notifier.sent)
	}
}

func TestCheckIdempotentAcrossPasses(t *testing.T) {
	cursor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{orders: []orders.Order{
		order("A", cursor.Add(time.Minute)),
		order("B", cursor.Add(2 * time.Minute)),
	}}
	store := newFakeStore(cursor)
	notifier := &fakeNotifier{}

	m := New(source, store, notifier, testLogger())
	for range 2 {
		if err := m.Check(context.Background()); err != nil {
			t.Fatalf("Check() error = %v", err)
		}
	}

	if len(notifier.sent) != 2 {
		t.Errorf("notified %d times across two passes, want 2 (once per order)", len(notifier.sent))
	}
}

func TestCheckCollapsesDuplicateIDsWithinFetch(t *testing.T) {
	cursor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := order("A", cursor.Add(time.Minute))
	source := &fakeSource{orders: []orders.Order{a, a}}
	store := newFakeStore(cursor)
	notifier := &fakeNotifier{}

	m := New(source, store, notifier, testLogger())
	if err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	if len(notifier.sent) != 1 {
		t.Errorf("notified %d times, want 1", len(notifier.sent))
	}
}

func TestCheckEmptyFetchAdvancesCursor(t *testing.T) {
	store := newFakeStore(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m := New(&fakeSource{}, store, &fakeNotifier{}, testLogger())

	if err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(store.advanced) != 1 {
		t.Errorf("cursor advanced %d times, want 1", len(store.advanced))
	}
}

func TestCheckFetchErrorLeavesStateUntouched(t *testing.T) {
	store := newFakeStore(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	notifier := &fakeNotifier{}
	source := &fakeSource{err: errors.New("context deadline exceeded")}

	m := New(source, store, notifier, testLogger())
	if err := m.Check(context.Background()); err == nil {
		t.Fatal("Check() error = nil, want fetch error")
	}

	if len(notifier.sent) != 0 {
		t.Errorf("notified = %v, want none", notifier.sent)
	}
	if len(store.seen) != 0 {
		t.Errorf("seen set = %v, want empty", store.seen)
	}
	if len(store.advanced) != 0 {
		t.Errorf("cursor advanced %d times, want 0", len(store.advanced))
	}
}

func TestCheckNotifyFailureSkipsMarkButContinues(t *testing.T) {
	cursor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{orders: []orders.Order{
		order("A", cursor.Add(time.Minute)),
		order("B", cursor.Add(2 * time.Minute)),
	}}
	store := newFakeStore(cursor)
	notifier := &fakeNotifier{failFor: map[orders.ID]error{"A": errors.New("send failed")}}

	m := New(source, store, notifier, testLogger())
	if err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v, want nil (order-level failures don't abort)", err)
	}

	if store.seen["A"] {
		t.Error("order A marked notified despite failed send")
	}
	if !store.seen["B"] {
		t.Error("order B not marked notified")
	}
	if len(store.advanced) != 1 {
		t.Errorf("cursor advanced %d times, want 1", len(store.advanced))
	}
}

func TestCheckStoreErrorAbortsWithoutAdvancing(t *testing.T) {
	cursor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{orders: []orders.Order{order("A", cursor.Add(time.Minute))}}

	t.Run("seen-set read", func(t *testing.T) {
		store := newFakeStore(cursor)
		store.hasErr = errors.New("db locked")
		m := New(source, store, &fakeNotifier{}, testLogger())
		if err := m.Check(context.Background()); err == nil {
			t.Fatal("Check() error = nil, want store error")
		}
		if len(store.advanced) != 0 {
			t.Error("cursor advanced despite store failure")
		}
	})

	t.Run("mark", func(t *testing.T) {
		store := newFakeStore(cursor)
		store.markErr = errors.New("db locked")
		m := New(source, store, &fakeNotifier{}, testLogger())
		if err := m.Check(context.Background()); err == nil {
			t.Fatal("Check() error = nil, want store error")
		}
		if len(store.advanced) != 0 {
			t.Error("cursor advanced despite store failure")
		}
	})

	t.Run("cursor read", func(t *testing.T) {
		store := newFakeStore(cursor)
		store.cursorErr = errors.New("db locked")
		m := New(source, store, &fakeNotifier{}, testLogger())
		if err := m.Check(context.Background()); err == nil {
			t.Fatal("Check() error = nil, want store error")
		}
	})
}

// blockingNotifier tracks how many notifications are in flight at once.
type blockingNotifier struct {
	active  atomic.Int32
	overlap atomic.Bool
}

func (b *blockingNotifier) NotifyOrder(context.Context, orders.Order) error {
	if b.active.Add(1) > 1 {
		b.overlap.Store(true)
	}
	time.Sleep(5 * time.Millisecond)
	b.active.Add(-1)
	return nil
}

// forgetfulStore never remembers an order, forcing a notification on every
// pass.
type forgetfulStore struct{ fakeStore }

func (*forgetfulStore) HasNotified(context.Context, orders.ID) (bool, error) { return false, nil }
func (*forgetfulStore) MarkNotified(context.Context, orders.ID) error        { return nil }

func TestCheckSerializesConcurrentPasses(t *testing.T) {
	cursor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	notifier := &blockingNotifier{}
	store := &forgetfulStore{}
	store.seen = make(map[orders.ID]bool)
	store.cursor = cursor
	m := New(&fakeSource{orders: []orders.Order{order("A", cursor.Add(time.Minute))}}, store, notifier, testLogger())

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Check(context.Background())
		}()
	}
	wg.Wait()

	if notifier.overlap.Load() {
		t.Error("two sync passes ran concurrently")
	}
}

func TestSchedulerRetriesAfterFailureAndKeepsRunning(t *testing.T) {
	source := &fakeSource{err: errors.New("api down")}
	store := newFakeStore(time.Now().UTC())
	m := New(source, store, &fakeNotifier{}, testLogger())

	// Long interval, tiny cooldown: repeated calls prove the failure path
	// reschedules instead of exiting.
	s := NewScheduler(m, time.Hour, 5*time.Millisecond, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on context cancellation")
	}

	source.mu.Lock()
	calls := source.calls
	source.mu.Unlock()
	if calls < 2 {
		t.Errorf("scheduler ran %d passes, want at least 2 (cooldown retry)", calls)
	}
}
