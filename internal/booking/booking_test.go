package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	appLog "github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/log"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/model"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/slots"
)

func init() {
	appLog.Setup("test")
}

var now = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

func at(day, hour, min int) time.Time {
	return time.Date(2026, 1, day, hour, min, 0, 0, time.UTC)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&model.Booking{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return NewStore(db)
}

// calendarBusy is a fixed upstream calendar merged with the store.
func calendarBusy(store *Store, fixed ...model.BusyInterval) slots.BusySource {
	return slots.BusySourceFunc(func(ctx context.Context, from, to time.Time) ([]model.BusyInterval, error) {
		busy, err := store.FetchBusy(ctx, from, to)
		if err != nil {
			return nil, err
		}
		return append(busy, fixed...), nil
	})
}

type recordingObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *recordingObserver) ObserveBooking(op, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, op+":"+result)
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	b := &model.Booking{Summary: "Intro call", Attendee: "a@example.com", StartsAt: at(5, 10, 0), EndsAt: at(5, 10, 30)}
	if err := store.Create(ctx, b); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if b.ID == "" || b.Status != model.BookingConfirmed {
		t.Fatalf("Create() left ID=%q Status=%q", b.ID, b.Status)
	}

	got, err := store.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.StartsAt.Equal(b.StartsAt) || !got.EndsAt.Equal(b.EndsAt) {
		t.Errorf("Get() = [%s, %s), want [%s, %s)", got.StartsAt, got.EndsAt, b.StartsAt, b.EndsAt)
	}

	moved, err := store.Reschedule(ctx, b.ID, at(5, 11, 0), at(5, 11, 30))
	if err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	if !moved.StartsAt.Equal(at(5, 11, 0)) {
		t.Errorf("Reschedule() start = %s", moved.StartsAt)
	}

	busy, err := store.FetchBusy(ctx, at(5, 0, 0), at(6, 0, 0))
	if err != nil || len(busy) != 1 {
		t.Fatalf("FetchBusy() = %v, %v", busy, err)
	}
	if busy[0].SourceID != model.BookingSourceID || busy[0].UID != b.ID {
		t.Errorf("FetchBusy() tagged %q/%q", busy[0].SourceID, busy[0].UID)
	}

	if _, err := store.Cancel(ctx, b.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if _, err := store.Cancel(ctx, b.ID); err != nil {
		t.Fatalf("second Cancel() error = %v", err)
	}
	busy, err = store.FetchBusy(ctx, at(5, 0, 0), at(6, 0, 0))
	if err != nil || len(busy) != 0 {
		t.Fatalf("FetchBusy() after cancel = %v, %v", busy, err)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStoreFetchBusyWindow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, iv := range [][2]time.Time{
		{at(5, 9, 0), at(5, 10, 0)},
		{at(5, 12, 0), at(5, 13, 0)},
		{at(6, 9, 0), at(6, 10, 0)},
	} {
		if err := store.Create(ctx, &model.Booking{StartsAt: iv[0], EndsAt: iv[1]}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name     string
		from, to time.Time
		want     int
	}{
		{"whole day", at(5, 0, 0), at(6, 0, 0), 2},
		{"touching both ends", at(5, 10, 0), at(5, 12, 0), 0},
		{"partial overlap", at(5, 9, 30), at(5, 12, 30), 2},
		{"next day only", at(6, 0, 0), at(7, 0, 0), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			busy, err := store.FetchBusy(ctx, tt.from, tt.to)
			if err != nil {
				t.Fatalf("FetchBusy() error = %v", err)
			}
			if len(busy) != tt.want {
				t.Errorf("FetchBusy() = %d intervals, want %d", len(busy), tt.want)
			}
		})
	}
}

func TestServiceBook(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	meeting := model.BusyInterval{Interval: model.Interval{Start: at(5, 14, 0), End: at(5, 15, 0)}, SourceID: "work"}
	obs := &recordingObserver{}
	svc := NewService(store, calendarBusy(store, meeting), NewMemoryLocker(), WithClock(func() time.Time { return now }), WithObserver(obs))

	first, err := svc.Book(ctx, BookRequest{Summary: " Intro ", Attendee: "a@example.com", Start: at(5, 10, 0), End: at(5, 10, 30)})
	if err != nil {
		t.Fatalf("Book() error = %v", err)
	}
	if first.Summary != "Intro" {
		t.Errorf("Book() summary = %q", first.Summary)
	}

	tests := []struct {
		name    string
		req     BookRequest
		wantErr error
	}{
		{"overlaps a booking", BookRequest{Start: at(5, 10, 15), End: at(5, 10, 45)}, ErrSlotTaken},
		{"overlaps the calendar", BookRequest{Start: at(5, 14, 30), End: at(5, 15, 0)}, ErrSlotTaken},
		{"touching a booking", BookRequest{Start: at(5, 10, 30), End: at(5, 11, 0)}, nil},
		{"touching the calendar", BookRequest{Start: at(5, 15, 0), End: at(5, 15, 30)}, nil},
		{"in the past", BookRequest{Start: at(5, 7, 0), End: at(5, 7, 30)}, slots.ErrInvalidRequest},
		{"inverted", BookRequest{Start: at(5, 12, 0), End: at(5, 11, 0)}, slots.ErrInvalidRequest},
		{"missing start", BookRequest{End: at(5, 11, 0)}, slots.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Book(ctx, tt.req)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Book() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Book() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if len(obs.results) != 1+len(tests) || obs.results[0] != "book:ok" || obs.results[1] != "book:taken" {
		t.Errorf("observer results = %v", obs.results)
	}
}

func TestServiceBookGatewayFailure(t *testing.T) {
	store := newTestStore(t)
	broken := slots.BusySourceFunc(func(context.Context, time.Time, time.Time) ([]model.BusyInterval, error) {
		return nil, errors.New("feed unreachable")
	})
	svc := NewService(store, broken, nil, WithClock(func() time.Time { return now }))

	_, err := svc.Book(context.Background(), BookRequest{Start: at(5, 10, 0), End: at(5, 10, 30)})
	if !errors.Is(err, slots.ErrGateway) {
		t.Fatalf("Book() error = %v, want gateway error", err)
	}
	busy, _ := store.FetchBusy(context.Background(), at(5, 0, 0), at(6, 0, 0))
	if len(busy) != 0 {
		t.Errorf("booking stored despite gateway failure: %v", busy)
	}
}

func TestServiceBookLockBusy(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	locker := NewMemoryLocker()
	svc := NewService(store, store, locker, WithClock(func() time.Time { return now }))

	token, ok, err := locker.TryLock(ctx, lockKey, time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}
	if _, err := svc.Book(ctx, BookRequest{Start: at(5, 10, 0), End: at(5, 10, 30)}); !errors.Is(err, ErrLockBusy) {
		t.Fatalf("Book() error = %v, want ErrLockBusy", err)
	}
	_ = locker.Unlock(ctx, lockKey, token)
	if _, err := svc.Book(ctx, BookRequest{Start: at(5, 10, 0), End: at(5, 10, 30)}); err != nil {
		t.Fatalf("Book() after unlock error = %v", err)
	}
}

func TestServiceConcurrentBookingsOfOneSlot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewService(store, store, NewMemoryLocker(), WithClock(func() time.Time { return now }))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Book(ctx, BookRequest{Start: at(5, 10, 0), End: at(5, 10, 30)})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrSlotTaken) && !errors.Is(err, ErrLockBusy) {
				t.Errorf("Book() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if success > 1 {
		t.Fatalf("%d concurrent bookings of one slot succeeded", success)
	}
	busy, err := store.FetchBusy(ctx, at(5, 0, 0), at(6, 0, 0))
	if err != nil || len(busy) > 1 {
		t.Fatalf("stored bookings = %v, %v", busy, err)
	}
}

func TestServiceRescheduleAndCancel(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewService(store, store, NewMemoryLocker(), WithClock(func() time.Time { return now }))

	a, err := svc.Book(ctx, BookRequest{Start: at(5, 10, 0), End: at(5, 11, 0)})
	if err != nil {
		t.Fatalf("Book(a) error = %v", err)
	}
	b, err := svc.Book(ctx, BookRequest{Start: at(5, 13, 0), End: at(5, 14, 0)})
	if err != nil {
		t.Fatalf("Book(b) error = %v", err)
	}

	// Sliding over its own old interval is fine.
	moved, err := svc.Reschedule(ctx, a.ID, at(5, 10, 30), at(5, 11, 30))
	if err != nil {
		t.Fatalf("Reschedule(a) error = %v", err)
	}
	if !moved.StartsAt.Equal(at(5, 10, 30)) {
		t.Errorf("Reschedule(a) start = %s", moved.StartsAt)
	}

	if _, err := svc.Reschedule(ctx, a.ID, at(5, 13, 30), at(5, 14, 30)); !errors.Is(err, ErrSlotTaken) {
		t.Errorf("Reschedule(a onto b) error = %v, want ErrSlotTaken", err)
	}
	if _, err := svc.Reschedule(ctx, "missing", at(5, 16, 0), at(5, 17, 0)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reschedule(missing) error = %v, want ErrNotFound", err)
	}

	if _, err := svc.Cancel(ctx, b.ID); err != nil {
		t.Fatalf("Cancel(b) error = %v", err)
	}
	if _, err := svc.Reschedule(ctx, b.ID, at(5, 16, 0), at(5, 17, 0)); !errors.Is(err, ErrCancelled) {
		t.Errorf("Reschedule(cancelled) error = %v, want ErrCancelled", err)
	}
	// b's old time is free again.
	if _, err := svc.Reschedule(ctx, a.ID, at(5, 13, 30), at(5, 14, 30)); err != nil {
		t.Errorf("Reschedule(a into freed time) error = %v", err)
	}
	if _, err := svc.Cancel(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	clock := now
	l := NewMemoryLocker()
	l.now = func() time.Time { return clock }

	token, ok, _ := l.TryLock(ctx, "k", time.Minute)
	if !ok {
		t.Fatal("first TryLock() not acquired")
	}
	if _, ok, _ := l.TryLock(ctx, "k", time.Minute); ok {
		t.Fatal("second TryLock() acquired a held lock")
	}
	if err := l.Unlock(ctx, "k", "someone-else"); err != nil {
		t.Fatalf("Unlock(foreign) error = %v", err)
	}
	if _, ok, _ := l.TryLock(ctx, "k", time.Minute); ok {
		t.Fatal("foreign token released the lock")
	}

	clock = clock.Add(2 * time.Minute)
	if _, ok, _ := l.TryLock(ctx, "k", time.Minute); !ok {
		t.Fatal("expired lock not reacquired")
	}
	_ = l.Unlock(ctx, "k", token)
}
