package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	appLog "github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/log"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/model"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/slots"
)

const (
	lockKey        = "slotcal:booking"
	defaultLockTTL = 10 * time.Second
)

// Observer receives the outcome of each write. result is one of "ok",
// "invalid", "taken", "lock_busy", "gateway_error", "not_found", "error".
type Observer interface {
	ObserveBooking(op, result string)
}

// BookRequest describes a new reservation.
type BookRequest struct {
	Summary  string    `json:"summary"`
	Attendee string    `json:"attendee"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// Service turns slot hints into bookings. A generated slot can be taken
// between generation and booking, so every write re-reads the busy set for
// the requested bounds under a lock before committing.
type Service struct {
	store    *Store
	busy     slots.BusySource
	locker   Locker
	lockTTL  time.Duration
	now      func() time.Time
	observer Observer
	log      appLog.Logger
}

type Option func(*Service)

func WithLockTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// NewService builds a Service. busy should include store so confirmed
// bookings count as busy; a nil locker means an in-process MemoryLocker.
func NewService(store *Store, busy slots.BusySource, locker Locker, opts ...Option) *Service {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	s := &Service{
		store:   store,
		busy:    busy,
		locker:  locker,
		lockTTL: defaultLockTTL,
		now:     time.Now,
		log:     appLog.With("component", "booking"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Get(ctx context.Context, id string) (*model.Booking, error) {
	return s.store.Get(ctx, id)
}

// Book reserves [req.Start, req.End) if nothing busy overlaps it.
func (s *Service) Book(ctx context.Context, req BookRequest) (b *model.Booking, err error) {
	defer func() { s.observe("book", err) }()

	if err := s.validate(req.Start, req.End); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.recheck(ctx, req.Start, req.End, ""); err != nil {
		return nil, err
	}

	b = &model.Booking{
		Summary:  strings.TrimSpace(req.Summary),
		Attendee: strings.TrimSpace(req.Attendee),
		StartsAt: req.Start,
		EndsAt:   req.End,
		Status:   model.BookingConfirmed,
	}
	if err := s.store.Create(ctx, b); err != nil {
		return nil, err
	}
	s.log.Info("booking created", "id", b.ID, "start", b.StartsAt, "end", b.EndsAt)
	return b, nil
}

// Reschedule moves a confirmed booking. Its own current interval does not
// count against the new one.
func (s *Service) Reschedule(ctx context.Context, id string, start, end time.Time) (b *model.Booking, err error) {
	defer func() { s.observe("reschedule", err) }()

	if err := s.validate(start, end); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == model.BookingCancelled {
		return nil, ErrCancelled
	}
	if err := s.recheck(ctx, start, end, id); err != nil {
		return nil, err
	}

	b, err = s.store.Reschedule(ctx, id, start, end)
	if err != nil {
		return nil, err
	}
	s.log.Info("booking rescheduled", "id", id, "start", b.StartsAt, "end", b.EndsAt)
	return b, nil
}

func (s *Service) Cancel(ctx context.Context, id string) (b *model.Booking, err error) {
	defer func() { s.observe("cancel", err) }()

	b, err = s.store.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("booking cancelled", "id", id)
	return b, nil
}

func (s *Service) validate(start, end time.Time) error {
	if start.IsZero() {
		return &slots.InvalidRequestError{Field: "start", Reason: "is required"}
	}
	if !start.Before(end) {
		return &slots.InvalidRequestError{Field: "end", Value: end.Format(time.RFC3339), Reason: "must be after start"}
	}
	if !start.After(s.now()) {
		return &slots.InvalidRequestError{Field: "start", Value: start.Format(time.RFC3339), Reason: "must be in the future"}
	}
	return nil
}

func (s *Service) lock(ctx context.Context) (func(), error) {
	token, ok, err := s.locker.TryLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockBusy
	}
	return func() {
		// The request context may already be done; the lock must still go.
		if err := s.locker.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.log.Error("booking unlock failed", err)
		}
	}, nil
}

// recheck fetches the busy set for [start, end) and fails with ErrSlotTaken
// on any overlap. ignoreID skips the booking being moved.
func (s *Service) recheck(ctx context.Context, start, end time.Time, ignoreID string) error {
	if s.busy == nil {
		return nil
	}
	busy, err := s.busy.FetchBusy(ctx, start, end)
	if err != nil {
		var gwErr *slots.GatewayError
		if errors.As(err, &gwErr) {
			return err
		}
		return &slots.GatewayError{Op: "recheck", Timeout: ctx.Err() != nil, Err: err}
	}

	if ignoreID != "" {
		kept := busy[:0:0]
		for _, b := range busy {
			if b.SourceID == model.BookingSourceID && b.UID == ignoreID {
				continue
			}
			kept = append(kept, b)
		}
		busy = kept
	}

	if slots.Conflicts(model.Interval{Start: start, End: end}, busy) {
		return ErrSlotTaken
	}
	return nil
}

func (s *Service) observe(op string, err error) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveBooking(op, resultOf(err))
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, slots.ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrSlotTaken), errors.Is(err, ErrCancelled):
		return "taken"
	case errors.Is(err, ErrLockBusy):
		return "lock_busy"
	case errors.Is(err, slots.ErrGateway):
		return "gateway_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
