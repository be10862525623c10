// Package booking stores reservations and guards them against double
// booking.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/model"
)

var (
	ErrNotFound  = errors.New("booking not found")
	ErrSlotTaken = errors.New("slot is no longer available")
	ErrLockBusy  = errors.New("another booking is in progress")
	ErrCancelled = errors.New("booking is cancelled")
)

// Store persists bookings. It also serves confirmed bookings as busy
// intervals, so it can be merged into the generator's snapshot.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, b *model.Booking) error {
	b.StartsAt = b.StartsAt.UTC()
	b.EndsAt = b.EndsAt.UTC()
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.Booking, error) {
	var b model.Booking
	err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return &b, nil
}

// Reschedule moves a booking to [start, end).
func (s *Store) Reschedule(ctx context.Context, id string, start, end time.Time) (*model.Booking, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Model(b).Updates(map[string]any{
		"starts_at": start.UTC(),
		"ends_at":   end.UTC(),
	}).Error
	if err != nil {
		return nil, fmt.Errorf("reschedule booking %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

// Cancel marks a booking cancelled. Cancelling twice is not an error.
func (s *Store) Cancel(ctx context.Context, id string) (*model.Booking, error) {
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == model.BookingCancelled {
		return b, nil
	}
	if err := s.db.WithContext(ctx).Model(b).Update("status", model.BookingCancelled).Error; err != nil {
		return nil, fmt.Errorf("cancel booking %s: %w", id, err)
	}
	b.Status = model.BookingCancelled
	return b, nil
}

// List returns confirmed bookings intersecting [from, to), ordered by start.
func (s *Store) List(ctx context.Context, from, to time.Time) ([]model.Booking, error) {
	var out []model.Booking
	err := s.db.WithContext(ctx).
		Where("status = ? AND starts_at < ? AND ends_at > ?", model.BookingConfirmed, to.UTC(), from.UTC()).
		Order("starts_at").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return out, nil
}

// FetchBusy implements slots.BusySource.
func (s *Store) FetchBusy(ctx context.Context, from, to time.Time) ([]model.BusyInterval, error) {
	bookings, err := s.List(ctx, from, to)
	if err != nil {
		return nil, err
	}
	busy := make([]model.BusyInterval, 0, len(bookings))
	for _, b := range bookings {
		busy = append(busy, b.Busy())
	}
	return busy, nil
}
