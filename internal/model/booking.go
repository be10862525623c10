package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

// BookingSourceID tags busy intervals that come from stored bookings.
const BookingSourceID = "bookings"

// Booking is a reservation made through the API. Confirmed bookings are
// busy time for later generation calls.
type Booking struct {
	ID       string        `gorm:"type:varchar(36);primaryKey" json:"id"`
	Summary  string        `gorm:"type:varchar(255)" json:"summary"`
	Attendee string        `gorm:"type:varchar(255)" json:"attendee"`
	StartsAt time.Time     `gorm:"index;not null" json:"starts_at"`
	EndsAt   time.Time     `gorm:"index;not null" json:"ends_at"`
	Status   BookingStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Booking) TableName() string { return "bookings" }

// BeforeCreate fills the ID and default status.
func (b *Booking) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = BookingConfirmed
	}
	return nil
}

func (b Booking) Interval() Interval {
	return Interval{Start: b.StartsAt, End: b.EndsAt}
}

// Busy converts the booking to a busy interval.
func (b Booking) Busy() BusyInterval {
	return BusyInterval{Interval: b.Interval(), SourceID: BookingSourceID, UID: b.ID}
}
