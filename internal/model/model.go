package model

import "time"

// Interval is a half-open time range [Start, End). A valid Interval has
// Start strictly before End. The timezone is whatever Location the two
// timestamps carry.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether Start < End.
func (iv Interval) Valid() bool {
	return iv.Start.Before(iv.End)
}

// Overlaps reports whether iv and other share any instant. Touching
// endpoints ([a,b) and [b,c)) do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && iv.End.After(other.Start)
}

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// BusyInterval is an occupied range as reported by a calendar source.
// SourceID and UID are informational only.
type BusyInterval struct {
	Interval

	SourceID string // calendar source ID (e.g., config ICS ID, "bookings")
	UID      string // upstream event identifier, if any
}

// AvailableSlot is a candidate that passed every check during one
// generation call. It is a hint, not a reservation.
type AvailableSlot struct {
	ID string `json:"id"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Duration time.Duration `json:"-"`
	// DurationMinutes mirrors Duration for JSON consumers.
	DurationMinutes int `json:"duration_minutes"`

	// Timezone is the IANA name of the policy location the slot was
	// generated in.
	Timezone string `json:"timezone"`

	// Available is always true for a materialized slot.
	Available bool `json:"available"`
}

// Interval returns the slot bounds.
func (s AvailableSlot) Interval() Interval {
	return Interval{Start: s.Start, End: s.End}
}
