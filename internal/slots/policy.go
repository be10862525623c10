package slots

import (
	"strings"
	"time"
)

// Policy bounds which hours and weekdays may hold a slot, and how finely the
// window is scanned. It is read-only during a Generate call.
type Policy struct {
	// StartHour is the first bookable local hour (0-23).
	StartHour int
	// EndHour is the local hour at which bookable time ends. A slot must end
	// at or before EndHour:00. 24 means midnight at the end of the day.
	EndHour int
	// ExcludedWeekdays lists days on which nothing is offered.
	ExcludedWeekdays []time.Weekday
	// GranularityMinutes is the cursor step, independent of slot duration.
	GranularityMinutes int
	// Location is the zone in which hours and calendar days are evaluated.
	// Nil means time.Local.
	Location *time.Location
}

// DefaultPolicy is 09:00-18:00, Monday to Friday, 15 minute scan steps.
func DefaultPolicy(loc *time.Location) Policy {
	return Policy{
		StartHour:          9,
		EndHour:            18,
		ExcludedWeekdays:   []time.Weekday{time.Saturday, time.Sunday},
		GranularityMinutes: 15,
		Location:           loc,
	}
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

func (p Policy) excluded(wd time.Weekday) bool {
	for _, x := range p.ExcludedWeekdays {
		if x == wd {
			return true
		}
	}
	return false
}

func (p Policy) step() time.Duration {
	return time.Duration(p.GranularityMinutes) * time.Minute
}

// dayStart returns StartHour:00 on t's calendar day, offset by addDays.
func (p Policy) dayStart(t time.Time, addDays int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+addDays, p.StartHour, 0, 0, 0, t.Location())
}

// dayEnd returns EndHour:00 on t's calendar day.
func (p Policy) dayEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), p.EndHour, 0, 0, 0, t.Location())
}

// Request describes one Generate call.
type Request struct {
	DurationMinutes int
	SlotsNeeded     int
	WindowStart     time.Time
	WindowEnd       time.Time
	Policy          Policy
}

func (r Request) duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

// Validate checks r and returns an *InvalidRequestError naming the first
// offending field.
func (r Request) Validate() error {
	switch {
	case r.DurationMinutes <= 0:
		return &InvalidRequestError{Field: "durationMinutes", Value: r.DurationMinutes, Reason: "must be > 0"}
	case r.SlotsNeeded <= 0:
		return &InvalidRequestError{Field: "slotsNeeded", Value: r.SlotsNeeded, Reason: "must be > 0"}
	case r.WindowStart.IsZero():
		return &InvalidRequestError{Field: "windowStart", Value: r.WindowStart, Reason: "must be set"}
	case !r.WindowStart.Before(r.WindowEnd):
		return &InvalidRequestError{Field: "windowEnd", Value: r.WindowEnd, Reason: "must be after windowStart"}
	case r.Policy.StartHour < 0 || r.Policy.StartHour > 23:
		return &InvalidRequestError{Field: "policy.startHour", Value: r.Policy.StartHour, Reason: "must be within 0-23"}
	case r.Policy.EndHour < 0 || r.Policy.EndHour > 24:
		return &InvalidRequestError{Field: "policy.endHour", Value: r.Policy.EndHour, Reason: "must be within 0-24"}
	case r.Policy.StartHour >= r.Policy.EndHour:
		return &InvalidRequestError{Field: "policy.endHour", Value: r.Policy.EndHour, Reason: "must be after policy.startHour"}
	case r.Policy.GranularityMinutes <= 0:
		return &InvalidRequestError{Field: "policy.granularityMinutes", Value: r.Policy.GranularityMinutes, Reason: "must be > 0"}
	}
	return nil
}

// ParseWeekday accepts full or three-letter English day names in any case.
func ParseWeekday(s string) (time.Weekday, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sun", "sunday":
		return time.Sunday, true
	case "mon", "monday":
		return time.Monday, true
	case "tue", "tues", "tuesday":
		return time.Tuesday, true
	case "wed", "wednesday":
		return time.Wednesday, true
	case "thu", "thur", "thurs", "thursday":
		return time.Thursday, true
	case "fri", "friday":
		return time.Friday, true
	case "sat", "saturday":
		return time.Saturday, true
	}
	return time.Sunday, false
}
