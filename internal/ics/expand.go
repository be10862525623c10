package ics

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/log"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Location is the zone busy intervals are converted to. Nil means
	// time.Local.
	Location *time.Location

	// RangeStart / RangeEnd is the half-open window [RangeStart, RangeEnd).
	// An occurrence is kept when it intersects the window.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single RRULE. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int

	// IgnoreAllDay drops all-day events from the result.
	IgnoreAllDay bool
}

// ExpandResult wraps the expanded busy intervals.
type ExpandResult struct {
	Busy []model.BusyInterval
	// TruncatedEvents records UIDs that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
	// Errors lists events whose recurrence could not be evaluated. Their
	// busy time is unknown.
	Errors []error
}

// ExpandBusy turns parsed events into the concrete busy intervals that
// intersect the configured window. It handles single events, RRULE
// recurrence with EXDATE, RECURRENCE-ID overrides and all-day events.
// Transparent and cancelled events, and overrides that cancel an instance,
// produce nothing.
func ExpandBusy(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if !cfg.RangeStart.Before(cfg.RangeEnd) {
		return result, errors.New("expand: RangeEnd is not after RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	for uid, baseEvents := range baseByUID {
		ov := overridesByUID[uid]
		consumed := make(map[int64]bool, len(ov))
		truncated := false

		for _, ev := range baseEvents {
			var busy []model.BusyInterval
			var hitCap bool
			var err error
			if ev.RawRRule == "" {
				busy = expandSingleEvent(ev, ov, consumed, cfg)
			} else {
				busy, hitCap, err = expandRecurringEvent(ev, ov, consumed, cfg)
			}
			if err != nil {
				result.Errors = append(result.Errors, err)
				continue
			}
			truncated = truncated || hitCap
			result.Busy = append(result.Busy, busy...)
		}

		// An instance moved into the window from outside it was never
		// generated above.
		for _, o := range ov {
			if consumed[o.Recurrence.UnixNano()] {
				continue
			}
			if b, ok := makeBusy(o, o.Start, o.End, cfg); ok {
				result.Busy = append(result.Busy, b)
			}
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Error("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	// Overrides whose base event is outside the feed still occupy time.
	for uid, ovs := range overridesByUID {
		if _, ok := baseByUID[uid]; ok {
			continue
		}
		for _, o := range ovs {
			if b, ok := makeBusy(o, o.Start, o.End, cfg); ok {
				result.Busy = append(result.Busy, b)
			}
		}
	}

	return result, nil
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, consumed map[int64]bool, cfg ExpandConfig) []model.BusyInterval {
	start, end := ev.Start, ev.End
	if o, ok := findOverrideForStart(overrides, start); ok {
		consumed[o.Recurrence.UnixNano()] = true
		ev, start, end = o, o.Start, o.End
	}
	if b, ok := makeBusy(ev, start, end, cfg); ok {
		return []model.BusyInterval{b}
	}
	return nil
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, consumed map[int64]bool, cfg ExpandConfig) ([]model.BusyInterval, bool, error) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		return nil, false, fmt.Errorf("event %s: RRULE %q: %w", ev.UID, ev.RawRRule, err)
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	if ev.AllDay && dur <= 0 {
		dur = 24 * time.Hour
	}

	// Occurrences starting up to one event length before the window can
	// still reach into it.
	rangeStart := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())
	occTimes := set.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.BusyInterval, 0, len(occTimes))
	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			occStart = midnight(occStart)
			occEnd = occStart.Add(dur)
		} else {
			occEnd = occStart.Add(dur)
		}

		baseEv, start, end := ev, occStart, occEnd
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			consumed[o.Recurrence.UnixNano()] = true
			baseEv, start, end = o, o.Start, o.End
		}
		if b, ok := makeBusy(baseEv, start, end, cfg); ok {
			out = append(out, b)
		}
	}
	return out, hitCap, nil
}

// findOverrideForStart finds the override whose RECURRENCE-ID equals the
// instance start.
func findOverrideForStart(overrides []ParsedEvent, instanceStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(instanceStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// makeBusy converts one instance into a busy interval in cfg.Location, or
// reports false when it does not block time inside the window.
func makeBusy(ev ParsedEvent, start, end time.Time, cfg ExpandConfig) (model.BusyInterval, bool) {
	if !ev.Blocks() || (ev.AllDay && cfg.IgnoreAllDay) {
		return model.BusyInterval{}, false
	}
	iv := model.Interval{Start: start.In(cfg.Location), End: end.In(cfg.Location)}
	if !iv.Valid() {
		return model.BusyInterval{}, false
	}
	if !iv.Overlaps(model.Interval{Start: cfg.RangeStart, End: cfg.RangeEnd}) {
		return model.BusyInterval{}, false
	}
	return model.BusyInterval{Interval: iv, SourceID: ev.Source.ID, UID: ev.UID}, true
}
