package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/log"
)

// ParsedEvent is the normalized representation of a VEVENT. Recurrence is
// recorded but not expanded here; see ExpandBusy.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	// Transparent events (TRANSP:TRANSPARENT) do not block time.
	Transparent bool
	// Status is the upper-cased STATUS value, e.g. "CONFIRMED", "CANCELLED".
	Status string

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, if present
	IsOverride bool
}

// Blocks reports whether the event occupies time at all.
func (ev ParsedEvent) Blocks() bool {
	return !ev.Transparent && ev.Status != "CANCELLED"
}

// ParseResult holds the events of one payload plus the VEVENTs that could
// not be read.
type ParseResult struct {
	Events  []ParsedEvent
	Skipped []error
}

// ParseICS parses a single ICS payload.
//
// Malformed VEVENTs do not abort the parse; they are reported in
// ParseResult.Skipped so the caller can decide whether a partial calendar is
// acceptable. An unreadable payload returns an error.
//
// All-day events are detected from the DTSTART value form and anchored at
// local midnight in loc.
func ParseICS(src Source, body []byte, loc *time.Location) (ParseResult, error) {
	var res ParseResult
	if len(body) == 0 {
		return res, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return res, fmt.Errorf("parse calendar: %w", err)
	}

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp, loc)
		if perr != nil {
			res.Skipped = append(res.Skipped, perr)
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		res.Events = append(res.Events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(res.Events), "skipped", len(res.Skipped))
	return res, nil
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty("TRANSP"); p != nil {
		out.Transparent = strings.EqualFold(strings.TrimSpace(p.Value), "TRANSPARENT")
	}
	if p := ve.GetProperty("STATUS"); p != nil {
		out.Status = strings.ToUpper(strings.TrimSpace(p.Value))
	}

	dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStartProp == nil || dtStartProp.Value == "" {
		return out, fmt.Errorf("event %s: missing DTSTART", out.UID)
	}
	out.AllDay = isDateValue(dtStartProp)

	if out.AllDay {
		start, err := parseICSTime(dtStartProp.Value, loc)
		if err != nil {
			return out, fmt.Errorf("event %s: DTSTART: %w", out.UID, err)
		}
		out.Start = midnight(start)
		out.End = out.Start.AddDate(0, 0, 1)
		if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil && p.Value != "" {
			if end, err := parseICSTime(p.Value, loc); err == nil && end.After(out.Start) {
				out.End = midnight(end)
			}
		}
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return out, fmt.Errorf("event %s: DTSTART: %w", out.UID, err)
		}
		out.Start = start
		out.End = start
		if ve.GetProperty(ical.ComponentPropertyDtEnd) != nil {
			end, err := ve.GetEndAt()
			if err != nil {
				return out, fmt.Errorf("event %s: DTEND: %w", out.UID, err)
			}
			out.End = end
		}
		if out.End.Before(out.Start) {
			return out, fmt.Errorf("event %s: DTEND %s before DTSTART %s", out.UID,
				out.End.Format(time.RFC3339), out.Start.Format(time.RFC3339))
		}
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := parseICSTime(part, tzidLocation(p, out.Start.Location()))
			if err != nil {
				return out, fmt.Errorf("event %s: EXDATE %q: %w", out.UID, part, err)
			}
			out.ExDates = append(out.ExDates, t)
		}
	}

	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		t, err := parseICSTime(ridProp.Value, tzidLocation(ridProp, out.Start.Location()))
		if err != nil {
			return out, fmt.Errorf("event %s: RECURRENCE-ID: %w", out.UID, err)
		}
		out.Recurrence = &t
		out.IsOverride = true
	}

	return out, nil
}

// isDateValue reports VALUE=DATE or a bare YYYYMMDD value.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// tzidLocation resolves a TZID parameter, falling back to def.
func tzidLocation(p *ical.IANAProperty, def *time.Location) *time.Location {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if loc, err := time.LoadLocation(tzs[0]); err == nil {
			return loc
		}
	}
	return def
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// parseICSTime parses DATE, floating DATE-TIME and UTC DATE-TIME values.
// Floating and DATE values are interpreted in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.Local
	}

	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
