package slots

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	appLog "github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/log"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/model"
)

// BusySource answers "what is busy in [from, to)?". Implementations return
// intervals in any order. A failure should be a *GatewayError; anything else
// is wrapped into one by the Generator.
type BusySource interface {
	FetchBusy(ctx context.Context, from, to time.Time) ([]model.BusyInterval, error)
}

// BusySourceFunc adapts a function to BusySource.
type BusySourceFunc func(ctx context.Context, from, to time.Time) ([]model.BusyInterval, error)

func (f BusySourceFunc) FetchBusy(ctx context.Context, from, to time.Time) ([]model.BusyInterval, error) {
	return f(ctx, from, to)
}

// Observer receives per-call outcomes. result is one of "ok", "invalid",
// "gateway_error", "no_availability".
type Observer interface {
	ObserveGenerate(result string, scanned int, elapsed time.Duration)
	ObserveGatewayError(timeout bool)
}

// Generator computes available slots against one BusySource. It keeps no
// per-call state and is safe for concurrent use.
type Generator struct {
	source   BusySource
	now      func() time.Time
	newID    func() string
	observer Observer
	log      appLog.Logger
}

type Option func(*Generator)

// WithClock sets the function used for the invocation time. Slots must start
// strictly after it.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithIDFunc overrides slot identifier generation.
func WithIDFunc(fn func() string) Option {
	return func(g *Generator) { g.newID = fn }
}

func WithObserver(o Observer) Option {
	return func(g *Generator) { g.observer = o }
}

// NewGenerator returns a Generator reading busy intervals from source.
func NewGenerator(source BusySource, opts ...Option) *Generator {
	g := &Generator{
		source: source,
		now:    time.Now,
		newID:  uuid.NewString,
		log:    appLog.With("component", "slot_generator"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// MaxSlotsNeeded bounds the slot count accepted from callers outside the
// package (HTTP, CLI). Generate itself takes any positive count.
const MaxSlotsNeeded = 500

const initialSlotCap = 16

// Generate returns up to req.SlotsNeeded available slots in chronological
// order.
//
// The busy snapshot for [WindowStart, WindowEnd) is fetched once, then the
// window is walked from WindowStart in GranularityMinutes steps. Hours
// outside [StartHour, EndHour) and excluded weekdays are skipped. A
// candidate [cursor, cursor+duration) is accepted when it overlaps no busy
// interval (half-open, touching endpoints allowed), fits inside the day's
// business hours and the window, and starts strictly after the invocation
// time. The walk stops at the first candidate that would end past
// WindowEnd, since the snapshot says nothing about that time: a window
// shorter than one slot yields *NoAvailabilityError.
//
// Errors: *InvalidRequestError before any I/O, *GatewayError when the fetch
// fails (never with partial results), *NoAvailabilityError when nothing was
// accepted.
func (g *Generator) Generate(ctx context.Context, req Request) ([]model.AvailableSlot, error) {
	started := time.Now()

	if err := req.Validate(); err != nil {
		g.observe("invalid", 0, started)
		return nil, err
	}

	invokedAt := g.now()
	loc := req.Policy.location()
	windowStart := req.WindowStart.In(loc)
	windowEnd := req.WindowEnd.In(loc)

	busy, err := g.fetch(ctx, windowStart, windowEnd)
	if err != nil {
		var gwErr *GatewayError
		timeout := errors.As(err, &gwErr) && gwErr.Timeout
		if g.observer != nil {
			g.observer.ObserveGatewayError(timeout)
		}
		g.observe("gateway_error", 0, started)
		g.log.Error("busy interval fetch failed", err,
			"window_start", windowStart, "window_end", windowEnd, "timeout", timeout)
		return nil, err
	}

	out, scanned := g.walk(req, windowStart, windowEnd, invokedAt, newBusyIndex(busy))

	if len(out) == 0 {
		g.observe("no_availability", scanned, started)
		g.log.Info("no availability",
			"window_start", windowStart, "window_end", windowEnd,
			"busy_count", len(busy), "scanned", scanned)
		return nil, &NoAvailabilityError{WindowStart: windowStart, WindowEnd: windowEnd, Scanned: scanned}
	}

	g.observe("ok", scanned, started)
	g.log.Debug("slots generated",
		"count", len(out), "requested", req.SlotsNeeded,
		"busy_count", len(busy), "scanned", scanned,
		"first", out[0].Start)
	return out, nil
}

// fetch takes the single busy snapshot for the call.
func (g *Generator) fetch(ctx context.Context, from, to time.Time) ([]model.BusyInterval, error) {
	if g.source == nil {
		return nil, &GatewayError{Op: "fetch", Err: errors.New("no busy source configured")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &GatewayError{Op: "fetch", Timeout: true, Err: err}
	}

	busy, err := g.source.FetchBusy(ctx, from, to)
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) {
			return nil, err
		}
		timeout := ctx.Err() != nil ||
			errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, context.Canceled)
		return nil, &GatewayError{Op: "fetch", Timeout: timeout, Err: err}
	}

	for i, b := range busy {
		if !b.Valid() {
			return nil, &GatewayError{
				Op:     "fetch",
				Source: b.SourceID,
				Err:    fmt.Errorf("busy interval %d (%s) has start %s not before end %s", i, b.UID, b.Start.Format(time.RFC3339), b.End.Format(time.RFC3339)),
			}
		}
	}
	return busy, nil
}

func (g *Generator) walk(req Request, windowStart, windowEnd, invokedAt time.Time, busy *busyIndex) ([]model.AvailableSlot, int) {
	p := req.Policy
	step := p.step()
	dur := req.duration()
	tz := p.location().String()

	out := make([]model.AvailableSlot, 0, min(req.SlotsNeeded, initialSlotCap))
	scanned := 0

	cursor := windowStart
	for len(out) < req.SlotsNeeded && cursor.Before(windowEnd) {
		if cursor.Hour() < p.StartHour {
			cursor = advance(cursor, p.dayStart(cursor, 0), step)
			continue
		}
		if cursor.Hour() >= p.EndHour {
			cursor = advance(cursor, p.dayStart(cursor, 1), step)
			continue
		}
		if p.excluded(cursor.Weekday()) {
			cursor = advance(cursor, p.dayStart(cursor, 1), step)
			continue
		}

		candidate := model.Interval{Start: cursor, End: cursor.Add(dur)}
		if candidate.End.After(p.dayEnd(cursor)) {
			cursor = advance(cursor, p.dayStart(cursor, 1), step)
			continue
		}
		// The snapshot does not cover anything past windowEnd.
		if candidate.End.After(windowEnd) {
			break
		}

		scanned++
		if !busy.conflicts(candidate) && candidate.Start.After(invokedAt) {
			out = append(out, model.AvailableSlot{
				ID:              g.newID(),
				Start:           candidate.Start,
				End:             candidate.End,
				Duration:        dur,
				DurationMinutes: req.DurationMinutes,
				Timezone:        tz,
				Available:       true,
			})
		}

		cursor = cursor.Add(step)
	}

	return out, scanned
}

// advance moves the cursor to next, or by one step if next would not move
// it forward (DST folds).
func advance(cursor, next time.Time, step time.Duration) time.Time {
	if !next.After(cursor) {
		return cursor.Add(step)
	}
	return next
}

func (g *Generator) observe(result string, scanned int, started time.Time) {
	if g.observer == nil {
		return
	}
	g.observer.ObserveGenerate(result, scanned, time.Since(started))
}

// Conflicts reports whether candidate overlaps any busy interval, using
// strict half-open comparison: cursor < busyEnd && candidateEnd > busyStart.
func Conflicts(candidate model.Interval, busy []model.BusyInterval) bool {
	for _, b := range busy {
		if candidate.Start.Before(b.End) && candidate.End.After(b.Start) {
			return true
		}
	}
	return false
}

// busyIndex is a sorted, merged copy of a busy snapshot. Queries with
// non-decreasing candidate starts cost amortized O(1).
type busyIndex struct {
	blocks []model.Interval
	pos    int
	last   time.Time
}

func newBusyIndex(busy []model.BusyInterval) *busyIndex {
	blocks := make([]model.Interval, 0, len(busy))
	for _, b := range busy {
		blocks = append(blocks, b.Interval)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Start.Before(blocks[j].Start) })

	merged := blocks[:0]
	for _, b := range blocks {
		if n := len(merged); n > 0 && !b.Start.After(merged[n-1].End) {
			if b.End.After(merged[n-1].End) {
				merged[n-1].End = b.End
			}
			continue
		}
		merged = append(merged, b)
	}
	return &busyIndex{blocks: merged}
}

func (ix *busyIndex) conflicts(candidate model.Interval) bool {
	if candidate.Start.Before(ix.last) {
		ix.pos = 0
	}
	ix.last = candidate.Start

	for ix.pos < len(ix.blocks) && !ix.blocks[ix.pos].End.After(candidate.Start) {
		ix.pos++
	}
	return ix.pos < len(ix.blocks) && ix.blocks[ix.pos].Start.Before(candidate.End)
}
