// Package gateway adapts calendar backends to slots.BusySource.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/ics"
	appLog "github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/log"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/model"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/slots"
)

// Options configures an ICSSource.
type Options struct {
	Sources []ics.Source
	// Fetcher is shared with the Warmer so both hit the same disk cache.
	Fetcher *ics.Fetcher
	// Location anchors floating and all-day events. Nil means time.Local.
	Location *time.Location
	// Timeout bounds one FetchBusy call across all sources. Zero leaves
	// the caller's context deadline in charge.
	Timeout                time.Duration
	MaxOccurrencesPerEvent int
	IgnoreAllDay           bool
}

// ICSSource answers busy queries from one or more ICS subscriptions.
//
// A FetchBusy call fetches every feed, parses it and expands recurrences
// into the requested window. Any failure on any feed fails the whole call:
// a snapshot missing one calendar would offer times that are actually busy.
type ICSSource struct {
	opts  Options
	ready atomic.Bool
	log   appLog.Logger
}

// NewICSSource validates opts and returns a ready source.
func NewICSSource(opts Options) (*ICSSource, error) {
	if len(opts.Sources) == 0 {
		return nil, errors.New("gateway: no ICS sources configured")
	}
	for i, src := range opts.Sources {
		if src.ID == "" || src.URL == "" {
			return nil, fmt.Errorf("gateway: source %d needs both id and url", i)
		}
	}
	if opts.Fetcher == nil {
		opts.Fetcher = ics.NewFetcher(ics.FetcherOptions{})
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	s := &ICSSource{
		opts: opts,
		log:  appLog.With("component", "ics_gateway"),
	}
	s.ready.Store(true)
	return s, nil
}

// Ready reports whether the source accepts queries.
func (s *ICSSource) Ready() bool {
	return s.ready.Load()
}

// Close stops the source from answering further queries.
func (s *ICSSource) Close() error {
	s.ready.Store(false)
	return nil
}

// FetchBusy implements slots.BusySource.
func (s *ICSSource) FetchBusy(ctx context.Context, from, to time.Time) ([]model.BusyInterval, error) {
	if !s.Ready() {
		return nil, &slots.GatewayError{Op: "fetch", Err: errors.New("ics source closed")}
	}
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	results, errs := s.opts.Fetcher.FetchAll(ctx, s.opts.Sources)
	if len(errs) > 0 {
		err := errors.Join(errs...)
		return nil, &slots.GatewayError{
			Op:      "fetch",
			Source:  failedSources(s.opts.Sources, results),
			Timeout: isTimeout(ctx, err),
			Err:     err,
		}
	}

	var events []ics.ParsedEvent
	for _, res := range results {
		parsed, err := ics.ParseICS(res.Source, res.Body, s.opts.Location)
		if err != nil {
			return nil, &slots.GatewayError{Op: "parse", Source: res.Source.ID, Err: err}
		}
		if len(parsed.Skipped) > 0 {
			return nil, &slots.GatewayError{
				Op:     "parse",
				Source: res.Source.ID,
				Err:    fmt.Errorf("%d malformed events: %w", len(parsed.Skipped), errors.Join(parsed.Skipped...)),
			}
		}
		events = append(events, parsed.Events...)
	}

	expanded, err := ics.ExpandBusy(events, ics.ExpandConfig{
		Location:               s.opts.Location,
		RangeStart:             from,
		RangeEnd:               to,
		MaxOccurrencesPerEvent: s.opts.MaxOccurrencesPerEvent,
		IgnoreAllDay:           s.opts.IgnoreAllDay,
	})
	if err != nil {
		return nil, &slots.GatewayError{Op: "expand", Err: err}
	}
	if len(expanded.Errors) > 0 {
		return nil, &slots.GatewayError{Op: "expand", Err: errors.Join(expanded.Errors...)}
	}

	s.log.Debug("busy snapshot built",
		"sources", len(results),
		"events", len(events),
		"busy", len(expanded.Busy),
		"truncated", len(expanded.TruncatedEvents),
	)
	return expanded.Busy, nil
}

func isTimeout(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// failedSources names the first source that produced no result.
func failedSources(all []ics.Source, ok []ics.FetchResult) string {
	got := make(map[string]bool, len(ok))
	for _, r := range ok {
		got[r.Source.ID] = true
	}
	for _, src := range all {
		if !got[src.ID] {
			return src.ID
		}
	}
	return ""
}
