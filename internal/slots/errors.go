package slots

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is. Each typed error below matches exactly one.
var (
	ErrInvalidRequest = errors.New("invalid slot request")
	ErrGateway        = errors.New("calendar gateway failure")
	ErrNoAvailability = errors.New("no availability in window")
)

// InvalidRequestError reports a malformed Request. It is returned before any
// gateway call is made.
type InvalidRequestError struct {
	Field  string
	Value  any
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidRequestError) Is(target error) bool { return target == ErrInvalidRequest }

// GatewayError reports that the busy-interval fetch failed or timed out.
// No slots accompany it.
type GatewayError struct {
	// Op is the gateway operation, e.g. "fetch", "parse".
	Op string
	// Source identifies the upstream calendar, if known.
	Source string
	// Timeout is set when the fetch was aborted by a deadline or
	// cancellation.
	Timeout bool
	Err     error
}

func (e *GatewayError) Error() string {
	msg := "gateway " + e.Op
	if e.Source != "" {
		msg += " " + e.Source
	}
	if e.Timeout {
		msg += " (timeout)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// NoAvailabilityError means the walk finished without accepting a slot.
// The calendar is full for this window; the mechanism worked.
type NoAvailabilityError struct {
	WindowStart time.Time
	WindowEnd   time.Time
	// Scanned is the number of candidates tested against the busy set.
	Scanned int
}

func (e *NoAvailabilityError) Error() string {
	return fmt.Sprintf("no availability between %s and %s (%d candidates scanned)",
		e.WindowStart.Format(time.RFC3339), e.WindowEnd.Format(time.RFC3339), e.Scanned)
}

func (e *NoAvailabilityError) Is(target error) bool { return target == ErrNoAvailability }
