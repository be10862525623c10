package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/model"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/slots"
)

// Multi merges several BusySources into one snapshot, e.g. the ICS feeds
// plus locally stored bookings. The first failing source aborts the call.
type Multi []slots.BusySource

func (m Multi) FetchBusy(ctx context.Context, from, to time.Time) ([]model.BusyInterval, error) {
	var out []model.BusyInterval
	for _, src := range m {
		if src == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, &slots.GatewayError{Op: "fetch", Timeout: true, Err: err}
		}
		busy, err := src.FetchBusy(ctx, from, to)
		if err != nil {
			var gwErr *slots.GatewayError
			if errors.As(err, &gwErr) {
				return nil, err
			}
			return nil, &slots.GatewayError{Op: "fetch", Timeout: isTimeout(ctx, err), Err: err}
		}
		out = append(out, busy...)
	}
	return out, nil
}
