package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/booking"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/config"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/db"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/gateway"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/ics"
	appLog "github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/log"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/metrics"
	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/slots"
)

// app is the wired object graph shared by serve and find.
type app struct {
	cfg       *config.Config
	policy    slots.Policy
	fetcher   *ics.Fetcher
	sources   []ics.Source
	busy      slots.BusySource
	generator *slots.Generator
	bookings  *booking.Service
	metrics   *metrics.Metrics

	closers []func() error
}

// newApp wires the object graph. On error everything acquired so far is
// released.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	a.policy = policy

	database, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return nil, err
	}
	store := booking.NewStore(database)

	a.fetcher = ics.NewFetcher(ics.FetcherOptions{
		CacheDir:      cfg.CacheDir,
		Timeout:       cfg.GatewayTimeout(),
		StaleFallback: cfg.Gateway.StaleFallback,
	})
	for _, c := range cfg.ICS {
		a.sources = append(a.sources, ics.Source{ID: c.ID, URL: c.URL})
	}

	merged := gateway.Multi{store}
	if len(a.sources) > 0 {
		feeds, err := gateway.NewICSSource(gateway.Options{
			Sources:                a.sources,
			Fetcher:                a.fetcher,
			Location:               policy.Location,
			Timeout:                cfg.GatewayTimeout(),
			MaxOccurrencesPerEvent: cfg.Gateway.MaxOccurrencesPerEvent,
			IgnoreAllDay:           cfg.Gateway.IgnoreAllDay,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, feeds.Close)
		merged = gateway.Multi{feeds, store}
	} else {
		appLog.Info("no ICS sources configured; only bookings count as busy")
	}
	a.busy = merged

	var locker booking.Locker
	if cfg.Redis.Addr != "" {
		rdb, err := booking.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		locker = booking.NewRedisLocker(rdb)
	} else {
		locker = booking.NewMemoryLocker()
	}

	a.generator = slots.NewGenerator(a.busy, slots.WithObserver(a.metrics))
	a.bookings = booking.NewService(store, a.busy, locker,
		booking.WithLockTTL(cfg.LockTTL()),
		booking.WithObserver(a.metrics),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
