package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/ics"
	appLog "github.com/Veins19/CRM-LEAD-GENERATOR-sub002/internal/log"
)

const fallbackWarmSpec = "*/15 * * * *"

// Warmer refreshes the feed cache on a cron schedule so conditional GETs
// made during slot generation mostly come back 304. It never builds a busy
// snapshot itself.
type Warmer struct {
	fetcher *ics.Fetcher
	sources []ics.Source
	spec    string
	timeout time.Duration
	log     appLog.Logger

	cron   *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWarmer(fetcher *ics.Fetcher, sources []ics.Source, spec string, timeout time.Duration) *Warmer {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Warmer{
		fetcher: fetcher,
		sources: sources,
		spec:    spec,
		timeout: timeout,
		log:     appLog.With("component", "ics_warmer"),
	}
}

// Start schedules the warm job and runs it once immediately in the
// background. An invalid spec falls back to every 15 minutes.
func (w *Warmer) Start(ctx context.Context) {
	w.runCtx, w.cancel = context.WithCancel(ctx)

	c := cron.New()
	if _, err := c.AddFunc(w.spec, func() { w.Warm(w.runCtx) }); err != nil {
		w.log.Error("invalid refresh schedule; falling back", err, "spec", w.spec, "fallback", fallbackWarmSpec)
		c = cron.New()
		_, _ = c.AddFunc(fallbackWarmSpec, func() { w.Warm(w.runCtx) })
	}
	c.Start()
	w.cron = c

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.Warm(w.runCtx)
	}()
}

// Stop cancels in-flight fetches and waits for a running job to return.
func (w *Warmer) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
	w.wg.Wait()
}

// Warm fetches every source once and returns how many succeeded.
func (w *Warmer) Warm(ctx context.Context) int {
	if len(w.sources) == 0 {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	started := time.Now()
	results, errs := w.fetcher.FetchAll(ctx, w.sources)

	cached := 0
	for _, r := range results {
		if r.FromCache {
			cached++
		}
	}
	w.log.Info("ics cache warmed",
		"ok", len(results),
		"failed", len(errs),
		"not_modified", cached,
		"elapsed", time.Since(started),
	)
	return len(results)
}
