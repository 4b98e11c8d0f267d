// Package refresh pulls member calendars into the event store, once on
// demand or on a cron schedule.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"schedulr/internal/config"
	"schedulr/internal/ics"
	appLog "schedulr/internal/log"
	"schedulr/internal/model"
	"schedulr/internal/store"
)

// Fetcher downloads one ICS feed. *ics.Fetcher implements it.
type Fetcher interface {
	FetchOne(ctx context.Context, src ics.Source) (ics.FetchResult, error)
}

// Options configures a Refresher.
type Options struct {
	Sources []ics.Source

	// Location is the display zone occurrences are expanded into.
	Location *time.Location

	// Occurrences are expanded over [now-BackfillDays, now+HorizonDays].
	HorizonDays  int
	BackfillDays int

	// Now defaults to time.Now.
	Now func() time.Time
}

// Result summarizes one refresh cycle.
type Result struct {
	Sources int `json:"sources"`
	Failed  int `json:"failed"`
	Events  int `json:"events"`
}

// Refresher runs fetch, parse, expand and store for every source.
type Refresher struct {
	fetcher Fetcher
	store   store.EventStore
	metrics *Metrics
	opts    Options

	// mu serializes cycles; the cron job and POST /api/refresh may overlap.
	mu sync.Mutex
}

// New constructs a Refresher. A nil metrics registers on the default
// Prometheus registerer.
func New(fetcher Fetcher, st store.EventStore, metrics *Metrics, opts Options) *Refresher {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Refresher{
		fetcher: fetcher,
		store:   st,
		metrics: metrics,
		opts:    opts,
	}
}

// SourcesFromConfig maps configured sources onto ICS sources.
func SourcesFromConfig(cfg *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		out = append(out, ics.Source{
			ID:        s.ID,
			URL:       s.URL,
			Name:      s.Name,
			OwnerID:   s.OwnerID,
			GroupID:   s.GroupID,
			EventType: model.ParseEventType(s.EventType),
		})
	}
	return out
}

// RunOnce refreshes every source. A failing source is logged and counted,
// and keeps whatever the store already holds for it. The returned error is
// only set when ctx ends the cycle early.
func (r *Refresher) RunOnce(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics.Runs.Inc()
	now := r.opts.Now()
	res := Result{Sources: len(r.opts.Sources)}

	for _, src := range r.opts.Sources {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		n, stage, err := r.refreshSource(ctx, src, now)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, err
			}
			res.Failed++
			r.metrics.SourceFailures.WithLabelValues(src.ID, stage).Inc()
			appLog.Error("refresh: source failed", err, "source", src.ID, "stage", stage, "url", ics.RedactURL(src.URL))
			continue
		}
		res.Events += n
		r.metrics.IngestedEvents.Add(float64(n))
	}

	if res.Failed == 0 {
		r.metrics.LastSuccess.Set(float64(now.Unix()))
	}
	appLog.Info("refresh completed", "sources", res.Sources, "failed", res.Failed, "events", res.Events)
	return res, nil
}

// refreshSource returns the number of events stored and, on failure, the
// stage that failed.
func (r *Refresher) refreshSource(ctx context.Context, src ics.Source, now time.Time) (int, string, error) {
	fetched, err := r.fetcher.FetchOne(ctx, src)
	if err != nil {
		return 0, "fetch", err
	}

	parsed, err := ics.ParseICS(src, fetched.Body)
	if err != nil {
		return 0, "parse", err
	}

	expanded, err := ics.ExpandOccurrences(parsed, ics.ExpandConfig{
		DisplayLocation: r.opts.Location,
		RangeStart:      now.AddDate(0, 0, -r.opts.BackfillDays),
		RangeEnd:        now.AddDate(0, 0, r.opts.HorizonDays),
	})
	if err != nil {
		return 0, "expand", err
	}

	events := ics.ToRawEvents(src, expanded.Occurrences)
	if err := r.store.ReplaceSource(ctx, src.ID, events); err != nil {
		return 0, "store", fmt.Errorf("replace source %s: %w", src.ID, err)
	}

	appLog.Debug("refresh: source stored", "source", src.ID, "events", len(events), "from_cache", fetched.FromCache)
	return len(events), "", nil
}

// Start runs RunOnce on the cron schedule until ctx is done.
func (r *Refresher) Start(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithLocation(r.opts.Location))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			appLog.Warn("refresh: scheduled run aborted", "reason", err)
		}
	}); err != nil {
		return fmt.Errorf("refresh: schedule %q: %w", schedule, err)
	}

	c.Start()
	appLog.Info("refresh scheduler started", "schedule", schedule, "sources", len(r.opts.Sources))

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Info("refresh scheduler stopped")
	}()
	return nil
}
