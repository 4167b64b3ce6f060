package subscribe

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	appLog "calimport/internal/log"
	"calimport/internal/model"
)

// ImportFunc imports one fetched feed; res.Open yields the cached body.
type ImportFunc func(ctx context.Context, src Source, res *FetchResult) (*model.Result, error)

// Watcher re-imports subscribed feeds on a cron schedule.
type Watcher struct {
	Fetcher *Fetcher
	Sources []Source
	Import  ImportFunc
	// Schedule is a cron expression ("*/15 * * * *") or descriptor
	// ("@every 10m").
	Schedule string

	// Unchanged feeds are skipped unless Force is set.
	Force bool

	mu      sync.Mutex // serializes runs
	lastErr error
}

// RunOnce fetches every source and imports those whose body changed.
// It returns the first error seen; the other sources still run.
func (w *Watcher) RunOnce(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	results, errs := w.Fetcher.FetchAll(ctx, w.Sources)
	var first error
	if len(errs) > 0 {
		first = errs[0]
	}

	for i := range results {
		res := &results[i]
		if !res.Changed && !w.Force {
			appLog.Debug("feed unchanged, skipping import", "id", res.Source.ID)
			continue
		}
		out, err := w.Import(ctx, res.Source, res)
		if err != nil {
			appLog.Error("feed import failed", err, "id", res.Source.ID, "calendar", res.Source.Calendar)
			if first == nil {
				first = err
			}
			continue
		}
		appLog.Info("feed imported",
			"id", res.Source.ID,
			"calendar", res.Source.Calendar,
			"created", out.Count(model.OutcomeCreated),
			"updated", out.Count(model.OutcomeUpdated),
			"exists", out.Count(model.OutcomeExists),
			"invalid", out.Count(model.OutcomeInvalid),
			"error", out.Count(model.OutcomeError),
		)
	}
	w.lastErr = first
	return first
}

// LastError returns the error of the most recent run, if any.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Run performs an initial import and then follows the schedule until ctx
// is done.
func (w *Watcher) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(w.Schedule, func() {
		_ = w.RunOnce(ctx)
	}); err != nil {
		return err
	}

	appLog.Info("feed watcher started", "sources", len(w.Sources), "schedule", w.Schedule)
	_ = w.RunOnce(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("feed watcher stopped")
	return nil
}
