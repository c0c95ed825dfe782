// Package catalog keeps the local activity catalogue in step with the
// source account: new summaries are stored and queued for detail streams,
// and activities deleted at the source can be pruned.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/actsync/internal/models"
	"github.com/marcus/actsync/internal/observability"
)

// ErrUnsafePrune is returned when a prune would work from an incomplete or
// empty source listing.
var ErrUnsafePrune = errors.New("refusing to prune")

// Source lists activity summaries at the source account.
type Source interface {
	ListAllSince(ctx context.Context, after time.Time, limit int) ([]models.LocalActivity, error)
}

// Store is the catalogue plus the flyby queue it feeds.
type Store interface {
	LatestStartDate() (time.Time, error)
	UpsertActivities(acts []models.LocalActivity) ([]int64, error)
	EnqueueFlyby(ids []int64) (int, error)
	ActivityIDs() ([]int64, error)
	DeleteActivities(ids []int64) (int64, error)
}

// RunRecorder persists run history. It is optional.
type RunRecorder interface {
	StartRun(run *models.SyncRun) error
	FinishRun(run *models.SyncRun) error
}

// Options controls one import.
type Options struct {
	// Full lists the whole source account instead of only activities newer
	// than the latest local start.
	Full bool
	// Prune deletes local activities the source no longer lists. It implies
	// Full.
	Prune bool
	// Limit caps the summaries fetched; it cannot be combined with Prune.
	Limit int
}

// Result summarises one import.
type Result struct {
	RunID   string
	Fetched int
	Added   int
	Queued  int
	Pruned  int64
}

// Importer pulls source summaries into the store.
type Importer struct {
	source Source
	store  Store

	Runs   RunRecorder
	Logger *slog.Logger
	Now    func() time.Time
}

// New creates an importer.
func New(store Store, source Source) *Importer {
	return &Importer{store: store, source: source, Now: time.Now}
}

// Run performs one import and records it as an import run.
func (im *Importer) Run(ctx context.Context, opts Options) (*Result, error) {
	run := &models.SyncRun{
		RunID:     uuid.NewString(),
		Vendor:    models.VendorStrava,
		Kind:      models.RunKindImport,
		StartedAt: im.Now().UTC(),
	}
	log := im.logger().With("run_id", run.RunID)
	if im.Runs != nil {
		if err := im.Runs.StartRun(run); err != nil {
			log.Warn("record run start", "err", err)
		}
	}

	res := &Result{RunID: run.RunID}
	err := im.run(ctx, opts, res, log)

	run.Uploaded = res.Added
	run.Skipped = res.Fetched - res.Added
	if err != nil {
		run.Error = err.Error()
		log.Error("import stopped", "err", err)
	} else {
		log.Info("import finished", "fetched", res.Fetched, "added", res.Added, "queued", res.Queued, "pruned", res.Pruned)
	}
	if im.Runs != nil && run.ID != 0 {
		if ferr := im.Runs.FinishRun(run); ferr != nil {
			log.Warn("record run finish", "err", ferr)
		}
	}
	observability.RecordRun(run)
	return res, err
}

func (im *Importer) run(ctx context.Context, opts Options, res *Result, log *slog.Logger) error {
	if opts.Prune && opts.Limit > 0 {
		return fmt.Errorf("%w: a limited listing is incomplete", ErrUnsafePrune)
	}

	var after time.Time
	if !opts.Full && !opts.Prune {
		latest, err := im.store.LatestStartDate()
		if err != nil {
			return fmt.Errorf("latest start date: %w", err)
		}
		after = latest
	}
	log.Info("listing source activities", "after", after, "full", after.IsZero())

	acts, err := im.source.ListAllSince(ctx, after, opts.Limit)
	if err != nil {
		return fmt.Errorf("list source activities: %w", err)
	}
	res.Fetched = len(acts)

	added, err := im.store.UpsertActivities(acts)
	if err != nil {
		return fmt.Errorf("store activities: %w", err)
	}
	res.Added = len(added)

	queued, err := im.store.EnqueueFlyby(added)
	if err != nil {
		return fmt.Errorf("queue detail streams: %w", err)
	}
	res.Queued = queued

	if opts.Prune {
		pruned, err := im.prune(acts)
		if err != nil {
			return err
		}
		res.Pruned = pruned
	}
	return nil
}

func (im *Importer) prune(listed []models.LocalActivity) (int64, error) {
	local, err := im.store.ActivityIDs()
	if err != nil {
		return 0, fmt.Errorf("list local ids: %w", err)
	}
	if len(listed) == 0 && len(local) > 0 {
		return 0, fmt.Errorf("%w: source listed no activities", ErrUnsafePrune)
	}

	keep := make(map[int64]struct{}, len(listed))
	for _, a := range listed {
		keep[a.ID] = struct{}{}
	}
	var gone []int64
	for _, id := range local {
		if _, ok := keep[id]; !ok {
			gone = append(gone, id)
		}
	}
	if len(gone) == 0 {
		return 0, nil
	}
	n, err := im.store.DeleteActivities(gone)
	if err != nil {
		return 0, fmt.Errorf("prune activities: %w", err)
	}
	return n, nil
}

func (im *Importer) logger() *slog.Logger {
	if im.Logger != nil {
		return im.Logger
	}
	return slog.Default()
}
