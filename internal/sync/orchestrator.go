package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/actsync/internal/db"
	"github.com/marcus/actsync/internal/matcher"
	"github.com/marcus/actsync/internal/models"
	"github.com/marcus/actsync/internal/observability"
	"github.com/marcus/actsync/internal/remote"
)

const (
	msgMissingRemote = "Remote activity not found during reconcile."
	msgConflict      = "Matched remote activity already reserved by another local activity."
)

// Orchestrator runs reconcile and upload passes for one vendor account.
// Activities are processed one at a time; independent accounts get their
// own orchestrator.
type Orchestrator struct {
	store   Store
	client  remote.Client
	encoder Encoder
	tol     matcher.Tolerances
	opts    Options

	// Runs records run history when set.
	Runs   RunRecorder
	Logger *slog.Logger
	Now    func() time.Time
	Sleep  Sleeper
}

// New creates an orchestrator.
func New(store Store, client remote.Client, enc Encoder, tol matcher.Tolerances, opts Options) *Orchestrator {
	return &Orchestrator{
		store:   store,
		client:  client,
		encoder: enc,
		tol:     tol,
		opts:    opts.withDefaults(),
		Now:     time.Now,
		Sleep:   sleepContext,
	}
}

// pass is the state of one run.
type pass struct {
	acts     []models.LocalActivity
	idx      *remote.Index
	records  map[int64]*models.SyncRecord
	reserved *reservations
	res      *Result
	log      *slog.Logger
}

// Reconcile resolves every local activity against the remote index and
// writes synced or missing_remote outcomes. It never uploads.
func (o *Orchestrator) Reconcile(ctx context.Context) (*Result, error) {
	return o.run(ctx, models.RunKindReconcile, o.reconcile)
}

// Sync reconciles, then uploads every activity the vendor does not have.
func (o *Orchestrator) Sync(ctx context.Context) (*Result, error) {
	return o.run(ctx, models.RunKindUpload, func(ctx context.Context, p *pass) error {
		if err := o.reconcile(ctx, p); err != nil {
			return err
		}
		records, err := o.store.LoadAll(o.opts.Vendor, o.opts.Account)
		if err != nil {
			return fmt.Errorf("reload sync status: %w", err)
		}
		p.records = records
		return o.uploadAll(ctx, p)
	})
}

func (o *Orchestrator) run(ctx context.Context, kind string, body func(context.Context, *pass) error) (*Result, error) {
	run := &models.SyncRun{
		RunID:     uuid.NewString(),
		Vendor:    o.opts.Vendor,
		Account:   o.opts.Account,
		Kind:      kind,
		StartedAt: o.now(),
	}
	p := &pass{
		reserved: newReservations(),
		res:      &Result{RunID: run.RunID, MissingStreams: map[string]int{}},
		log:      o.logger().With("run_id", run.RunID, "vendor", o.opts.Vendor, "account", o.opts.Account),
	}
	if o.Runs != nil {
		if err := o.Runs.StartRun(run); err != nil {
			p.log.Warn("record run start", "err", err)
		}
	}
	p.log.Info("run started", "kind", kind, "dry_run", o.opts.DryRun)

	err := o.load(ctx, p)
	if err == nil {
		err = body(ctx, p)
	}

	run.Uploaded = p.res.Uploaded
	run.Matched = p.res.Matched + p.res.Kept
	run.Skipped = p.res.Skipped + p.res.Deferred + p.res.LocalData + p.res.DryRun
	run.Conflicts = p.res.Conflicts
	run.Failed = p.res.Failed + p.res.Retrying
	if err != nil {
		run.Error = err.Error()
		p.log.Error("run stopped", "kind", kind, "err", err)
	} else {
		p.log.Info("run finished", "kind", kind,
			"matched", run.Matched, "uploaded", run.Uploaded, "skipped", run.Skipped,
			"conflicts", run.Conflicts, "failed", run.Failed, "missing_remote", p.res.Missing)
	}
	if o.Runs != nil && run.ID != 0 {
		if ferr := o.Runs.FinishRun(run); ferr != nil {
			p.log.Warn("record run finish", "err", ferr)
		}
	}
	observability.RecordRun(run)
	return p.res, err
}

func (o *Orchestrator) load(ctx context.Context, p *pass) error {
	acts, err := o.store.ListActivities()
	if err != nil {
		return fmt.Errorf("list local activities: %w", err)
	}
	listing, err := remote.FetchAll(ctx, o.client, o.opts.PageSize, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIndexFetch, err)
	}
	records, err := o.store.LoadAll(o.opts.Vendor, o.opts.Account)
	if err != nil {
		return fmt.Errorf("load sync status: %w", err)
	}
	p.acts = acts
	p.idx = remote.NewIndex(listing)
	p.records = records
	p.log.Debug("loaded", "local", len(acts), "remote", p.idx.Len(), "status_rows", len(records))
	return nil
}

func (o *Orchestrator) reconcile(ctx context.Context, p *pass) error {
	o.seedReservations(p)
	for i := range p.acts {
		if err := ctx.Err(); err != nil {
			return err
		}
		act := &p.acts[i]
		rec := p.records[act.ID]
		log := p.log.With("activity_id", act.ID)

		if id := rec.RemoteID(); id != "" && rec.Status != models.StatusConflict &&
			p.idx.Has(id) && !p.reserved.heldByOther(id, act.ID) {
			p.reserved.claim(id, act.ID)
			if err := o.markSynced(act, id, nil); err != nil {
				return err
			}
			o.count(p, observability.OutcomeStored)
			continue
		}

		if id, ok := p.reserved.matchFor(act, p.idx.Activities, o.tol); ok {
			p.reserved.claim(id, act.ID)
			hash := o.fingerprint(act, log)
			if err := o.markSynced(act, id, hash); err != nil {
				return err
			}
			log.Debug("matched remote activity", "remote_id", id)
			o.count(p, observability.OutcomeMatched)
			continue
		}

		if rec != nil && rec.Status == models.StatusSynced {
			msg := msgMissingRemote
			if err := o.upsert(db.StatusUpdate{ActivityID: act.ID, Status: models.StatusMissingRemote, LastError: &msg}); err != nil {
				return err
			}
			log.Warn("remote activity missing", "remote_id", rec.RemoteID())
			o.count(p, observability.OutcomeMissing)
		}
	}
	return nil
}

// seedReservations claims the ids of synced rows still present remotely,
// including rows whose local activity is no longer listed, so fuzzy matches
// never hand them to another activity. When two rows share an id the lower
// activity id keeps it.
func (o *Orchestrator) seedReservations(p *pass) {
	for _, activityID := range slices.Sorted(maps.Keys(p.records)) {
		rec := p.records[activityID]
		id := rec.RemoteID()
		if rec.Status != models.StatusSynced || id == "" || !p.idx.Has(id) {
			continue
		}
		if p.reserved.heldByOther(id, activityID) {
			continue
		}
		if _, ok := p.reserved.byActivity[activityID]; !ok {
			p.reserved.claim(id, activityID)
		}
	}
}

func (o *Orchestrator) uploadAll(ctx context.Context, p *pass) error {
	attempted := 0
	for i := range p.acts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.opts.Limit > 0 && attempted >= o.opts.Limit {
			p.log.Info("upload limit reached", "limit", o.opts.Limit)
			break
		}
		tried, err := o.syncOne(ctx, p, &p.acts[i])
		if tried {
			attempted++
		}
		if err != nil {
			return err
		}
	}
	if len(p.res.MissingStreams) > 0 {
		p.log.Info("activities without detail streams", "by_type", p.res.MissingStreams)
	}
	return nil
}

// syncOne decides and acts on one activity. It reports whether an upload
// was attempted; the error is non-nil only when the whole run must stop.
func (o *Orchestrator) syncOne(ctx context.Context, p *pass, act *models.LocalActivity) (bool, error) {
	rec := p.records[act.ID]
	log := p.log.With("activity_id", act.ID)

	if o.deferred(rec, log) {
		o.count(p, observability.OutcomeDeferred)
		return false, nil
	}

	stream, err := o.store.GetDetailStream(act.ID)
	if err != nil {
		log.Warn("skip activity: load detail stream", "err", err)
		o.count(p, observability.OutcomeLocalData)
		return false, nil
	}
	if len(stream) == 0 {
		p.res.MissingStreams[act.Type]++
	}
	hashValue, err := computeHash(act, stream)
	if err != nil {
		log.Warn("skip activity: fingerprint", "err", err)
		o.count(p, observability.OutcomeLocalData)
		return false, nil
	}
	hash := &hashValue

	if rec != nil && rec.Status == models.StatusSynced && rec.ContentHash != nil && *rec.ContentHash == hashValue {
		o.count(p, observability.OutcomeSkipped)
		return false, nil
	}

	if id, ok := p.reserved.matchFor(act, p.idx.Activities, o.tol); ok {
		p.reserved.claim(id, act.ID)
		if err := o.markSynced(act, id, hash); err != nil {
			return false, err
		}
		log.Debug("matched remote activity", "remote_id", id)
		o.count(p, observability.OutcomeMatched)
		return false, nil
	}

	if id, ok := matcher.Match(act, p.idx.Activities, nil, o.tol); ok {
		msg := msgConflict
		if err := o.upsert(db.StatusUpdate{ActivityID: act.ID, Status: models.StatusConflict, RemoteActivityID: &id, LastError: &msg}); err != nil {
			return false, err
		}
		log.Warn("remote match already reserved", "remote_id", id)
		o.count(p, observability.OutcomeConflict)
		return false, nil
	}

	if o.opts.DryRun {
		log.Info("dry run: would upload", "type", act.Type, "start", act.StartDate)
		o.count(p, observability.OutcomeDryRun)
		return true, nil
	}

	payload, err := o.encoder.Encode(act, stream)
	if err != nil {
		if errors.Is(err, models.ErrLocalData) {
			log.Warn("skip activity: encode", "err", err)
			o.count(p, observability.OutcomeLocalData)
			return false, nil
		}
		return true, o.markFailed(p, act, rec, err, log)
	}

	if err := o.upsert(db.StatusUpdate{ActivityID: act.ID, Status: models.StatusUploading}); err != nil {
		return true, err
	}

	result, wait, err := o.upload(ctx, act, payload, log)
	switch {
	case errors.Is(err, ErrRateLimited):
		msg := err.Error()
		next := o.now().Add(wait)
		if uerr := o.upsert(db.StatusUpdate{ActivityID: act.ID, Status: models.StatusPending, LastError: &msg, NextRetryAt: &next}); uerr != nil {
			return true, uerr
		}
		o.count(p, observability.OutcomeRateLimit)
		return true, err
	case ctx.Err() != nil:
		return true, ctx.Err()
	case remote.IsTransient(err):
		return true, o.markTransient(p, act, rec, err, log)
	case err != nil:
		return true, o.markFailed(p, act, rec, err, log)
	}

	id := o.resolveRemoteID(ctx, p, act, result, log)
	now := o.now()
	update := db.StatusUpdate{ActivityID: act.ID, Status: models.StatusSynced, ContentHash: hash, UploadedAt: &now}
	if id != "" {
		update.RemoteActivityID = &id
		update.LastVerifiedAt = &now
	}
	if err := o.upsert(update); err != nil {
		return true, err
	}
	log.Info("uploaded", "remote_id", id)
	o.count(p, observability.OutcomeUploaded)
	return true, nil
}

// resolveRemoteID finds the id of a just-uploaded activity, first in the
// upload response, then by re-matching against the newest listing pages.
// It returns "" when the id cannot be recovered.
func (o *Orchestrator) resolveRemoteID(ctx context.Context, p *pass, act *models.LocalActivity, result any, log *slog.Logger) string {
	if id, ok := remote.ExtractRemoteID(result, remote.RemoteIDKeys); ok {
		p.reserved.claim(id, act.ID)
		return id
	}

	window, err := remote.FetchAll(ctx, o.client, o.opts.VerifyPageSize, o.opts.VerifyPages)
	if err != nil {
		log.Warn("verify refetch failed", "err", err)
		return ""
	}
	id, ok := p.reserved.matchFor(act, remote.NewIndex(window).Activities, o.tol)
	if !ok {
		log.Warn("uploaded but remote id not recovered")
		return ""
	}
	p.reserved.claim(id, act.ID)
	return id
}

func (o *Orchestrator) markSynced(act *models.LocalActivity, remoteID string, hash *string) error {
	now := o.now()
	return o.upsert(db.StatusUpdate{
		ActivityID:       act.ID,
		Status:           models.StatusSynced,
		RemoteActivityID: &remoteID,
		ContentHash:      hash,
		LastVerifiedAt:   &now,
	})
}

// deferred reports whether rec keeps its activity out of this upload pass:
// failed rows wait for retry-failed, pending rows for their retry time.
func (o *Orchestrator) deferred(rec *models.SyncRecord, log *slog.Logger) bool {
	if rec == nil {
		return false
	}
	switch {
	case rec.Status == models.StatusFailed:
		var lastErr string
		if rec.LastError != nil {
			lastErr = *rec.LastError
		}
		log.Warn("skip failed activity until retry-failed", "attempts", rec.AttemptCount, "last_error", lastErr)
		return true
	case rec.Status == models.StatusPending && rec.NextRetryAt != nil && rec.NextRetryAt.After(o.now()):
		log.Debug("retry not due", "next_retry_at", rec.NextRetryAt.Format(time.RFC3339))
		return true
	}
	return false
}

// markTransient leaves the activity pending with a retry time that doubles
// with every attempt up to RetryBackoffCap.
func (o *Orchestrator) markTransient(p *pass, act *models.LocalActivity, rec *models.SyncRecord, cause error, log *slog.Logger) error {
	attempts := 1
	if rec != nil {
		attempts = rec.AttemptCount + 1
	}
	delay := o.opts.DefaultRetryAfter
	for i := 1; i < attempts && delay < o.opts.RetryBackoffCap; i++ {
		delay *= 2
	}
	delay = min(delay, o.opts.RetryBackoffCap)
	next := o.now().Add(delay)
	msg := cause.Error()
	if err := o.upsert(db.StatusUpdate{
		ActivityID:   act.ID,
		Status:       models.StatusPending,
		LastError:    &msg,
		AttemptCount: &attempts,
		NextRetryAt:  &next,
	}); err != nil {
		return err
	}
	log.Warn("upload failed, will retry", "err", cause, "attempts", attempts, "next_retry_at", next.Format(time.RFC3339))
	o.count(p, observability.OutcomeTransient)
	return nil
}

func (o *Orchestrator) markFailed(p *pass, act *models.LocalActivity, rec *models.SyncRecord, cause error, log *slog.Logger) error {
	attempts := 1
	if rec != nil {
		attempts = rec.AttemptCount + 1
	}
	msg := cause.Error()
	if err := o.upsert(db.StatusUpdate{ActivityID: act.ID, Status: models.StatusFailed, LastError: &msg, AttemptCount: &attempts}); err != nil {
		return err
	}
	log.Warn("upload failed, run retry-failed to try again", "err", cause, "attempts", attempts)
	o.count(p, observability.OutcomeFailed)
	return nil
}

func (o *Orchestrator) upsert(u db.StatusUpdate) error {
	u.Vendor = o.opts.Vendor
	u.Account = o.opts.Account
	if err := o.store.UpsertStatus(u); err != nil {
		return fmt.Errorf("write sync status: %w", err)
	}
	return nil
}

// fingerprint is best effort during reconcile: a nil hash leaves the stored
// one untouched and the upload pass recomputes it.
func (o *Orchestrator) fingerprint(act *models.LocalActivity, log *slog.Logger) *string {
	stream, err := o.store.GetDetailStream(act.ID)
	if err != nil {
		log.Debug("no fingerprint: load detail stream", "err", err)
		return nil
	}
	h, err := computeHash(act, stream)
	if err != nil {
		log.Debug("no fingerprint", "err", err)
		return nil
	}
	return &h
}

func (o *Orchestrator) count(p *pass, outcome string) {
	switch outcome {
	case observability.OutcomeStored:
		p.res.Kept++
	case observability.OutcomeMatched:
		p.res.Matched++
	case observability.OutcomeMissing:
		p.res.Missing++
	case observability.OutcomeUploaded:
		p.res.Uploaded++
	case observability.OutcomeSkipped:
		p.res.Skipped++
	case observability.OutcomeConflict:
		p.res.Conflicts++
	case observability.OutcomeFailed, observability.OutcomeRateLimit:
		p.res.Failed++
	case observability.OutcomeTransient:
		p.res.Retrying++
	case observability.OutcomeDeferred:
		p.res.Deferred++
	case observability.OutcomeLocalData:
		p.res.LocalData++
	case observability.OutcomeDryRun:
		p.res.DryRun++
	}
	observability.RecordActivity(o.opts.Vendor, o.opts.Account, outcome)
}

func (o *Orchestrator) now() time.Time {
	return o.Now().UTC()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}
