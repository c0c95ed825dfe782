// Package sync reconciles local activities against one vendor account and
// uploads the ones the vendor does not have yet, recording every decision in
// the sync status table.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/marcus/actsync/internal/db"
	"github.com/marcus/actsync/internal/models"
)

var (
	// ErrRateLimited means the vendor kept rate limiting the same activity
	// and the run stopped early.
	ErrRateLimited = errors.New("rate limited: run stopped early")
	// ErrIndexFetch means the remote listing could not be fetched, so
	// nothing can be decided for the account.
	ErrIndexFetch = errors.New("fetch remote index")
)

// Store is the slice of the database the orchestrator needs.
type Store interface {
	ListActivities() ([]models.LocalActivity, error)
	GetDetailStream(activityID int64) (models.DetailStream, error)
	LoadAll(vendor models.Vendor, account string) (map[int64]*models.SyncRecord, error)
	UpsertStatus(u db.StatusUpdate) error
}

// RunRecorder persists run history. It is optional.
type RunRecorder interface {
	StartRun(run *models.SyncRun) error
	FinishRun(run *models.SyncRun) error
}

// Encoder builds the upload payload for one activity.
type Encoder interface {
	Encode(a *models.LocalActivity, stream models.DetailStream) ([]byte, error)
	Filename(a *models.LocalActivity) string
}

// Options tunes one orchestrator.
type Options struct {
	Vendor  models.Vendor
	Account string

	// PageSize is the listing page size for the full index fetch.
	PageSize int
	// VerifyPageSize and VerifyPages bound the id recovery refetch after
	// an upload whose response carried no id.
	VerifyPageSize int
	VerifyPages    int

	// MaxAttempts bounds rate-limited retries of a single activity.
	MaxAttempts       int
	DefaultRetryAfter time.Duration
	// RetryBackoffCap bounds the delay before a transient failure is
	// retried. The delay doubles from DefaultRetryAfter per attempt.
	RetryBackoffCap time.Duration

	// Limit caps the uploads attempted in one run; zero means no cap.
	Limit  int
	DryRun bool
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.VerifyPageSize <= 0 {
		o.VerifyPageSize = 50
	}
	if o.VerifyPages <= 0 {
		o.VerifyPages = 2
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.DefaultRetryAfter <= 0 {
		o.DefaultRetryAfter = 60 * time.Second
	}
	if o.RetryBackoffCap <= 0 {
		o.RetryBackoffCap = 6 * time.Hour
	}
	return o
}

// Result counts the decisions of one pass.
type Result struct {
	RunID     string
	Matched   int
	Kept      int
	Missing   int
	Uploaded  int
	Skipped   int
	Conflicts int
	Failed    int
	// Retrying counts transient failures scheduled for a later run.
	Retrying int
	// Deferred counts failed rows waiting for retry-failed and pending
	// rows whose retry time has not come.
	Deferred  int
	LocalData int
	DryRun    int
	// MissingStreams counts activities without detail samples, by type.
	MissingStreams map[string]int
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
