// Package flyby drains the detail stream queue: activities whose per-second
// samples still have to be fetched from the source API.
package flyby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/marcus/actsync/internal/models"
	"github.com/marcus/actsync/internal/observability"
	"github.com/marcus/actsync/internal/remote"
	"github.com/marcus/actsync/internal/strava"
)

// Source fetches one activity's detail stream.
type Source interface {
	GetStreams(ctx context.Context, activityID int64) (models.DetailStream, error)
}

// Queue is the durable backlog plus the stream table it fills.
type Queue interface {
	ListPendingFlyby(now time.Time, maxAttempts int) ([]models.FlybyEntry, error)
	ReplaceDetailStream(activityID int64, stream models.DetailStream) error
	MarkFlybyDone(activityID int64) error
	MarkFlybyError(activityID int64, status models.FlybyStatus, message string, nextRetry *time.Time) error
}

// RunRecorder persists run history. It is optional.
type RunRecorder interface {
	StartRun(run *models.SyncRun) error
	FinishRun(run *models.SyncRun) error
}

// Options tunes the processing loop.
type Options struct {
	RequestDelay time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	// Limit caps the entries processed in one run; zero means all due.
	Limit int
}

// Result summarises one run.
type Result struct {
	Stored      int
	Errors      int
	RateLimited bool
	// RetryAfter is the advised wait when RateLimited is set.
	RetryAfter time.Duration
}

// Processor fetches and stores detail streams for queued activities.
type Processor struct {
	queue   Queue
	source  Source
	opts    Options
	limiter *rate.Limiter

	Runs   RunRecorder
	Logger *slog.Logger
	Now    func() time.Time
}

// New creates a processor. Requests are spaced RequestDelay apart.
func New(queue Queue, source Source, opts Options) *Processor {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 60 * time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 900 * time.Second
	}
	limit := rate.Inf
	if opts.RequestDelay > 0 {
		limit = rate.Every(opts.RequestDelay)
	}
	return &Processor{
		queue:   queue,
		source:  source,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		Now:     time.Now,
	}
}

// Backoff returns min(base * 2^attempt, ceiling).
func Backoff(base, ceiling time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 32 {
		return ceiling
	}
	d := base << attempt
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

// Run processes every due entry. A rate limit pauses the whole loop: the
// entry is marked rate_limited and Run returns early without error. The
// error is non-nil only when the queue itself fails, the credentials are
// rejected or ctx is done.
func (p *Processor) Run(ctx context.Context) (*Result, error) {
	run := &models.SyncRun{RunID: uuid.NewString(), Vendor: models.VendorStrava, Kind: models.RunKindFlyby, StartedAt: p.now()}
	log := p.logger().With("run_id", run.RunID)
	if p.Runs != nil {
		if err := p.Runs.StartRun(run); err != nil {
			log.Warn("record run start", "err", err)
		}
	}

	res, err := p.drain(ctx, log)

	run.Uploaded = res.Stored
	run.Failed = res.Errors
	if err != nil {
		run.Error = err.Error()
	} else if res.RateLimited {
		run.Error = "rate limited"
	}
	if p.Runs != nil && run.ID != 0 {
		if ferr := p.Runs.FinishRun(run); ferr != nil {
			log.Warn("record run finish", "err", ferr)
		}
	}
	observability.RecordRun(run)
	return res, err
}

func (p *Processor) drain(ctx context.Context, log *slog.Logger) (*Result, error) {
	res := &Result{}
	entries, err := p.queue.ListPendingFlyby(p.now(), p.opts.MaxRetries)
	if err != nil {
		return res, fmt.Errorf("list flyby queue: %w", err)
	}
	if p.opts.Limit > 0 && len(entries) > p.opts.Limit {
		entries = entries[:p.opts.Limit]
	}
	log.Info("flyby queue", "due", len(entries))

	for _, e := range entries {
		if err := p.limiter.Wait(ctx); err != nil {
			return res, err
		}
		elog := log.With("activity_id", e.ActivityID)

		stream, err := p.source.GetStreams(ctx, e.ActivityID)
		if err == nil {
			if err := p.queue.ReplaceDetailStream(e.ActivityID, stream); err != nil {
				return res, fmt.Errorf("store flyby %d: %w", e.ActivityID, err)
			}
			if err := p.queue.MarkFlybyDone(e.ActivityID); err != nil {
				return res, fmt.Errorf("mark flyby %d done: %w", e.ActivityID, err)
			}
			elog.Debug("stored detail stream", "samples", len(stream))
			observability.RecordFlyby(observability.OutcomeStored)
			res.Stored++
			continue
		}

		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if rl, ok := remote.IsRateLimited(err); ok {
			next := p.now().Add(rl.RetryAfter)
			if merr := p.queue.MarkFlybyError(e.ActivityID, models.FlybyRateLimited, err.Error(), &next); merr != nil {
				return res, fmt.Errorf("mark flyby %d: %w", e.ActivityID, merr)
			}
			elog.Warn("rate limited, pausing flyby queue", "retry_after", rl.RetryAfter)
			observability.RecordFlyby(observability.OutcomeRateLimit)
			res.RateLimited = true
			res.RetryAfter = rl.RetryAfter
			return res, nil
		}
		if errors.Is(err, remote.ErrUnauthorized) {
			return res, fmt.Errorf("fetch streams: %w", err)
		}

		next := p.now().Add(Backoff(p.opts.BackoffBase, p.opts.BackoffCap, e.AttemptCount))
		if merr := p.queue.MarkFlybyError(e.ActivityID, models.FlybyError, err.Error(), &next); merr != nil {
			return res, fmt.Errorf("mark flyby %d: %w", e.ActivityID, merr)
		}
		res.Errors++
		outcome := observability.OutcomeFetchError
		if errors.Is(err, strava.ErrNoUsableStreams) {
			outcome = observability.OutcomeNoStreams
		}
		observability.RecordFlyby(outcome)
		if e.AttemptCount+1 >= p.opts.MaxRetries {
			elog.Warn("flyby retries exhausted, left in queue", "err", err, "attempts", e.AttemptCount+1)
		} else {
			elog.Warn("flyby fetch failed", "err", err, "attempts", e.AttemptCount+1, "next_retry_at", next)
		}
	}
	return res, nil
}

func (p *Processor) now() time.Time {
	return p.Now().UTC()
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
