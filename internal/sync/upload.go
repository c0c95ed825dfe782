package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/actsync/internal/fingerprint"
	"github.com/marcus/actsync/internal/models"
	"github.com/marcus/actsync/internal/observability"
	"github.com/marcus/actsync/internal/remote"
)

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeRetry
	outcomeFailed
)

// attempt is the typed result of one upload call.
type attempt struct {
	kind   outcomeKind
	result any
	wait   time.Duration
	err    error
}

func (o *Orchestrator) attemptUpload(ctx context.Context, act *models.LocalActivity, payload []byte) attempt {
	res, err := o.client.Upload(ctx, o.encoder.Filename(act), payload)
	if err == nil {
		return attempt{kind: outcomeSuccess, result: res}
	}
	if rl, ok := remote.IsRateLimited(err); ok {
		wait := rl.RetryAfter
		if !rl.Advised && wait <= 0 {
			wait = o.opts.DefaultRetryAfter
		}
		return attempt{kind: outcomeRetry, wait: wait, err: err}
	}
	return attempt{kind: outcomeFailed, err: err}
}

// upload submits payload, sleeping through rate limits up to MaxAttempts
// calls. When the limit persists it returns ErrRateLimited and the last
// advised wait.
func (o *Orchestrator) upload(ctx context.Context, act *models.LocalActivity, payload []byte, log *slog.Logger) (any, time.Duration, error) {
	var last attempt
	for n := 1; n <= o.opts.MaxAttempts; n++ {
		last = o.attemptUpload(ctx, act, payload)
		switch last.kind {
		case outcomeSuccess:
			return last.result, 0, nil
		case outcomeFailed:
			return nil, 0, last.err
		}
		observability.RecordRateLimitWait(o.opts.Vendor, o.opts.Account)
		if n == o.opts.MaxAttempts {
			break
		}
		log.Warn("rate limited, waiting", "retry_after", last.wait, "attempt", n)
		if err := o.Sleep(ctx, last.wait); err != nil {
			return nil, 0, err
		}
	}
	return nil, last.wait, fmt.Errorf("%w: activity %d: %w", ErrRateLimited, act.ID, last.err)
}

func computeHash(act *models.LocalActivity, stream models.DetailStream) (string, error) {
	return fingerprint.Compute(act, stream)
}
