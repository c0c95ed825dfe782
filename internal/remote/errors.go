// Package remote holds what the sync engine needs from any vendor: the
// listing contract, the paged fetch-all index, the error taxonomy and the
// remote id extraction from loosely typed upload responses.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// DefaultRetryAfter is used when a rate-limited response carries no hint.
const DefaultRetryAfter = 60 * time.Second

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

// RateLimitError is a transient failure; the caller should wait RetryAfter
// and try again.
type RateLimitError struct {
	RetryAfter time.Duration
	// Advised is set when RetryAfter came from the server, so a zero wait
	// is meant literally.
	Advised bool
	Message string
}

func (e *RateLimitError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "too many requests"
	}
	return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, msg)
}

// PermanentError is a rejection that retrying will not fix, such as a
// validation failure or a duplicate upload.
type PermanentError struct {
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// TransientError is a server-side failure (5xx) that may succeed later.
type TransientError struct {
	StatusCode int
	Message    string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited unwraps err to a *RateLimitError.
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// IsPermanent reports whether err is a permanent rejection.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe) || errors.Is(err, ErrUnauthorized)
}

// IsTransient reports whether err is worth retrying later without operator
// action: a 5xx response, a network failure or a request timeout.
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded)
}

// ClassifyStatus maps an HTTP error response to the taxonomy. body is the
// response text used as the message.
func ClassifyStatus(resp *http.Response, body string) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		wait, ok := ParseRetryAfter(resp.Header)
		if !ok {
			wait = DefaultRetryAfter
		}
		return &RateLimitError{RetryAfter: wait, Advised: ok, Message: body}
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, body)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, body)
	case resp.StatusCode >= 500:
		return &TransientError{StatusCode: resp.StatusCode, Message: body}
	default:
		return &PermanentError{StatusCode: resp.StatusCode, Message: body}
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date and reports whether it held a usable value. A past date yields zero.
func ParseRetryAfter(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0), true
	}
	return 0, false
}
