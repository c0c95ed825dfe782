package observability

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryConfig enables error reporting.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
}

var sentryEnabled bool

// InitSentry initializes the Sentry client. An empty DSN disables
// reporting and is not an error.
func InitSentry(cfg SentryConfig, logger *slog.Logger) error {
	if cfg.DSN == "" {
		if logger != nil {
			logger.Debug("sentry DSN not configured, error reporting disabled")
		}
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			if event.Request != nil && event.Request.Headers != nil {
				delete(event.Request.Headers, "Authorization")
				delete(event.Request.Headers, "Cookie")
			}
			return event
		},
	})
	if err != nil {
		if logger != nil {
			logger.Error("sentry init failed", "err", err)
		}
		return fmt.Errorf("sentry init: %w", err)
	}
	sentryEnabled = true
	if logger != nil {
		logger.Debug("sentry initialized", "environment", cfg.Environment, "release", cfg.Release)
	}
	return nil
}

// CaptureError reports err with extra context. It does nothing when Sentry
// is not initialized.
func CaptureError(err error, context map[string]any) {
	if err == nil || !sentryEnabled {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for key, value := range context {
			scope.SetContext(key, sentry.Context{"value": value})
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for queued events to be sent.
func Flush(timeout time.Duration) bool {
	if !sentryEnabled {
		return true
	}
	return sentry.Flush(timeout)
}
