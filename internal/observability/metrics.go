// Package observability holds the process metrics, written to a node
// exporter textfile at the end of each command, and optional Sentry error
// reporting.
package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marcus/actsync/internal/models"
)

const namespace = "actsync"

// Activity outcomes recorded by the upload orchestrator.
const (
	OutcomeUploaded   = "uploaded"
	OutcomeMatched    = "matched"
	OutcomeSkipped    = "skipped"
	OutcomeConflict   = "conflict"
	OutcomeFailed     = "failed"
	OutcomeLocalData  = "local_data"
	OutcomeMissing    = "missing_remote"
	OutcomeDryRun     = "dry_run"
	OutcomeStored     = "stored"
	OutcomeRateLimit  = "rate_limited"
	OutcomeTransient  = "transient"
	OutcomeDeferred   = "deferred"
	OutcomeNoStreams  = "no_streams"
	OutcomeFetchError = "error"
)

var (
	activitiesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "activities_total",
		Help:      "Activities processed by reconcile and upload passes, by outcome.",
	}, []string{"vendor", "account", "outcome"})

	rateLimitCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "rate_limit_waits_total",
		Help:      "Times a pass slept on a vendor rate limit.",
	}, []string{"vendor", "account"})

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "run_duration_seconds",
		Help:      "Wall time of reconcile, upload, import and flyby runs.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"kind", "vendor"})

	lastRunGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "last_run_timestamp_seconds",
		Help:      "Finish time of the most recent run.",
	}, []string{"kind", "vendor", "account"})

	statusGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "status_rows",
		Help:      "Sync status rows per state.",
	}, []string{"vendor", "account", "status"})

	flybyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "flyby",
		Name:      "entries_total",
		Help:      "Flyby queue entries processed, by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(activitiesCounter, rateLimitCounter, runDuration, lastRunGauge, statusGauge, flybyCounter)
}

// RecordActivity counts one per-activity decision.
func RecordActivity(vendor models.Vendor, account, outcome string) {
	activitiesCounter.WithLabelValues(string(vendor), account, outcome).Inc()
}

// RecordRateLimitWait counts one rate-limit sleep.
func RecordRateLimitWait(vendor models.Vendor, account string) {
	rateLimitCounter.WithLabelValues(string(vendor), account).Inc()
}

// RecordRun observes a finished run.
func RecordRun(run *models.SyncRun) {
	end := time.Now()
	if run.FinishedAt != nil {
		end = *run.FinishedAt
	}
	runDuration.WithLabelValues(run.Kind, string(run.Vendor)).Observe(end.Sub(run.StartedAt).Seconds())
	lastRunGauge.WithLabelValues(run.Kind, string(run.Vendor), run.Account).Set(float64(end.Unix()))
}

// SetStatusCounts publishes the per-state row counts of one account.
func SetStatusCounts(vendor models.Vendor, account string, counts map[models.SyncStatus]int) {
	for _, s := range models.AllStatuses {
		statusGauge.WithLabelValues(string(vendor), account, string(s)).Set(float64(counts[s]))
	}
}

// RecordFlyby counts one flyby queue entry.
func RecordFlyby(outcome string) {
	flybyCounter.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes every registered metric to path in the Prometheus
// text format. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
