// Package models holds the types shared by the store, the matcher and the
// sync engine.
package models

import (
	"errors"
	"time"
)

// ErrLocalData marks a problem with a local activity (missing detail stream,
// malformed row). The activity is skipped; no status row is written.
var ErrLocalData = errors.New("local data")

// SyncStatus is the state of one (activity, vendor, account) triple.
type SyncStatus string

const (
	StatusPending       SyncStatus = "pending"
	StatusUploading     SyncStatus = "uploading"
	StatusSynced        SyncStatus = "synced"
	StatusFailed        SyncStatus = "failed"
	StatusMissingRemote SyncStatus = "missing_remote"
	StatusConflict      SyncStatus = "conflict"
)

// AllStatuses lists every status in display order.
var AllStatuses = []SyncStatus{
	StatusPending,
	StatusUploading,
	StatusSynced,
	StatusFailed,
	StatusMissingRemote,
	StatusConflict,
}

// IsValid reports whether s is a known status.
func (s SyncStatus) IsValid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Vendor identifies a remote activity platform.
type Vendor string

const (
	VendorGarmin Vendor = "garmin"
	VendorStrava Vendor = "strava"
)

// Garmin accounts are keyed by the regional domain they live on.
const (
	AccountGarminCom = "garmin_com"
	AccountGarminCN  = "garmin_cn"
)

// LocalActivity is one activity summary from the local catalogue.
type LocalActivity struct {
	ID               int64     `json:"run_id"`
	Name             string    `json:"name"`
	Distance         float64   `json:"distance"`     // meters
	MovingTime       float64   `json:"moving_time"`  // seconds
	ElapsedTime      float64   `json:"elapsed_time"` // seconds
	Type             string    `json:"type"`
	Subtype          string    `json:"subtype,omitempty"`
	StartDate        time.Time `json:"start_date"`
	StartDateLocal   time.Time `json:"start_date_local"`
	LocationCountry  string    `json:"location_country,omitempty"`
	SummaryPolyline  string    `json:"summary_polyline,omitempty"`
	AverageHeartrate *float64  `json:"average_heartrate,omitempty"`
	AverageSpeed     *float64  `json:"average_speed,omitempty"`
	ElevationGain    *float64  `json:"elevation_gain,omitempty"`
}

// Duration returns the elapsed time, falling back to moving time.
func (a *LocalActivity) Duration() time.Duration {
	secs := a.ElapsedTime
	if secs <= 0 {
		secs = a.MovingTime
	}
	return time.Duration(secs * float64(time.Second))
}

// DetailSample is one row of an activity's flyby stream. Optional channels
// are nil when the source did not record them.
type DetailSample struct {
	TimeOffset int64    `json:"time_offset"` // seconds from start
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
	Altitude   *float64 `json:"alt,omitempty"`
	HeartRate  *float64 `json:"hr,omitempty"`
	Cadence    *float64 `json:"cadence,omitempty"`
	Speed      *float64 `json:"speed,omitempty"`    // m/s
	Power      *float64 `json:"power,omitempty"`    // watts
	Distance   *float64 `json:"distance,omitempty"` // meters from start
}

// DetailStream is the time-ordered flyby data of one activity.
type DetailStream []DetailSample

// RemoteActivity is one entry of a vendor's activity listing.
type RemoteActivity struct {
	ID        string
	StartTime time.Time
	// Duration is zero with HasDuration false when the vendor omitted it.
	Duration    time.Duration
	HasDuration bool
	Distance    float64 // meters
	TypeKey     string  // lowercased vendor type key, "" if unknown
	Raw         map[string]any
}

// SyncRecord is one row of the sync status table.
type SyncRecord struct {
	ActivityID       int64      `json:"activity_id"`
	Vendor           Vendor     `json:"vendor"`
	Account          string     `json:"account"`
	Status           SyncStatus `json:"status"`
	RemoteActivityID *string    `json:"remote_activity_id,omitempty"`
	ContentHash      *string    `json:"content_hash,omitempty"`
	LastError        *string    `json:"last_error,omitempty"`
	AttemptCount     int        `json:"attempt_count"`
	NextRetryAt      *time.Time `json:"next_retry_at,omitempty"`
	UploadedAt       *time.Time `json:"uploaded_at,omitempty"`
	LastVerifiedAt   *time.Time `json:"last_verified_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// RemoteID returns the stored remote id or "".
func (r *SyncRecord) RemoteID() string {
	if r == nil || r.RemoteActivityID == nil {
		return ""
	}
	return *r.RemoteActivityID
}

// FlybyStatus is the state of a flyby queue entry.
type FlybyStatus string

const (
	FlybyPending     FlybyStatus = "pending"
	FlybyError       FlybyStatus = "error"
	FlybyRateLimited FlybyStatus = "rate_limited"
)

// FlybyEntry is one row of the flyby queue.
type FlybyEntry struct {
	ActivityID   int64       `json:"activity_id"`
	Status       FlybyStatus `json:"status"`
	LastError    string      `json:"last_error,omitempty"`
	AttemptCount int         `json:"attempt_count"`
	NextRetryAt  *time.Time  `json:"next_retry_at,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// SyncRun is one recorded reconcile, upload or flyby pass.
type SyncRun struct {
	ID         int64      `json:"id"`
	RunID      string     `json:"run_id"`
	Vendor     Vendor     `json:"vendor"`
	Account    string     `json:"account"`
	Kind       string     `json:"kind"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Uploaded   int        `json:"uploaded"`
	Matched    int        `json:"matched"`
	Skipped    int        `json:"skipped"`
	Conflicts  int        `json:"conflicts"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
}

// Run kinds recorded in sync_runs.
const (
	RunKindReconcile = "reconcile"
	RunKindUpload    = "upload"
	RunKindFlyby     = "flyby"
	RunKindImport    = "import"
)
