package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/actsync/internal/models"
)

// StatusUpdate is one write to the sync status table. Nil optional fields
// keep the stored value; Status and LastError always overwrite.
type StatusUpdate struct {
	ActivityID       int64
	Vendor           models.Vendor
	Account          string
	Status           models.SyncStatus
	RemoteActivityID *string
	ContentHash      *string
	LastError        *string
	AttemptCount     *int
	NextRetryAt      *time.Time
	UploadedAt       *time.Time
	LastVerifiedAt   *time.Time
}

const statusColumns = `activity_id, vendor, account, status, remote_activity_id, content_hash,
	last_error, attempt_count, next_retry_at, uploaded_at, last_verified_at, updated_at`

// UpsertStatus inserts or merges one status row.
func (db *DB) UpsertStatus(u StatusUpdate) error {
	if !u.Status.IsValid() {
		return fmt.Errorf("upsert status %d: invalid status %q", u.ActivityID, u.Status)
	}
	var attempts any
	if u.AttemptCount != nil {
		attempts = *u.AttemptCount
	}
	return db.withWriteLock(func() error {
		_, err := db.exec(`
			INSERT INTO vendor_activity_sync (`+statusColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, 0), ?, ?, ?, ?)
			ON CONFLICT(activity_id, vendor, account) DO UPDATE SET
				status = excluded.status,
				remote_activity_id = COALESCE(?, vendor_activity_sync.remote_activity_id),
				content_hash = COALESCE(?, vendor_activity_sync.content_hash),
				last_error = excluded.last_error,
				attempt_count = COALESCE(?, vendor_activity_sync.attempt_count),
				next_retry_at = COALESCE(?, vendor_activity_sync.next_retry_at),
				uploaded_at = COALESCE(?, vendor_activity_sync.uploaded_at),
				last_verified_at = COALESCE(?, vendor_activity_sync.last_verified_at),
				updated_at = excluded.updated_at
		`,
			u.ActivityID, string(u.Vendor), u.Account, string(u.Status), u.RemoteActivityID, u.ContentHash,
			u.LastError, attempts, nullTime(u.NextRetryAt), nullTime(u.UploadedAt), nullTime(u.LastVerifiedAt),
			db.timestamp(),
			u.RemoteActivityID, u.ContentHash, attempts,
			nullTime(u.NextRetryAt), nullTime(u.UploadedAt), nullTime(u.LastVerifiedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert status %d/%s/%s: %w", u.ActivityID, u.Vendor, u.Account, err)
		}
		return nil
	})
}

// LoadAll returns every status row for one account keyed by activity id.
func (db *DB) LoadAll(vendor models.Vendor, account string) (map[int64]*models.SyncRecord, error) {
	rows, err := db.query(`SELECT `+statusColumns+` FROM vendor_activity_sync
		WHERE vendor = ? AND account = ?`, string(vendor), account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]*models.SyncRecord)
	for rows.Next() {
		rec, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out[rec.ActivityID] = rec
	}
	return out, rows.Err()
}

// GetStatus returns one status row, or nil when none exists.
func (db *DB) GetStatus(activityID int64, vendor models.Vendor, account string) (*models.SyncRecord, error) {
	rows, err := db.query(`SELECT `+statusColumns+` FROM vendor_activity_sync
		WHERE activity_id = ? AND vendor = ? AND account = ?`, activityID, string(vendor), account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanStatus(rows)
}

// ListByStatus returns rows in one status, most recently updated first.
// An empty account matches every account of the vendor.
func (db *DB) ListByStatus(vendor models.Vendor, account string, status models.SyncStatus, limit int) ([]models.SyncRecord, error) {
	q := `SELECT ` + statusColumns + ` FROM vendor_activity_sync WHERE vendor = ? AND status = ?`
	args := []any{string(vendor), string(status)}
	if account != "" {
		q += ` AND account = ?`
		args = append(args, account)
	}
	q += ` ORDER BY updated_at DESC, activity_id LIMIT ?`
	args = append(args, limit)

	rows, err := db.query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SyncRecord
	for rows.Next() {
		rec, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// RetryFailed moves every failed row back to pending, clearing last_error
// and next_retry_at. An empty account resets all accounts of the vendor.
// Returns the number of rows changed.
func (db *DB) RetryFailed(vendor models.Vendor, account string) (int64, error) {
	q := `UPDATE vendor_activity_sync
		SET status = ?, last_error = NULL, next_retry_at = NULL, updated_at = ?
		WHERE vendor = ? AND status = ?`
	args := []any{string(models.StatusPending), db.timestamp(), string(vendor), string(models.StatusFailed)}
	if account != "" {
		q += ` AND account = ?`
		args = append(args, account)
	}

	var n int64
	err := db.withWriteLock(func() error {
		res, err := db.exec(q, args...)
		if err != nil {
			return fmt.Errorf("retry failed: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// StatusCounts returns the number of rows per status. An empty account
// aggregates every account of the vendor.
func (db *DB) StatusCounts(vendor models.Vendor, account string) (map[models.SyncStatus]int, error) {
	q := `SELECT status, COUNT(*) FROM vendor_activity_sync WHERE vendor = ?`
	args := []any{string(vendor)}
	if account != "" {
		q += ` AND account = ?`
		args = append(args, account)
	}
	q += ` GROUP BY status ORDER BY status`

	rows, err := db.query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.SyncStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.SyncStatus(status)] = n
	}
	return counts, rows.Err()
}

// DeleteAccountStatus removes every status row of one account. This is the
// only path that deletes status rows.
func (db *DB) DeleteAccountStatus(vendor models.Vendor, account string) (int64, error) {
	var n int64
	err := db.withWriteLock(func() error {
		res, err := db.exec(`DELETE FROM vendor_activity_sync WHERE vendor = ? AND account = ?`,
			string(vendor), account)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func scanStatus(rows *sql.Rows) (*models.SyncRecord, error) {
	var (
		rec                           models.SyncRecord
		vendor, status                string
		remoteID, hash, lastErr       sql.NullString
		nextRetry, uploaded, verified sql.NullString
		updated                       string
	)
	if err := rows.Scan(&rec.ActivityID, &vendor, &rec.Account, &status, &remoteID, &hash,
		&lastErr, &rec.AttemptCount, &nextRetry, &uploaded, &verified, &updated); err != nil {
		return nil, err
	}
	rec.Vendor = models.Vendor(vendor)
	rec.Status = models.SyncStatus(status)
	rec.RemoteActivityID = stringPtr(remoteID)
	rec.ContentHash = stringPtr(hash)
	rec.LastError = stringPtr(lastErr)

	var err error
	if rec.NextRetryAt, err = scanTime(nextRetry); err != nil {
		return nil, fmt.Errorf("activity %d next_retry_at: %w", rec.ActivityID, err)
	}
	if rec.UploadedAt, err = scanTime(uploaded); err != nil {
		return nil, fmt.Errorf("activity %d uploaded_at: %w", rec.ActivityID, err)
	}
	if rec.LastVerifiedAt, err = scanTime(verified); err != nil {
		return nil, fmt.Errorf("activity %d last_verified_at: %w", rec.ActivityID, err)
	}
	if t, err := parseTimestamp(updated); err == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
