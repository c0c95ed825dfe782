package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/actsync/internal/models"
)

// EnqueueFlyby adds activity ids to the flyby queue. Ids already queued keep
// their state. Returns how many were newly added.
func (db *DB) EnqueueFlyby(ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	added := 0
	err := db.withWriteLock(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(db.dialect.rebind(`
			INSERT INTO flyby_queue (activity_id, status, last_error, attempt_count, updated_at)
			VALUES (?, ?, '', 0, ?)
			ON CONFLICT(activity_id) DO NOTHING
		`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := db.timestamp()
		for _, id := range ids {
			res, err := stmt.Exec(id, string(models.FlybyPending), now)
			if err != nil {
				return fmt.Errorf("enqueue flyby %d: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added++
			}
		}
		return tx.Commit()
	})
	return added, err
}

// ListFlyby returns every queue entry, oldest activity first.
func (db *DB) ListFlyby() ([]models.FlybyEntry, error) {
	return db.listFlyby(`SELECT activity_id, status, last_error, attempt_count, next_retry_at, updated_at
		FROM flyby_queue ORDER BY activity_id`)
}

// ListPendingFlyby returns entries that are due at now: pending or
// rate-limited rows, and error rows whose retry time has passed and which
// have fewer than maxAttempts failures.
func (db *DB) ListPendingFlyby(now time.Time, maxAttempts int) ([]models.FlybyEntry, error) {
	return db.listFlyby(`SELECT activity_id, status, last_error, attempt_count, next_retry_at, updated_at
		FROM flyby_queue
		WHERE attempt_count < ?
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY activity_id`, maxAttempts, formatTime(now))
}

// MarkFlybyDone removes an entry after its detail stream was stored.
func (db *DB) MarkFlybyDone(activityID int64) error {
	return db.withWriteLock(func() error {
		_, err := db.exec(`DELETE FROM flyby_queue WHERE activity_id = ?`, activityID)
		return err
	})
}

// MarkFlybyError records a failed attempt. Only FlybyError counts against
// the retry budget; a rate-limited entry keeps its attempt count. Entries are
// never dropped here: exhausted ones just stop being listed as pending.
func (db *DB) MarkFlybyError(activityID int64, status models.FlybyStatus, message string, nextRetry *time.Time) error {
	delta := 0
	if status == models.FlybyError {
		delta = 1
	}
	return db.withWriteLock(func() error {
		_, err := db.exec(`
			UPDATE flyby_queue
			SET status = ?, last_error = ?, attempt_count = attempt_count + ?,
			    next_retry_at = ?, updated_at = ?
			WHERE activity_id = ?
		`, string(status), message, delta, nullTime(nextRetry), db.timestamp(), activityID)
		return err
	})
}

// ResetFlyby clears the failure state of every entry so the next run retries
// them all.
func (db *DB) ResetFlyby() (int64, error) {
	var n int64
	err := db.withWriteLock(func() error {
		res, err := db.exec(`UPDATE flyby_queue
			SET status = ?, last_error = '', attempt_count = 0, next_retry_at = NULL, updated_at = ?
			WHERE status <> ?`, string(models.FlybyPending), db.timestamp(), string(models.FlybyPending))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (db *DB) listFlyby(query string, args ...any) ([]models.FlybyEntry, error) {
	rows, err := db.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FlybyEntry
	for rows.Next() {
		var (
			e       models.FlybyEntry
			status  string
			next    sql.NullString
			updated string
		)
		if err := rows.Scan(&e.ActivityID, &status, &e.LastError, &e.AttemptCount, &next, &updated); err != nil {
			return nil, err
		}
		e.Status = models.FlybyStatus(status)
		if e.NextRetryAt, err = scanTime(next); err != nil {
			return nil, fmt.Errorf("flyby %d next_retry_at: %w", e.ActivityID, err)
		}
		if t, err := parseTimestamp(updated); err == nil {
			e.UpdatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
