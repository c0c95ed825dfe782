package db

import (
	"database/sql"
	"fmt"

	"github.com/marcus/actsync/internal/models"
)

// StartRun records the beginning of a pass and returns its row id.
func (db *DB) StartRun(run *models.SyncRun) error {
	started := run.StartedAt
	if started.IsZero() {
		started = db.now()
		run.StartedAt = started
	}
	return db.withWriteLock(func() error {
		row := db.queryRow(`
			INSERT INTO sync_runs (run_id, vendor, account, kind, started_at)
			VALUES (?, ?, ?, ?, ?)
			RETURNING id
		`, run.RunID, string(run.Vendor), run.Account, run.Kind, formatTime(started))
		if err := row.Scan(&run.ID); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
		return nil
	})
}

// FinishRun stores the counters and error of a finished pass.
func (db *DB) FinishRun(run *models.SyncRun) error {
	finished := db.now()
	run.FinishedAt = &finished
	return db.withWriteLock(func() error {
		_, err := db.exec(`
			UPDATE sync_runs
			SET finished_at = ?, uploaded = ?, matched = ?, skipped = ?, conflicts = ?, failed = ?, error = ?
			WHERE id = ?
		`, formatTime(finished), run.Uploaded, run.Matched, run.Skipped, run.Conflicts, run.Failed, run.Error, run.ID)
		if err != nil {
			return fmt.Errorf("finish run %s: %w", run.RunID, err)
		}
		return nil
	})
}

// RecentRuns returns the last limit runs in chronological order (oldest
// first). An empty account matches every account.
func (db *DB) RecentRuns(vendor models.Vendor, account string, limit int) ([]models.SyncRun, error) {
	q := `SELECT id, run_id, vendor, account, kind, started_at, finished_at,
		uploaded, matched, skipped, conflicts, failed, error
		FROM sync_runs WHERE vendor = ?`
	args := []any{string(vendor)}
	if account != "" {
		q += ` AND account = ?`
		args = append(args, account)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var (
			r        models.SyncRun
			vendor   string
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RunID, &vendor, &r.Account, &r.Kind, &started, &finished,
			&r.Uploaded, &r.Matched, &r.Skipped, &r.Conflicts, &r.Failed, &r.Error); err != nil {
			return nil, err
		}
		r.Vendor = models.Vendor(vendor)
		if r.StartedAt, err = parseTimestamp(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = scanTime(finished); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}
	return runs, nil
}
