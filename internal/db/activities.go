package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/marcus/actsync/internal/models"
)

const activityColumns = `run_id, name, distance, moving_time, elapsed_time, type, subtype,
	start_date, start_date_local, location_country, summary_polyline,
	average_heartrate, average_speed, elevation_gain`

// ErrActivityNotFound is returned when a local activity id is unknown.
var ErrActivityNotFound = errors.New("activity not found")

// UpsertActivities inserts or replaces activity summaries and returns the
// ids that were not in the catalogue before.
func (db *DB) UpsertActivities(acts []models.LocalActivity) ([]int64, error) {
	if len(acts) == 0 {
		return nil, nil
	}
	var added []int64
	err := db.withWriteLock(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		exists, err := tx.Prepare(db.dialect.rebind(`SELECT COUNT(*) FROM activities WHERE run_id = ?`))
		if err != nil {
			return err
		}
		defer exists.Close()

		stmt, err := tx.Prepare(db.dialect.rebind(`
			INSERT INTO activities (` + activityColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id) DO UPDATE SET
				name = excluded.name,
				distance = excluded.distance,
				moving_time = excluded.moving_time,
				elapsed_time = excluded.elapsed_time,
				type = excluded.type,
				subtype = excluded.subtype,
				start_date = excluded.start_date,
				start_date_local = excluded.start_date_local,
				location_country = excluded.location_country,
				summary_polyline = excluded.summary_polyline,
				average_heartrate = excluded.average_heartrate,
				average_speed = excluded.average_speed,
				elevation_gain = excluded.elevation_gain
		`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, a := range acts {
			var n int
			if err := exists.QueryRow(a.ID).Scan(&n); err != nil {
				return fmt.Errorf("check activity %d: %w", a.ID, err)
			}
			local := ""
			if !a.StartDateLocal.IsZero() {
				local = a.StartDateLocal.Format("2006-01-02T15:04:05")
			}
			_, err := stmt.Exec(a.ID, a.Name, a.Distance, a.MovingTime, a.ElapsedTime, a.Type, a.Subtype,
				formatTime(a.StartDate), local, a.LocationCountry, a.SummaryPolyline,
				a.AverageHeartrate, a.AverageSpeed, a.ElevationGain)
			if err != nil {
				return fmt.Errorf("upsert activity %d: %w", a.ID, err)
			}
			if n == 0 {
				added = append(added, a.ID)
			}
		}
		return tx.Commit()
	})
	return added, err
}

// ListActivities returns every local activity, oldest first. Rows that
// cannot be parsed are logged and skipped.
func (db *DB) ListActivities() ([]models.LocalActivity, error) {
	return db.listActivities(`SELECT ` + activityColumns + ` FROM activities ORDER BY start_date, run_id`)
}

// ListActivitiesSince returns activities starting at or after since.
func (db *DB) ListActivitiesSince(since time.Time) ([]models.LocalActivity, error) {
	return db.listActivities(`SELECT `+activityColumns+` FROM activities
		WHERE start_date >= ? ORDER BY start_date, run_id`, formatTime(since))
}

// GetActivity returns one activity by id.
func (db *DB) GetActivity(id int64) (*models.LocalActivity, error) {
	acts, err := db.listActivities(`SELECT `+activityColumns+` FROM activities WHERE run_id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(acts) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrActivityNotFound, id)
	}
	return &acts[0], nil
}

// LatestStartDate returns the newest start_date in the catalogue, or the
// zero time when it is empty.
func (db *DB) LatestStartDate() (time.Time, error) {
	var s sql.NullString
	if err := db.queryRow(`SELECT MAX(start_date) FROM activities`).Scan(&s); err != nil {
		return time.Time{}, err
	}
	t, err := scanTime(s)
	if err != nil || t == nil {
		return time.Time{}, err
	}
	return *t, nil
}

// ActivityIDs returns every catalogue id.
func (db *DB) ActivityIDs() ([]int64, error) {
	rows, err := db.query(`SELECT run_id FROM activities ORDER BY run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteActivities removes activities and their detail streams.
func (db *DB) DeleteActivities(ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int64
	err := db.withWriteLock(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args := make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		if _, err := tx.Exec(db.dialect.rebind(`DELETE FROM activities_flyby WHERE activity_id IN (`+placeholders+`)`), args...); err != nil {
			return err
		}
		if _, err := tx.Exec(db.dialect.rebind(`DELETE FROM flyby_queue WHERE activity_id IN (`+placeholders+`)`), args...); err != nil {
			return err
		}
		res, err := tx.Exec(db.dialect.rebind(`DELETE FROM activities WHERE run_id IN (`+placeholders+`)`), args...)
		if err != nil {
			return err
		}
		deleted, _ = res.RowsAffected()
		return tx.Commit()
	})
	return deleted, err
}

func (db *DB) listActivities(query string, args ...any) ([]models.LocalActivity, error) {
	rows, err := db.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var acts []models.LocalActivity
	for rows.Next() {
		var (
			a          models.LocalActivity
			start      string
			startLocal string
			avgHR      sql.NullFloat64
			avgSpeed   sql.NullFloat64
			elevation  sql.NullFloat64
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Distance, &a.MovingTime, &a.ElapsedTime, &a.Type, &a.Subtype,
			&start, &startLocal, &a.LocationCountry, &a.SummaryPolyline, &avgHR, &avgSpeed, &elevation); err != nil {
			return nil, err
		}
		t, err := parseTimestamp(start)
		if err != nil {
			slog.Warn("skip activity with bad start_date", "activity_id", a.ID, "start_date", start, "err", err)
			continue
		}
		a.StartDate = t
		if startLocal != "" {
			if lt, err := time.Parse("2006-01-02T15:04:05", startLocal); err == nil {
				a.StartDateLocal = lt
			}
		}
		a.AverageHeartrate = floatPtr(avgHR)
		a.AverageSpeed = floatPtr(avgSpeed)
		a.ElevationGain = floatPtr(elevation)
		acts = append(acts, a)
	}
	return acts, rows.Err()
}

// ReplaceDetailStream stores the flyby rows of one activity, replacing any
// previous rows.
func (db *DB) ReplaceDetailStream(activityID int64, stream models.DetailStream) error {
	return db.withWriteLock(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(db.dialect.rebind(`DELETE FROM activities_flyby WHERE activity_id = ?`), activityID); err != nil {
			return fmt.Errorf("clear flyby %d: %w", activityID, err)
		}
		stmt, err := tx.Prepare(db.dialect.rebind(`
			INSERT INTO activities_flyby (activity_id, time_offset, lat, lng, alt, hr, distance, cadence, speed, power)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(activity_id, time_offset) DO NOTHING
		`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, s := range stream {
			if _, err := stmt.Exec(activityID, s.TimeOffset, s.Lat, s.Lng, s.Altitude, s.HeartRate,
				s.Distance, s.Cadence, s.Speed, s.Power); err != nil {
				return fmt.Errorf("insert flyby %d@%d: %w", activityID, s.TimeOffset, err)
			}
		}
		return tx.Commit()
	})
}

// GetDetailStream returns the flyby rows of one activity ordered by time.
// An activity without rows returns an empty stream.
func (db *DB) GetDetailStream(activityID int64) (models.DetailStream, error) {
	rows, err := db.query(`
		SELECT time_offset, lat, lng, alt, hr, distance, cadence, speed, power
		FROM activities_flyby WHERE activity_id = ? ORDER BY time_offset
	`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stream models.DetailStream
	for rows.Next() {
		var (
			s                                                models.DetailSample
			lat, lng, alt, hr, distance, cadence, speed, pwr sql.NullFloat64
		)
		if err := rows.Scan(&s.TimeOffset, &lat, &lng, &alt, &hr, &distance, &cadence, &speed, &pwr); err != nil {
			return nil, err
		}
		s.Lat, s.Lng, s.Altitude = floatPtr(lat), floatPtr(lng), floatPtr(alt)
		s.HeartRate, s.Distance = floatPtr(hr), floatPtr(distance)
		s.Cadence, s.Speed, s.Power = floatPtr(cadence), floatPtr(speed), floatPtr(pwr)
		stream = append(stream, s)
	}
	return stream, rows.Err()
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
