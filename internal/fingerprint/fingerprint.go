// Package fingerprint computes the content hash used to decide whether a
// previously synced activity changed locally.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/marcus/actsync/internal/models"
)

// Version is bumped whenever the field list or encoding below changes.
// Bumping it invalidates every stored hash and forces re-evaluation.
const Version = 1

// precision is the number of decimals kept for every float field.
const precision = 6

// Compute returns the hex SHA-256 of the canonical form of a summary and its
// detail stream. Only the fields listed in summaryFields and sampleFields
// contribute.
func Compute(a *models.LocalActivity, stream models.DetailStream) (string, error) {
	payload, err := Canonical(a, stream)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Canonical returns the serialized form that Compute hashes. Map keys are
// emitted sorted, so field order never matters.
func Canonical(a *models.LocalActivity, stream models.DetailStream) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("fingerprint: nil activity")
	}
	rows := make([]map[string]any, 0, len(stream))
	for i := range stream {
		rows = append(rows, sampleFields(&stream[i]))
	}
	doc := map[string]any{
		"v":        Version,
		"activity": summaryFields(a),
		"flyby":    rows,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: marshal: %w", err)
	}
	return data, nil
}

func summaryFields(a *models.LocalActivity) map[string]any {
	return map[string]any{
		"run_id":               a.ID,
		"start_date":           timeValue(a.StartDate),
		"distance":             num(a.Distance),
		"moving_time":          num(a.MovingTime),
		"elapsed_time":         num(a.ElapsedTime),
		"total_elevation_gain": optNum(a.ElevationGain),
		"average_speed":        optNum(a.AverageSpeed),
		"average_heartrate":    optNum(a.AverageHeartrate),
	}
}

func sampleFields(s *models.DetailSample) map[string]any {
	return map[string]any{
		"time_offset": s.TimeOffset,
		"lat":         optNum(s.Lat),
		"lng":         optNum(s.Lng),
		"alt":         optNum(s.Altitude),
		"hr":          optNum(s.HeartRate),
		"cadence":     optNum(s.Cadence),
		"speed":       optNum(s.Speed),
		"distance":    optNum(s.Distance),
	}
}

func timeValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// num renders v at fixed precision so representation noise below it
// (0.1+0.2 vs 0.3) hashes identically.
func num(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	scale := math.Pow10(precision)
	r := math.Round(v*scale) / scale
	if r == 0 {
		r = 0 // drop negative zero
	}
	return json.Number(strconv.FormatFloat(r, 'f', -1, 64))
}

func optNum(v *float64) any {
	if v == nil {
		return nil
	}
	return num(*v)
}
