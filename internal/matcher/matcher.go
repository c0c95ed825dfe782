// Package matcher pairs a local activity with a remote activity that has no
// shared identifier, using start time plus a distance or duration tolerance.
package matcher

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/marcus/actsync/internal/models"
)

// Mode is the secondary dimension used after the time window.
type Mode int

const (
	ModeDistance Mode = iota
	ModeDuration
)

func (m Mode) String() string {
	if m == ModeDuration {
		return "duration"
	}
	return "distance"
}

// Tolerances bounds how far a remote candidate may drift from the local
// activity and still count as the same workout.
type Tolerances struct {
	TimeWindow time.Duration
	Distance   float64 // meters
	Duration   time.Duration
	// DurationFloor switches to duration matching when the local distance is
	// at or below it.
	DurationFloor float64
	// StationaryTypes always match on duration.
	StationaryTypes []string
}

// DefaultTolerances returns the CLI defaults.
func DefaultTolerances() Tolerances {
	return Tolerances{
		TimeWindow:      300 * time.Second,
		Distance:        50,
		Duration:        120 * time.Second,
		DurationFloor:   1,
		StationaryTypes: DefaultStationaryTypes,
	}
}

// ModeFor picks the matching mode for a local activity.
func (t Tolerances) ModeFor(a *models.LocalActivity) Mode {
	if a.Distance <= t.DurationFloor {
		return ModeDuration
	}
	for _, st := range t.StationaryTypes {
		if st == a.Type {
			return ModeDuration
		}
	}
	return ModeDistance
}

// Reserved is the set of remote ids already claimed in the current run.
type Reserved map[string]struct{}

// Has reports whether id is reserved. A nil set reserves nothing.
func (r Reserved) Has(id string) bool {
	if r == nil {
		return false
	}
	_, ok := r[id]
	return ok
}

// Add reserves id. Empty ids are ignored.
func (r Reserved) Add(id string) {
	if id != "" {
		r[id] = struct{}{}
	}
}

type candidate struct {
	id        string
	timeDelta time.Duration
	secondary float64
}

// Match returns the best unreserved remote candidate for local, or false
// when none survives the filters. Candidates are ranked by start time
// delta, then secondary delta, then remote id.
func Match(local *models.LocalActivity, remotes []models.RemoteActivity, reserved Reserved, tol Tolerances) (string, bool) {
	if local == nil || local.StartDate.IsZero() {
		return "", false
	}
	mode := tol.ModeFor(local)
	localDuration := local.Duration()

	var survivors []candidate
	for i := range remotes {
		r := &remotes[i]
		if r.ID == "" || r.StartTime.IsZero() || reserved.Has(r.ID) {
			continue
		}
		dt := absDuration(r.StartTime.Sub(local.StartDate))
		if dt > tol.TimeWindow {
			continue
		}
		if !typeAccepts(local.Type, r.TypeKey) {
			continue
		}

		var secondary float64
		if mode == ModeDuration {
			if !r.HasDuration {
				continue
			}
			d := absDuration(r.Duration - localDuration)
			if d > tol.Duration {
				continue
			}
			secondary = d.Seconds()
		} else {
			secondary = math.Abs(r.Distance - local.Distance)
			if secondary > tol.Distance {
				continue
			}
		}
		survivors = append(survivors, candidate{id: r.ID, timeDelta: dt, secondary: secondary})
	}
	if len(survivors) == 0 {
		return "", false
	}

	sort.Slice(survivors, func(i, j int) bool {
		a, b := survivors[i], survivors[j]
		if a.timeDelta != b.timeDelta {
			return a.timeDelta < b.timeDelta
		}
		if a.secondary != b.secondary {
			return a.secondary < b.secondary
		}
		return lessID(a.id, b.id)
	})
	return survivors[0].id, true
}

// lessID orders numeric ids numerically and falls back to string order.
func lessID(a, b string) bool {
	if isDigits(a) && isDigits(b) {
		ta, tb := trimZeros(a), trimZeros(b)
		if len(ta) != len(tb) {
			return len(ta) < len(tb)
		}
		if ta != tb {
			return ta < tb
		}
	}
	return a < b
}

func trimZeros(s string) string {
	t := strings.TrimLeft(s, "0")
	if t == "" {
		return "0"
	}
	return t
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
