package sync

import (
	"github.com/marcus/actsync/internal/matcher"
	"github.com/marcus/actsync/internal/models"
)

// reservations tracks which local activity claimed each remote id in the
// current pass. A remote id has at most one owner.
type reservations struct {
	set        matcher.Reserved
	owner      map[string]int64
	byActivity map[int64]string
}

func newReservations() *reservations {
	return &reservations{
		set:        matcher.Reserved{},
		owner:      make(map[string]int64),
		byActivity: make(map[int64]string),
	}
}

// claim gives id to activityID, releasing any id the activity held before.
func (r *reservations) claim(id string, activityID int64) {
	if id == "" {
		return
	}
	if prev, ok := r.byActivity[activityID]; ok && prev != id {
		delete(r.set, prev)
		delete(r.owner, prev)
	}
	r.set.Add(id)
	r.owner[id] = activityID
	r.byActivity[activityID] = id
}

// heldByOther reports whether id is owned by an activity other than
// activityID.
func (r *reservations) heldByOther(id string, activityID int64) bool {
	owner, ok := r.owner[id]
	return ok && owner != activityID
}

// matchFor runs the matcher with every id reserved except the one the
// local activity already owns.
func (r *reservations) matchFor(local *models.LocalActivity, candidates []models.RemoteActivity, tol matcher.Tolerances) (string, bool) {
	if own, ok := r.byActivity[local.ID]; ok {
		delete(r.set, own)
		defer r.set.Add(own)
	}
	return matcher.Match(local, candidates, r.set, tol)
}
