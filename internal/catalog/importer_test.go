package catalog

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/actsync/internal/db"
	"github.com/marcus/actsync/internal/models"
)

var baseTime = time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) *db.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	conn.SetMaxOpenConns(1)
	store, err := db.New(conn, db.DialectSQLite, "")
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func activity(id int64, start time.Time) models.LocalActivity {
	return models.LocalActivity{
		ID:          id,
		Name:        "Ride",
		Type:        "Ride",
		Distance:    20000,
		ElapsedTime: 3600,
		MovingTime:  3500,
		StartDate:   start,
	}
}

// fakeSource serves a fixed account and records the after argument.
type fakeSource struct {
	acts   []models.LocalActivity
	afters []time.Time
	err    error
}

func (f *fakeSource) ListAllSince(ctx context.Context, after time.Time, limit int) ([]models.LocalActivity, error) {
	f.afters = append(f.afters, after)
	if f.err != nil {
		return nil, f.err
	}
	var out []models.LocalActivity
	for _, a := range f.acts {
		if after.IsZero() || a.StartDate.After(after) {
			out = append(out, a)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestImportAddsAndQueues(t *testing.T) {
	store := setupStore(t)
	src := &fakeSource{acts: []models.LocalActivity{
		activity(1, baseTime),
		activity(2, baseTime.Add(24*time.Hour)),
	}}
	im := New(store, src)
	im.Runs = store

	res, err := im.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Fetched != 2 || res.Added != 2 || res.Queued != 2 {
		t.Errorf("result = %+v, want 2 fetched, added and queued", res)
	}
	if !src.afters[0].IsZero() {
		t.Errorf("first import after = %v, want zero", src.afters[0])
	}

	queue, err := store.ListFlyby()
	if err != nil {
		t.Fatalf("ListFlyby: %v", err)
	}
	if len(queue) != 2 {
		t.Errorf("queue has %d entries, want 2", len(queue))
	}

	runs, err := store.RecentRuns(models.VendorStrava, "", 5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Kind != models.RunKindImport || runs[0].Uploaded != 2 {
		t.Errorf("runs = %+v, want one import run with 2 added", runs)
	}
}

func TestImportIsIncremental(t *testing.T) {
	store := setupStore(t)
	src := &fakeSource{acts: []models.LocalActivity{activity(1, baseTime)}}
	im := New(store, src)

	if _, err := im.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	src.acts = append(src.acts, activity(2, baseTime.Add(time.Hour)))

	res, err := im.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !src.afters[1].Equal(baseTime) {
		t.Errorf("second import after = %v, want %v", src.afters[1], baseTime)
	}
	if res.Fetched != 1 || res.Added != 1 {
		t.Errorf("result = %+v, want only the new activity", res)
	}
}

func TestImportPrune(t *testing.T) {
	store := setupStore(t)
	if _, err := store.UpsertActivities([]models.LocalActivity{
		activity(1, baseTime),
		activity(2, baseTime.Add(time.Hour)),
		activity(3, baseTime.Add(2*time.Hour)),
	}); err != nil {
		t.Fatalf("UpsertActivities: %v", err)
	}
	src := &fakeSource{acts: []models.LocalActivity{activity(1, baseTime), activity(3, baseTime.Add(2*time.Hour))}}

	res, err := New(store, src).Run(context.Background(), Options{Prune: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Pruned != 1 {
		t.Errorf("Pruned = %d, want 1", res.Pruned)
	}
	if !src.afters[0].IsZero() {
		t.Errorf("prune must list the whole account, after = %v", src.afters[0])
	}
	ids, err := store.ActivityIDs()
	if err != nil {
		t.Fatalf("ActivityIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Errorf("ids = %v, want [1 3]", ids)
	}
}

func TestImportRefusesUnsafePrune(t *testing.T) {
	tests := []struct {
		name string
		acts []models.LocalActivity
		opts Options
	}{
		{name: "empty listing", opts: Options{Prune: true}},
		{name: "limited listing", acts: []models.LocalActivity{activity(1, baseTime)}, opts: Options{Prune: true, Limit: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupStore(t)
			if _, err := store.UpsertActivities([]models.LocalActivity{activity(1, baseTime)}); err != nil {
				t.Fatalf("UpsertActivities: %v", err)
			}
			_, err := New(store, &fakeSource{acts: tt.acts}).Run(context.Background(), tt.opts)
			if !errors.Is(err, ErrUnsafePrune) {
				t.Fatalf("err = %v, want ErrUnsafePrune", err)
			}
			ids, _ := store.ActivityIDs()
			if len(ids) != 1 {
				t.Errorf("ids = %v, nothing should be deleted", ids)
			}
		})
	}
}

func TestImportSourceFailure(t *testing.T) {
	store := setupStore(t)
	src := &fakeSource{err: errors.New("boom")}
	if _, err := New(store, src).Run(context.Background(), Options{}); err == nil {
		t.Fatal("expected error")
	}
}
