package flyby

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/actsync/internal/db"
	"github.com/marcus/actsync/internal/models"
	"github.com/marcus/actsync/internal/remote"
	"github.com/marcus/actsync/internal/strava"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupQueue(t *testing.T, ids ...int64) *db.DB {
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
	store.SetClock(func() time.Time { return testNow })
	if _, err := store.EnqueueFlyby(ids); err != nil {
		t.Fatalf("EnqueueFlyby: %v", err)
	}
	return store
}

type fakeSource struct {
	calls   []int64
	streams map[int64]models.DetailStream
	errs    map[int64]error
}

func (f *fakeSource) GetStreams(_ context.Context, id int64) (models.DetailStream, error) {
	f.calls = append(f.calls, id)
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	return f.streams[id], nil
}

func sample(offset int64, hr float64) models.DetailSample {
	return models.DetailSample{TimeOffset: offset, HeartRate: &hr}
}

func newProcessor(store *db.DB, src Source) *Processor {
	p := New(store, src, Options{MaxRetries: 3, BackoffBase: time.Minute, BackoffCap: 15 * time.Minute})
	p.Now = func() time.Time { return testNow }
	return p
}

func entry(t *testing.T, store *db.DB, id int64) *models.FlybyEntry {
	t.Helper()
	all, err := store.ListFlyby()
	if err != nil {
		t.Fatalf("ListFlyby: %v", err)
	}
	for i := range all {
		if all[i].ActivityID == id {
			return &all[i]
		}
	}
	return nil
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{3, 8 * time.Minute},
		{4, 15 * time.Minute},
		{40, 15 * time.Minute},
		{-1, time.Minute},
	}
	for _, tt := range tests {
		if got := Backoff(time.Minute, 15*time.Minute, tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRunStoresStreamsAndDrainsQueue(t *testing.T) {
	store := setupQueue(t, 1, 2)
	src := &fakeSource{streams: map[int64]models.DetailStream{
		1: {sample(0, 120), sample(1, 121)},
		2: {sample(0, 130)},
	}}

	res, err := newProcessor(store, src).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stored != 2 || res.Errors != 0 {
		t.Errorf("result = %+v", res)
	}
	got, err := store.GetDetailStream(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || *got[1].HeartRate != 121 {
		t.Errorf("stream = %+v", got)
	}
	if left, _ := store.ListFlyby(); len(left) != 0 {
		t.Errorf("queue not drained: %+v", left)
	}
}

func TestRunRecordsErrorWithBackoff(t *testing.T) {
	store := setupQueue(t, 1, 2)
	src := &fakeSource{
		streams: map[int64]models.DetailStream{2: {sample(0, 130)}},
		errs:    map[int64]error{1: strava.ErrNoUsableStreams},
	}

	res, err := newProcessor(store, src).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stored != 1 || res.Errors != 1 {
		t.Errorf("result = %+v", res)
	}
	e := entry(t, store, 1)
	if e == nil || e.Status != models.FlybyError || e.AttemptCount != 1 {
		t.Fatalf("entry = %+v", e)
	}
	if e.LastError != strava.ErrNoUsableStreams.Error() {
		t.Errorf("last_error = %q", e.LastError)
	}
	if e.NextRetryAt == nil || !e.NextRetryAt.Equal(testNow.Add(time.Minute)) {
		t.Errorf("next_retry_at = %v", e.NextRetryAt)
	}
}

func TestRunPausesOnRateLimit(t *testing.T) {
	store := setupQueue(t, 1, 2, 3)
	src := &fakeSource{
		streams: map[int64]models.DetailStream{1: {sample(0, 1)}, 3: {sample(0, 3)}},
		errs:    map[int64]error{2: &remote.RateLimitError{RetryAfter: 7 * time.Minute}},
	}

	res, err := newProcessor(store, src).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.RateLimited || res.RetryAfter != 7*time.Minute || res.Stored != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(src.calls) != 2 {
		t.Errorf("calls = %v, entry 3 must wait for the next run", src.calls)
	}
	e := entry(t, store, 2)
	if e.Status != models.FlybyRateLimited || e.AttemptCount != 0 {
		t.Errorf("entry 2 = %+v", e)
	}
	if entry(t, store, 3).Status != models.FlybyPending {
		t.Error("entry 3 should stay pending")
	}
}

func TestExhaustedEntriesStayQueued(t *testing.T) {
	store := setupQueue(t, 1)
	src := &fakeSource{errs: map[int64]error{1: errors.New("HTTP 500: boom")}}
	p := newProcessor(store, src)

	clock := testNow
	p.Now = func() time.Time { return clock }
	for range 5 {
		if _, err := p.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		clock = clock.Add(time.Hour)
	}
	if len(src.calls) != 3 {
		t.Errorf("fetches = %d, want MaxRetries=3", len(src.calls))
	}
	e := entry(t, store, 1)
	if e == nil || e.Status != models.FlybyError || e.AttemptCount != 3 {
		t.Errorf("entry = %+v, want error with 3 attempts", e)
	}
}

func TestUnauthorizedAborts(t *testing.T) {
	store := setupQueue(t, 1, 2)
	src := &fakeSource{errs: map[int64]error{1: remote.ErrUnauthorized}}

	_, err := newProcessor(store, src).Run(context.Background())
	if !errors.Is(err, remote.ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}
	if len(src.calls) != 1 {
		t.Errorf("calls = %v", src.calls)
	}
}

func TestRunRecordsHistory(t *testing.T) {
	store := setupQueue(t, 1)
	src := &fakeSource{streams: map[int64]models.DetailStream{1: {sample(0, 1)}}}
	p := newProcessor(store, src)
	p.Runs = store

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	runs, err := store.RecentRuns(models.VendorStrava, "", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Kind != models.RunKindFlyby || runs[0].Uploaded != 1 {
		t.Errorf("runs = %+v", runs)
	}
}
