package db

import (
	"errors"
	"testing"
	"time"

	"github.com/marcus/actsync/internal/models"
)

func fptr(v float64) *float64 { return &v }

func testActivities() []models.LocalActivity {
	base := time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC)
	return []models.LocalActivity{
		{ID: 1001, Name: "Morning Run", Type: "Run", Distance: 10000, MovingTime: 3000, ElapsedTime: 3100,
			StartDate: base, StartDateLocal: base.Add(time.Hour), AverageHeartrate: fptr(150)},
		{ID: 1002, Name: "Gym", Type: "WeightTraining", ElapsedTime: 3600, StartDate: base.Add(24 * time.Hour)},
	}
}

func TestUpsertActivitiesReportsNew(t *testing.T) {
	database := setupTestDB(t)

	added, err := database.UpsertActivities(testActivities())
	if err != nil {
		t.Fatalf("UpsertActivities: %v", err)
	}
	if len(added) != 2 {
		t.Fatalf("added: got %v, want 2 ids", added)
	}

	acts := testActivities()
	acts[0].Name = "Renamed"
	added, err = database.UpsertActivities(acts)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if len(added) != 0 {
		t.Fatalf("re-upsert should add nothing, got %v", added)
	}

	got, err := database.GetActivity(1001)
	if err != nil {
		t.Fatalf("GetActivity: %v", err)
	}
	if got.Name != "Renamed" {
		t.Errorf("name: got %q, want Renamed", got.Name)
	}
	if got.AverageHeartrate == nil || *got.AverageHeartrate != 150 {
		t.Errorf("average heartrate: %v", got.AverageHeartrate)
	}
	if got.AverageSpeed != nil {
		t.Errorf("average speed should be nil, got %v", *got.AverageSpeed)
	}
	if !got.StartDate.Equal(acts[0].StartDate) {
		t.Errorf("start: got %v, want %v", got.StartDate, acts[0].StartDate)
	}
}

func TestListActivitiesOrderAndSince(t *testing.T) {
	database := setupTestDB(t)
	if _, err := database.UpsertActivities(testActivities()); err != nil {
		t.Fatal(err)
	}

	all, err := database.ListActivities()
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(all) != 2 || all[0].ID != 1001 || all[1].ID != 1002 {
		t.Fatalf("unexpected order: %+v", all)
	}

	since, err := database.ListActivitiesSince(time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListActivitiesSince: %v", err)
	}
	if len(since) != 1 || since[0].ID != 1002 {
		t.Fatalf("since filter: %+v", since)
	}

	latest, err := database.LatestStartDate()
	if err != nil {
		t.Fatalf("LatestStartDate: %v", err)
	}
	if !latest.Equal(all[1].StartDate) {
		t.Errorf("latest: got %v, want %v", latest, all[1].StartDate)
	}
}

func TestGetActivityNotFound(t *testing.T) {
	database := setupTestDB(t)
	_, err := database.GetActivity(42)
	if !errors.Is(err, ErrActivityNotFound) {
		t.Fatalf("got %v, want ErrActivityNotFound", err)
	}
}

func TestDetailStreamRoundTrip(t *testing.T) {
	database := setupTestDB(t)

	stream := models.DetailStream{
		{TimeOffset: 0, Lat: fptr(52.1), Lng: fptr(4.3), HeartRate: fptr(120), Power: fptr(200)},
		{TimeOffset: 5, Lat: fptr(52.2), Lng: fptr(4.4), Cadence: fptr(88), Speed: fptr(3.1)},
	}
	if err := database.ReplaceDetailStream(1001, stream); err != nil {
		t.Fatalf("ReplaceDetailStream: %v", err)
	}

	got, err := database.GetDetailStream(1001)
	if err != nil {
		t.Fatalf("GetDetailStream: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("samples: got %d, want 2", len(got))
	}
	if got[0].Power == nil || *got[0].Power != 200 || got[0].Cadence != nil {
		t.Errorf("sample 0: %+v", got[0])
	}
	if got[1].HeartRate != nil || got[1].Speed == nil || *got[1].Speed != 3.1 {
		t.Errorf("sample 1: %+v", got[1])
	}

	if err := database.ReplaceDetailStream(1001, stream[:1]); err != nil {
		t.Fatal(err)
	}
	got, _ = database.GetDetailStream(1001)
	if len(got) != 1 {
		t.Fatalf("replace should drop old rows: got %d", len(got))
	}

	empty, err := database.GetDetailStream(999)
	if err != nil || len(empty) != 0 {
		t.Fatalf("missing stream: %v, %v", empty, err)
	}
}

func TestDeleteActivities(t *testing.T) {
	database := setupTestDB(t)
	if _, err := database.UpsertActivities(testActivities()); err != nil {
		t.Fatal(err)
	}
	database.ReplaceDetailStream(1001, models.DetailStream{{TimeOffset: 0}})
	database.EnqueueFlyby([]int64{1001})

	n, err := database.DeleteActivities([]int64{1001})
	if err != nil {
		t.Fatalf("DeleteActivities: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted: got %d, want 1", n)
	}
	ids, _ := database.ActivityIDs()
	if len(ids) != 1 || ids[0] != 1002 {
		t.Fatalf("remaining ids: %v", ids)
	}
	stream, _ := database.GetDetailStream(1001)
	queue, _ := database.ListFlyby()
	if len(stream) != 0 || len(queue) != 0 {
		t.Fatalf("dependent rows left: stream=%d queue=%d", len(stream), len(queue))
	}
}
