package db

import (
	"testing"
	"time"

	"github.com/marcus/actsync/internal/models"
)

func TestSyncRunsLifecycle(t *testing.T) {
	database, clock := setupMemDB(t)

	for i, kind := range []string{models.RunKindReconcile, models.RunKindUpload} {
		run := &models.SyncRun{RunID: kind + "-run", Vendor: models.VendorGarmin, Account: "garmin_com", Kind: kind}
		if err := database.StartRun(run); err != nil {
			t.Fatalf("StartRun: %v", err)
		}
		if run.ID == 0 {
			t.Fatal("StartRun did not assign an id")
		}
		clock.Advance(time.Minute)
		run.Uploaded = i
		run.Matched = 2
		if err := database.FinishRun(run); err != nil {
			t.Fatalf("FinishRun: %v", err)
		}
	}

	runs, err := database.RecentRuns(models.VendorGarmin, "garmin_com", 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs: got %d, want 2", len(runs))
	}
	if runs[0].Kind != models.RunKindReconcile || runs[1].Kind != models.RunKindUpload {
		t.Errorf("runs not chronological: %s, %s", runs[0].Kind, runs[1].Kind)
	}
	if runs[1].Uploaded != 1 || runs[1].Matched != 2 || runs[1].FinishedAt == nil {
		t.Errorf("counters not stored: %+v", runs[1])
	}
	if got := runs[1].FinishedAt.Sub(runs[1].StartedAt); got != time.Minute {
		t.Errorf("duration: got %v, want 1m", got)
	}

	limited, _ := database.RecentRuns(models.VendorGarmin, "", 1)
	if len(limited) != 1 || limited[0].Kind != models.RunKindUpload {
		t.Errorf("limit: %+v", limited)
	}
}
