package db

import (
	"testing"
	"time"

	"github.com/marcus/actsync/internal/models"
)

func strp(s string) *string { return &s }
func intp(n int) *int       { return &n }

func TestUpsertStatusMergeOnNull(t *testing.T) {
	database, clock := setupMemDB(t)
	uploaded := clock.Now()

	err := database.UpsertStatus(StatusUpdate{
		ActivityID: 1001, Vendor: models.VendorGarmin, Account: "garmin_com",
		Status:           models.StatusSynced,
		RemoteActivityID: strp("30"),
		ContentHash:      strp("abc"),
		UploadedAt:       &uploaded,
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	clock.Advance(time.Hour)
	err = database.UpsertStatus(StatusUpdate{
		ActivityID: 1001, Vendor: models.VendorGarmin, Account: "garmin_com",
		Status:    models.StatusMissingRemote,
		LastError: strp("Remote activity not found during reconcile."),
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	rec, err := database.GetStatus(1001, models.VendorGarmin, "garmin_com")
	if err != nil || rec == nil {
		t.Fatalf("GetStatus: %v, %v", rec, err)
	}
	if rec.Status != models.StatusMissingRemote {
		t.Errorf("status: got %s, want missing_remote", rec.Status)
	}
	if rec.RemoteID() != "30" {
		t.Errorf("remote id not preserved: got %q", rec.RemoteID())
	}
	if rec.ContentHash == nil || *rec.ContentHash != "abc" {
		t.Errorf("content hash not preserved: %v", rec.ContentHash)
	}
	if rec.UploadedAt == nil || !rec.UploadedAt.Equal(uploaded) {
		t.Errorf("uploaded_at not preserved: %v", rec.UploadedAt)
	}
	if rec.LastError == nil {
		t.Error("last_error should be set")
	}
	if !rec.UpdatedAt.Equal(clock.Now()) {
		t.Errorf("updated_at: got %v, want %v", rec.UpdatedAt, clock.Now())
	}

	// last_error always overwrites, even with nil.
	if err := database.UpsertStatus(StatusUpdate{
		ActivityID: 1001, Vendor: models.VendorGarmin, Account: "garmin_com",
		Status: models.StatusSynced,
	}); err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	rec, _ = database.GetStatus(1001, models.VendorGarmin, "garmin_com")
	if rec.LastError != nil {
		t.Errorf("last_error should be cleared, got %q", *rec.LastError)
	}
}

func TestUpsertStatusAttemptCount(t *testing.T) {
	database, _ := setupMemDB(t)
	key := StatusUpdate{ActivityID: 5, Vendor: models.VendorGarmin, Account: "garmin_com"}

	u := key
	u.Status = models.StatusUploading
	if err := database.UpsertStatus(u); err != nil {
		t.Fatal(err)
	}
	rec, _ := database.GetStatus(5, models.VendorGarmin, "garmin_com")
	if rec.AttemptCount != 0 {
		t.Fatalf("initial attempt_count: got %d, want 0", rec.AttemptCount)
	}

	u = key
	u.Status = models.StatusFailed
	u.AttemptCount = intp(rec.AttemptCount + 1)
	u.LastError = strp("boom")
	if err := database.UpsertStatus(u); err != nil {
		t.Fatal(err)
	}

	u = key
	u.Status = models.StatusUploading
	if err := database.UpsertStatus(u); err != nil {
		t.Fatal(err)
	}
	rec, _ = database.GetStatus(5, models.VendorGarmin, "garmin_com")
	if rec.AttemptCount != 1 {
		t.Fatalf("attempt_count after nil update: got %d, want 1", rec.AttemptCount)
	}
}

func TestUpsertStatusRejectsInvalid(t *testing.T) {
	database, _ := setupMemDB(t)
	err := database.UpsertStatus(StatusUpdate{ActivityID: 1, Vendor: models.VendorGarmin, Account: "a", Status: "done"})
	if err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func seedStatuses(t *testing.T, database *DB) {
	t.Helper()
	rows := []struct {
		id      int64
		account string
		status  models.SyncStatus
	}{
		{1, "garmin_com", models.StatusSynced},
		{2, "garmin_com", models.StatusFailed},
		{3, "garmin_com", models.StatusFailed},
		{4, "garmin_com", models.StatusConflict},
		{5, "garmin_com", models.StatusPending},
		{6, "garmin_cn", models.StatusFailed},
	}
	next := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for _, r := range rows {
		u := StatusUpdate{ActivityID: r.id, Vendor: models.VendorGarmin, Account: r.account, Status: r.status}
		if r.status == models.StatusFailed {
			u.LastError = strp("upload rejected")
			u.NextRetryAt = &next
		}
		if err := database.UpsertStatus(u); err != nil {
			t.Fatalf("seed %d: %v", r.id, err)
		}
	}
}

func TestRetryFailed(t *testing.T) {
	database, _ := setupMemDB(t)
	seedStatuses(t, database)

	n, err := database.RetryFailed(models.VendorGarmin, "garmin_com")
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows reset: got %d, want 2", n)
	}

	all, err := database.LoadAll(models.VendorGarmin, "garmin_com")
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	want := map[int64]models.SyncStatus{
		1: models.StatusSynced,
		2: models.StatusPending,
		3: models.StatusPending,
		4: models.StatusConflict,
		5: models.StatusPending,
	}
	for id, st := range want {
		if all[id] == nil || all[id].Status != st {
			t.Errorf("activity %d: got %v, want %s", id, all[id], st)
		}
	}
	if all[2].LastError != nil || all[2].NextRetryAt != nil {
		t.Errorf("retry should clear last_error and next_retry_at: %+v", all[2])
	}

	other, _ := database.GetStatus(6, models.VendorGarmin, "garmin_cn")
	if other.Status != models.StatusFailed {
		t.Errorf("other account touched: %s", other.Status)
	}

	n, _ = database.RetryFailed(models.VendorGarmin, "")
	if n != 1 {
		t.Errorf("all-account retry: got %d, want 1", n)
	}
}

func TestStatusCounts(t *testing.T) {
	database, _ := setupMemDB(t)
	seedStatuses(t, database)

	counts, err := database.StatusCounts(models.VendorGarmin, "garmin_com")
	if err != nil {
		t.Fatalf("StatusCounts: %v", err)
	}
	if counts[models.StatusFailed] != 2 || counts[models.StatusSynced] != 1 || counts[models.StatusConflict] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}

	all, _ := database.StatusCounts(models.VendorGarmin, "")
	if all[models.StatusFailed] != 3 {
		t.Errorf("all-account failed count: got %d, want 3", all[models.StatusFailed])
	}
}

func TestListByStatusAndDelete(t *testing.T) {
	database, _ := setupMemDB(t)
	seedStatuses(t, database)

	failed, err := database.ListByStatus(models.VendorGarmin, "garmin_com", models.StatusFailed, 10)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("failed rows: got %d, want 2", len(failed))
	}

	n, err := database.DeleteAccountStatus(models.VendorGarmin, "garmin_com")
	if err != nil {
		t.Fatalf("DeleteAccountStatus: %v", err)
	}
	if n != 5 {
		t.Fatalf("deleted: got %d, want 5", n)
	}
	left, _ := database.LoadAll(models.VendorGarmin, "garmin_cn")
	if len(left) != 1 {
		t.Fatalf("other account rows: got %d, want 1", len(left))
	}
}
