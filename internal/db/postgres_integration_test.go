//go:build integration

package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/marcus/actsync/internal/models"
)

func setupPostgres(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("actsync"),
		postgrescontainer.WithUsername("actsync"),
		postgrescontainer.WithPassword("actsync"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	var database *DB
	deadline := time.Now().Add(30 * time.Second)
	for {
		database, err = Open(dsn)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.Equal(t, DialectPostgres, database.Dialect())
	return database
}

func TestPostgresStatusStore(t *testing.T) {
	database := setupPostgres(t)

	v, err := database.GetSchemaVersion()
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, v)

	remote := "30"
	require.NoError(t, database.UpsertStatus(StatusUpdate{
		ActivityID: 1001, Vendor: models.VendorGarmin, Account: "garmin_com",
		Status: models.StatusSynced, RemoteActivityID: &remote,
	}))
	msg := "upload rejected"
	require.NoError(t, database.UpsertStatus(StatusUpdate{
		ActivityID: 1002, Vendor: models.VendorGarmin, Account: "garmin_com",
		Status: models.StatusFailed, LastError: &msg,
	}))
	require.NoError(t, database.UpsertStatus(StatusUpdate{
		ActivityID: 1001, Vendor: models.VendorGarmin, Account: "garmin_com",
		Status: models.StatusMissingRemote,
	}))

	all, err := database.LoadAll(models.VendorGarmin, "garmin_com")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "30", all[1001].RemoteID())
	require.Equal(t, models.StatusMissingRemote, all[1001].Status)

	n, err := database.RetryFailed(models.VendorGarmin, "garmin_com")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	counts, err := database.StatusCounts(models.VendorGarmin, "")
	require.NoError(t, err)
	require.Equal(t, 1, counts[models.StatusPending])
	require.Equal(t, 1, counts[models.StatusMissingRemote])
}

func TestPostgresCatalogueAndQueue(t *testing.T) {
	database := setupPostgres(t)

	added, err := database.UpsertActivities(testActivities())
	require.NoError(t, err)
	require.Len(t, added, 2)

	hr := 120.0
	require.NoError(t, database.ReplaceDetailStream(1001, models.DetailStream{{TimeOffset: 0, HeartRate: &hr}}))
	stream, err := database.GetDetailStream(1001)
	require.NoError(t, err)
	require.Len(t, stream, 1)

	n, err := database.EnqueueFlyby(added)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, database.MarkFlybyError(1002, models.FlybyError, "timeout", nil))

	pending, err := database.ListPendingFlyby(time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.EqualValues(t, 1001, pending[0].ActivityID)

	run := &models.SyncRun{RunID: "r1", Vendor: models.VendorGarmin, Account: "garmin_com", Kind: models.RunKindUpload}
	require.NoError(t, database.StartRun(run))
	require.NoError(t, database.FinishRun(run))
	runs, err := database.RecentRuns(models.VendorGarmin, "garmin_com", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}
