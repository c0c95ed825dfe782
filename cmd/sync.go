package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/actsync/internal/catalog"
	"github.com/marcus/actsync/internal/db"
	"github.com/marcus/actsync/internal/flyby"
	"github.com/marcus/actsync/internal/output"
	"github.com/marcus/actsync/internal/strava"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Refresh the local activity catalogue",
	GroupID: "sync",
}

var syncDBCmd = &cobra.Command{
	Use:   "db",
	Short: "Import new Strava activities and fetch their detail streams",
	Long: `Imports activity summaries newer than the latest local activity, queues them
for detail stream download and then drains the flyby queue.

--prune lists the whole account and deletes local activities that no longer
exist on Strava.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		full, _ := cmd.Flags().GetBool("full")
		prune, _ := cmd.Flags().GetBool("prune")
		noFlyby, _ := cmd.Flags().GetBool("no-flyby")
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, stop := signalContext()
		defer stop()

		database, err := openDB(cfg)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		client, err := newStrava(cfg)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer persistStravaToken(cfg, client)

		im := catalog.New(database, client)
		im.Runs = database
		res, err := im.Run(ctx, catalog.Options{Full: full, Prune: prune, Limit: limit})
		if err != nil {
			output.Error("import failed: %v", err)
			return err
		}
		output.Success("imported %d new of %d listed activities", res.Added, res.Fetched)
		if res.Pruned > 0 {
			output.Info("pruned %d activities no longer on Strava", res.Pruned)
		}

		if noFlyby {
			return nil
		}
		return runFlyby(ctx, database, client, 0)
	},
}

// runFlyby drains the detail stream queue and prints a summary line.
func runFlyby(ctx context.Context, database *db.DB, client *strava.Client, limit int) error {
	p := flyby.New(database, client, flyby.Options{
		RequestDelay: cfg.Flyby.RequestDelay.Duration,
		MaxRetries:   cfg.Flyby.MaxRetries,
		BackoffBase:  cfg.Flyby.BackoffBase.Duration,
		BackoffCap:   cfg.Flyby.BackoffCap.Duration,
		Limit:        limit,
	})
	p.Runs = database

	res, err := p.Run(ctx)
	if err != nil {
		output.Error("flyby failed: %v", err)
		return err
	}
	msg := fmt.Sprintf("stored %d detail streams, %d errors", res.Stored, res.Errors)
	if res.RateLimited {
		output.Warning("%s; rate limited, resume in %s", msg, output.FormatDuration(res.RetryAfter))
		return nil
	}
	output.Success("%s", msg)
	return nil
}

func init() {
	syncDBCmd.Flags().Bool("full", false, "list the whole account instead of only new activities")
	syncDBCmd.Flags().Bool("prune", false, "delete local activities missing on Strava (implies --full)")
	syncDBCmd.Flags().Bool("no-flyby", false, "skip the detail stream download")
	syncDBCmd.Flags().Int("limit", 0, "maximum summaries to import (0 = all)")

	syncCmd.AddCommand(syncDBCmd)
	rootCmd.AddCommand(syncCmd)
}
