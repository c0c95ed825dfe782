package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/marcus/actsync/internal/db"
	"github.com/marcus/actsync/internal/fitenc"
	"github.com/marcus/actsync/internal/models"
	"github.com/marcus/actsync/internal/observability"
	"github.com/marcus/actsync/internal/output"
	actsync "github.com/marcus/actsync/internal/sync"
)

var vendorCmd = &cobra.Command{
	Use:     "vendor",
	Short:   "Upload activities to a vendor account",
	GroupID: "sync",
}

var vendorSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile with the vendor listing, then upload what is missing",
	Example: `  actsync vendor sync --vendor garmin --account garmin_com
  actsync vendor sync --dry-run --limit 10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVendor(cmd, func(ctx context.Context, o *actsync.Orchestrator) (*actsync.Result, error) {
			return o.Sync(ctx)
		})
	},
}

var vendorReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match local activities against the vendor listing without uploading",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVendor(cmd, func(ctx context.Context, o *actsync.Orchestrator) (*actsync.Result, error) {
			return o.Reconcile(ctx)
		})
	},
}

// runVendor builds an orchestrator from flags and config and runs pass on
// it.
func runVendor(cmd *cobra.Command, pass func(context.Context, *actsync.Orchestrator) (*actsync.Result, error)) error {
	vendorFlag, _ := cmd.Flags().GetString("vendor")
	accountFlag, _ := cmd.Flags().GetString("account")
	// reconcile defines neither flag; the lookups then yield zero values.
	limit, _ := cmd.Flags().GetInt("limit")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	vendor, err := parseVendor(vendorFlag)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	account := resolveAccount(cfg, accountFlag)

	tol := cfg.Tolerances()
	if cmd.Flags().Changed("match-window") {
		tol.TimeWindow, _ = cmd.Flags().GetDuration("match-window")
	}
	if cmd.Flags().Changed("distance-tolerance") {
		tol.Distance, _ = cmd.Flags().GetFloat64("distance-tolerance")
	}
	if cmd.Flags().Changed("duration-tolerance") {
		tol.Duration, _ = cmd.Flags().GetDuration("duration-tolerance")
	}
	if tol.TimeWindow < 0 || tol.Distance < 0 || tol.Duration < 0 {
		err := errors.New("tolerances must not be negative")
		output.Error("%v", err)
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	database, err := openDB(cfg)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer database.Close()

	client, err := newGarmin(cfg)
	if err != nil {
		output.Error("%v", err)
		return err
	}

	o := actsync.New(database, client, fitenc.Encoder{}, tol, actsync.Options{
		Vendor:            vendor,
		Account:           account,
		PageSize:          cfg.Upload.PageSize,
		VerifyPageSize:    cfg.Upload.VerifyPageSize,
		VerifyPages:       cfg.Upload.VerifyPages,
		MaxAttempts:       cfg.Upload.MaxAttempts,
		DefaultRetryAfter: cfg.Upload.DefaultRetryAfter.Duration,
		Limit:             limit,
		DryRun:            dryRun,
	})
	o.Runs = database
	o.Logger = slog.Default()

	res, runErr := pass(ctx, o)
	publishStatusCounts(database, vendor, account)

	if res != nil {
		printResult(res)
	}
	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, actsync.ErrRateLimited):
		output.Warning("stopped early: %v", runErr)
	case errors.Is(runErr, actsync.ErrIndexFetch):
		output.Error("could not list %s activities: %v", vendor, runErr)
	default:
		output.Error("%v", runErr)
	}
	return runErr
}

func printResult(res *actsync.Result) {
	parts := []string{
		fmt.Sprintf("matched %d", res.Matched+res.Kept),
		fmt.Sprintf("uploaded %d", res.Uploaded),
		fmt.Sprintf("skipped %d", res.Skipped),
	}
	if res.Conflicts > 0 {
		parts = append(parts, fmt.Sprintf("conflicts %d", res.Conflicts))
	}
	if res.Failed > 0 {
		parts = append(parts, fmt.Sprintf("failed %d", res.Failed))
	}
	if res.Retrying > 0 {
		parts = append(parts, fmt.Sprintf("retry later %d", res.Retrying))
	}
	if res.Deferred > 0 {
		parts = append(parts, fmt.Sprintf("waiting %d", res.Deferred))
	}
	if res.Missing > 0 {
		parts = append(parts, fmt.Sprintf("missing remotely %d", res.Missing))
	}
	if res.LocalData > 0 {
		parts = append(parts, fmt.Sprintf("bad local data %d", res.LocalData))
	}
	if res.DryRun > 0 {
		parts = append(parts, fmt.Sprintf("would upload %d", res.DryRun))
	}
	msg := strings.Join(parts, ", ")
	if res.Failed > 0 || res.Retrying > 0 || res.Conflicts > 0 {
		output.Warning("%s", msg)
		return
	}
	output.Success("%s", msg)
}

// publishStatusCounts refreshes the per-status gauges for the metrics
// textfile.
func publishStatusCounts(database *db.DB, vendor models.Vendor, account string) {
	counts, err := database.StatusCounts(vendor, account)
	if err != nil {
		slog.Warn("count sync status", "err", err)
		return
	}
	observability.SetStatusCounts(vendor, account, counts)
}

type statusReport struct {
	Vendor  models.Vendor             `json:"vendor"`
	Account string                    `json:"account,omitempty"`
	Counts  map[models.SyncStatus]int `json:"counts"`
	Retried int64                     `json:"retried,omitempty"`
	Failed  []models.SyncRecord       `json:"failed,omitempty"`
	Runs    []models.SyncRun          `json:"runs,omitempty"`
}

var vendorStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show upload state per status, failing activities and recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		vendorFlag, _ := cmd.Flags().GetString("vendor")
		account, _ := cmd.Flags().GetString("account")
		retry, _ := cmd.Flags().GetBool("retry-failed")
		jsonOut, _ := cmd.Flags().GetBool("json")
		limit, _ := cmd.Flags().GetInt("limit")

		fail := func(code string, err error) error {
			if jsonOut {
				output.JSONError(code, err.Error())
			} else {
				output.Error("%v", err)
			}
			return err
		}

		vendor, err := parseVendor(vendorFlag)
		if err != nil {
			return fail(output.ErrCodeInvalidInput, err)
		}

		database, err := openDB(cfg)
		if err != nil {
			return fail(output.ErrCodeDatabaseError, err)
		}
		defer database.Close()

		report := statusReport{Vendor: vendor, Account: account}
		if retry {
			if report.Retried, err = database.RetryFailed(vendor, account); err != nil {
				return fail(output.ErrCodeDatabaseError, err)
			}
		}
		if report.Counts, err = database.StatusCounts(vendor, account); err != nil {
			return fail(output.ErrCodeDatabaseError, err)
		}
		if report.Failed, err = database.ListByStatus(vendor, account, models.StatusFailed, limit); err != nil {
			return fail(output.ErrCodeDatabaseError, err)
		}
		if report.Runs, err = database.RecentRuns(vendor, account, 5); err != nil {
			return fail(output.ErrCodeDatabaseError, err)
		}
		observability.SetStatusCounts(vendor, account, report.Counts)

		if jsonOut {
			return output.JSON(report)
		}

		if report.Retried > 0 {
			output.Success("moved %d failed activities back to pending", report.Retried)
		}
		scope := string(vendor)
		if account != "" {
			scope += "/" + account
		}
		fmt.Print(output.SectionHeader(scope))
		fmt.Print(output.StatusCountsTable(report.Counts))
		if len(report.Failed) > 0 {
			fmt.Print(output.SectionHeader("failed"))
			fmt.Print(output.RecordsTable(report.Failed, output.TerminalWidth(120)))
		}
		if len(report.Runs) > 0 {
			fmt.Print(output.SectionHeader("recent runs"))
			for i := range report.Runs {
				fmt.Println(output.FormatRun(&report.Runs[i]))
			}
		}
		return nil
	},
}

var vendorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget every upload state of one account",
	Long: `Deletes the status rows of one vendor account. The next sync reconciles
every activity against the vendor listing from scratch.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		vendorFlag, _ := cmd.Flags().GetString("vendor")
		accountFlag, _ := cmd.Flags().GetString("account")
		yes, _ := cmd.Flags().GetBool("yes")

		vendor, err := parseVendor(vendorFlag)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		account := resolveAccount(cfg, accountFlag)

		if !yes {
			ok, err := confirmReset(vendor, account)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			if !ok {
				fmt.Println("Aborted")
				return nil
			}
		}

		database, err := openDB(cfg)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		n, err := database.DeleteAccountStatus(vendor, account)
		if err != nil {
			output.Error("reset %s/%s: %v", vendor, account, err)
			return err
		}
		publishStatusCounts(database, vendor, account)
		output.Success("deleted %d status rows for %s/%s", n, vendor, account)
		return nil
	},
}

func confirmReset(vendor models.Vendor, account string) (bool, error) {
	if !output.IsInteractive() {
		return false, errors.New("refusing to reset without a terminal; pass --yes")
	}
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Delete every upload state for %s/%s?", vendor, account)).
			Description("Activities are reconciled again on the next sync.").
			Affirmative("Delete").
			Negative("Cancel").
			Value(&ok),
	))
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}

// addToleranceFlags registers the matcher overrides. Unset flags keep the
// configured values.
func addToleranceFlags(fs *pflag.FlagSet) {
	fs.Duration("match-window", 0, "start time window for matching (default from config)")
	fs.Float64("distance-tolerance", 0, "distance tolerance in meters (default from config)")
	fs.Duration("duration-tolerance", 0, "duration tolerance (default from config)")
}

func init() {
	for _, c := range []*cobra.Command{vendorSyncCmd, vendorReconcileCmd, vendorStatusCmd, vendorResetCmd} {
		c.Flags().String("vendor", string(models.VendorGarmin), "upload target")
	}
	for _, c := range []*cobra.Command{vendorSyncCmd, vendorReconcileCmd} {
		c.Flags().String("account", "", "vendor account (default from garmin.domain)")
		addToleranceFlags(c.Flags())
	}
	vendorSyncCmd.Flags().Int("limit", 0, "maximum uploads to attempt (0 = all)")
	vendorSyncCmd.Flags().Bool("dry-run", false, "decide what would be uploaded without writing anything remotely")

	vendorStatusCmd.Flags().String("account", "", "vendor account (default all accounts)")
	vendorStatusCmd.Flags().Bool("retry-failed", false, "move failed activities back to pending first")
	vendorStatusCmd.Flags().Bool("json", false, "JSON output")
	vendorStatusCmd.Flags().Int("limit", 20, "maximum failed activities to list")

	vendorResetCmd.Flags().String("account", "", "vendor account (default from garmin.domain)")
	vendorResetCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")

	vendorCmd.AddCommand(vendorSyncCmd, vendorReconcileCmd, vendorStatusCmd, vendorResetCmd)
	rootCmd.AddCommand(vendorCmd)
}
