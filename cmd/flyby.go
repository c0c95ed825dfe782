package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marcus/actsync/internal/models"
	"github.com/marcus/actsync/internal/output"
)

var flybyCmd = &cobra.Command{
	Use:     "flyby",
	Short:   "Manage the detail stream queue",
	GroupID: "sync",
}

var flybyRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch detail streams for queued activities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		return runFlyby(ctx, database, client, limit)
	},
}

var flybyListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Show queued activities",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		database, err := openDB(cfg)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		entries, err := database.ListFlyby()
		if err != nil {
			if jsonOut {
				output.JSONError(output.ErrCodeDatabaseError, err.Error())
			} else {
				output.Error("list flyby queue: %v", err)
			}
			return err
		}
		if jsonOut {
			return output.JSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("Flyby queue is empty")
			return nil
		}
		fmt.Print(flybyTable(entries, output.TerminalWidth(120)))
		return nil
	},
}

var flybyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Make every errored entry due again",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB(cfg)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		n, err := database.ResetFlyby()
		if err != nil {
			output.Error("reset flyby queue: %v", err)
			return err
		}
		output.Success("reset %d flyby entries", n)
		return nil
	},
}

func flybyTable(entries []models.FlybyEntry, width int) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		next := "-"
		if e.NextRetryAt != nil {
			next = e.NextRetryAt.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			strconv.FormatInt(e.ActivityID, 10),
			string(e.Status),
			strconv.Itoa(e.AttemptCount),
			next,
			e.LastError,
		})
	}
	return output.Table([]string{"ACTIVITY", "STATUS", "ATTEMPTS", "NEXT", "ERROR"}, rows, width)
}

func init() {
	flybyRunCmd.Flags().Int("limit", 0, "maximum entries to process (0 = all due)")
	flybyListCmd.Flags().Bool("json", false, "JSON output")

	flybyCmd.AddCommand(flybyRunCmd, flybyListCmd, flybyResetCmd)
	rootCmd.AddCommand(flybyCmd)
}
