package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/actsync/internal/db"
	"github.com/marcus/actsync/internal/fitenc"
	"github.com/marcus/actsync/internal/output"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	Short:   "Write one local activity as a FIT file",
	Long:    `Runs the upload encoder on one local activity and writes the payload to disk.`,
	Example: `  actsync export --id 12345678 --out ride.fit`,
	GroupID: "data",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetInt64("id")
		out, _ := cmd.Flags().GetString("out")
		if id <= 0 {
			err := errors.New("--id is required")
			output.Error("%v", err)
			return err
		}

		database, err := openDB(cfg)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		act, err := database.GetActivity(id)
		if err != nil {
			if errors.Is(err, db.ErrActivityNotFound) {
				output.Error("activity %d not found", id)
			} else {
				output.Error("load activity %d: %v", id, err)
			}
			return err
		}
		stream, err := database.GetDetailStream(id)
		if err != nil {
			output.Error("load detail stream %d: %v", id, err)
			return err
		}

		payload, err := fitenc.Encode(act, stream)
		if err != nil {
			output.Error("encode activity %d: %v", id, err)
			return err
		}
		if out == "" {
			out = fitenc.Filename(act)
		}
		if err := os.WriteFile(out, payload, 0644); err != nil {
			output.Error("write %s: %v", out, err)
			return err
		}

		fmt.Println(output.FormatActivity(act))
		output.Success("wrote %s (%s, %d samples)", out, output.FormatBytes(len(payload)), len(stream))
		return nil
	},
}

func init() {
	exportCmd.Flags().Int64("id", 0, "local activity id")
	exportCmd.Flags().StringP("out", "o", "", "output file (default <id>.fit)")

	rootCmd.AddCommand(exportCmd)
}
