package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/app"
)

var replayCSVPath string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a CSV of observations through the engine offline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayCSVPath == "" {
			return errors.New("--csv is required")
		}
		return getApp().Replay(cmd.Context(), app.ReplayOptions{CSVPath: replayCSVPath})
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayCSVPath, "csv", "", "CSV file of observations (pair,timestamp,price,baseline,volume)")
}
