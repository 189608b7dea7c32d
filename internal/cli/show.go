package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/app"
)

var (
	showLimit   int
	showDigests bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent audited alerts or digests",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:   showLimit,
			Digests: showDigests,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showDigests, "digests", false, "Show digests instead of alerts")
}
