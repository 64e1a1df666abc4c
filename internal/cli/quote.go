package cli

import (
	"github.com/spf13/cobra"

	"marketwatch/internal/app"
)

var quoteOpts app.QuoteOptions

var quoteCmd = &cobra.Command{
	Use:   "quote SYMBOL...",
	Short: "Fetch current prices",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := quoteOpts
		opts.Symbols = args
		return getApp().Quote(cmd.Context(), opts)
	},
}

func init() {
	quoteCmd.Flags().StringVar(&quoteOpts.AssetType, "type", "stocks", "Asset type: stocks or crypto")
	quoteCmd.Flags().StringVar(&quoteOpts.Suggest, "suggest", "", "Print a suggested alert target for above or below")
}
