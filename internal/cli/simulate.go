package cli

import (
	"github.com/spf13/cobra"

	"marketwatch/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Evaluate alerts once against a fixed price for one symbol",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), simulateOpts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOpts.Symbol, "symbol", "", "Symbol to price")
	simulateCmd.Flags().StringVar(&simulateOpts.AssetType, "type", "stocks", "Asset type: stocks or crypto")
	simulateCmd.Flags().StringVar(&simulateOpts.Price, "price", "", "Simulated current price")
	simulateCmd.Flags().BoolVar(&simulateOpts.DryRun, "dry-run", false, "Evaluate against a copy of the store")
	_ = simulateCmd.MarkFlagRequired("symbol")
	_ = simulateCmd.MarkFlagRequired("price")
}
