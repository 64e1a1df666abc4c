package cli

import (
	"github.com/spf13/cobra"

	"marketwatch/internal/app"
)

var alertOpts app.AlertOptions

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage active price alerts",
}

var alertsAddCmd = &cobra.Command{
	Use:   "add SYMBOL",
	Short: "Create a price alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := alertOpts
		opts.Symbol = args[0]
		return getApp().AddAlert(cmd.Context(), opts)
	},
}

var alertsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List active alerts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlerts(cmd.Context())
	},
}

var alertsRemoveCmd = &cobra.Command{
	Use:     "rm ID",
	Aliases: []string{"delete"},
	Short:   "Delete an active alert",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().DeleteAlert(cmd.Context(), args[0])
	},
}

func init() {
	alertsAddCmd.Flags().StringVar(&alertOpts.AssetType, "type", "stocks", "Asset type: stocks or crypto")
	alertsAddCmd.Flags().StringVar(&alertOpts.Condition, "condition", "above", "Trigger when price is above or below the target")
	alertsAddCmd.Flags().StringVar(&alertOpts.Target, "target", "", "Target price")
	_ = alertsAddCmd.MarkFlagRequired("target")

	alertsCmd.AddCommand(alertsAddCmd, alertsListCmd, alertsRemoveCmd)
}
