package cli

import (
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect triggered alerts",
}

var historyListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List triggered alerts, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListHistory(cmd.Context(), historyLimit)
	},
}

var historyRemoveCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete one history entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().DeleteHistoryEntry(cmd.Context(), args[0])
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all history entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ClearHistory(cmd.Context())
	},
}

func init() {
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of entries to display (0 for all)")

	historyCmd.AddCommand(historyListCmd, historyRemoveCmd, historyClearCmd)
}
