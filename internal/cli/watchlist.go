package cli

import (
	"github.com/spf13/cobra"
)

var (
	watchType   string
	watchQuotes bool
)

var watchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "Manage watched symbols",
}

var watchlistAddCmd = &cobra.Command{
	Use:   "add SYMBOL",
	Short: "Add a symbol to the watchlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WatchlistAdd(cmd.Context(), args[0], watchType)
	},
}

var watchlistRemoveCmd = &cobra.Command{
	Use:   "rm SYMBOL",
	Short: "Remove a symbol from the watchlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WatchlistRemove(cmd.Context(), args[0], watchType)
	},
}

var watchlistContainsCmd = &cobra.Command{
	Use:   "contains SYMBOL",
	Short: "Print whether a symbol is watched",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().WatchlistContains(cmd.Context(), args[0], watchType)
		return err
	},
}

var watchlistListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List watched symbols",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().WatchlistList(cmd.Context(), watchQuotes)
	},
}

func init() {
	for _, c := range []*cobra.Command{watchlistAddCmd, watchlistRemoveCmd, watchlistContainsCmd} {
		c.Flags().StringVar(&watchType, "type", "stocks", "Asset type: stocks or crypto")
	}
	watchlistListCmd.Flags().BoolVar(&watchQuotes, "quotes", false, "Fetch current prices for watched symbols")

	watchlistCmd.AddCommand(watchlistAddCmd, watchlistRemoveCmd, watchlistContainsCmd, watchlistListCmd)
}
