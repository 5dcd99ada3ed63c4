package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"barwatch/internal/app"
	"barwatch/internal/domain"
)

var (
	decisionsSymbol    string
	decisionsTimeframe string
	decisionsLimit     int
)

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "Display recent trade decisions for a pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		if decisionsSymbol == "" || decisionsTimeframe == "" {
			return fmt.Errorf("--symbol and --timeframe are required")
		}
		if decisionsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.DecisionsOptions{
			Pair:  domain.Pair{Symbol: decisionsSymbol, Timeframe: decisionsTimeframe},
			Limit: decisionsLimit,
		}

		return getApp().Decisions(cmd.Context(), opts)
	},
}

func init() {
	decisionsCmd.Flags().StringVar(&decisionsSymbol, "symbol", "", "Symbol to display")
	decisionsCmd.Flags().StringVar(&decisionsTimeframe, "timeframe", "", "Timeframe to display")
	decisionsCmd.Flags().IntVar(&decisionsLimit, "limit", 20, "Number of decisions to display")
}
