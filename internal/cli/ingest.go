package cli

import (
	"github.com/spf13/cobra"

	"barwatch/internal/app"
	"barwatch/internal/domain"
)

var (
	ingestSymbol    string
	ingestTimeframe string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch and persist the latest bar for the watchlist once",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.IngestOptions{
			Pair: domain.Pair{Symbol: ingestSymbol, Timeframe: ingestTimeframe},
		}
		return getApp().Ingest(cmd.Context(), opts)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSymbol, "symbol", "", "Restrict to one symbol (requires --timeframe)")
	ingestCmd.Flags().StringVar(&ingestTimeframe, "timeframe", "", "Restrict to one timeframe (requires --symbol)")
}
