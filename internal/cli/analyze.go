package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"barwatch/internal/app"
	"barwatch/internal/domain"
)

var (
	analyzeSymbol    string
	analyzeTimeframe string
	analyzeDryRun    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the analysis pipeline once for a single pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		if analyzeSymbol == "" || analyzeTimeframe == "" {
			return fmt.Errorf("--symbol and --timeframe are required")
		}

		opts := app.AnalyzeOptions{
			Pair:   domain.Pair{Symbol: analyzeSymbol, Timeframe: analyzeTimeframe},
			DryRun: analyzeDryRun,
		}

		return getApp().Analyze(cmd.Context(), opts)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeSymbol, "symbol", "", "Symbol to analyze")
	analyzeCmd.Flags().StringVar(&analyzeTimeframe, "timeframe", "", "Timeframe to analyze")
	analyzeCmd.Flags().BoolVar(&analyzeDryRun, "dry-run", false, "Skip decision persistence")
}
