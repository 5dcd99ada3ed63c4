package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"barwatch/internal/analysis"
	"barwatch/internal/domain"
	"barwatch/internal/runs"
)

// AnalyzeOptions configure the one-shot analysis command.
type AnalyzeOptions struct {
	Pair   domain.Pair
	DryRun bool
}

// Analyze runs the analysis pipeline once for a single pair and prints the
// outcome. With DryRun the run log still records the attempt but no decision
// row is written.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	if opts.Pair.Symbol == "" || opts.Pair.Timeframe == "" {
		return errors.New("pair symbol and timeframe are required")
	}

	st, closeStores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	tracker := runs.NewTracker(st.runs, st.decisions, a.Logger)
	pipeline := analysis.NewPipeline(st.bars, &analysis.StubRuleEngine{Bars: st.bars}, analysis.StubMLBridge{}, tracker, a.Logger)
	pipeline.DryRun = opts.DryRun || a.Config.Analysis.DryRun

	res := pipeline.AnalyzeLatest(ctx, opts.Pair)
	fmt.Fprintf(os.Stdout, "outcome: %s (run %d)\n", res.Outcome, res.RunID)
	if res.Err != nil {
		fmt.Fprintf(os.Stdout, "error [%s]: %v\n", res.ErrorCode, res.Err)
	}
	if res.Decision != nil {
		fmt.Fprintf(os.Stdout, "decision: %s confidence %s\n", res.Decision.FinalDecision, res.Decision.RuleConfidence.String())
	}
	return nil
}
