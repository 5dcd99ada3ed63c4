package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"barwatch/internal/domain"
	"barwatch/internal/errs"
	"barwatch/internal/runs"
	"barwatch/internal/storage"
)

// Outcome classifies one pipeline invocation.
type Outcome string

const (
	// OutcomeSkipped: nothing persisted on purpose (no bar, NO_TRADE).
	OutcomeSkipped Outcome = "SKIPPED"
	// OutcomeCreated: this invocation created the decision row.
	OutcomeCreated Outcome = "CREATED"
	// OutcomeUpdated: the row already existed; derived fields refreshed.
	OutcomeUpdated Outcome = "UPDATED"
	// OutcomeFailed: the run ended FAILED with a taxonomy code.
	OutcomeFailed Outcome = "FAILED"
)

// Result is the structured outcome callers receive. Errors never escape the
// pipeline boundary; a failure is a Result with OutcomeFailed and a code.
type Result struct {
	Outcome   Outcome
	RunID     int64
	Decision  *domain.AnalysisDecision
	ErrorCode errs.Code
	Err       error
}

// Pipeline executes one analysis attempt per dispatch.
type Pipeline struct {
	bars    storage.BarStore
	rules   RuleEngine
	ml      MLBridge
	tracker *runs.Tracker
	logger  zerolog.Logger
	// DryRun short-circuits decision persistence: the run log still records
	// the attempt, but no decision row is written.
	DryRun bool
}

// NewPipeline wires the pipeline's collaborators.
func NewPipeline(bars storage.BarStore, rules RuleEngine, ml MLBridge, tracker *runs.Tracker, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		bars:    bars,
		rules:   rules,
		ml:      ml,
		tracker: tracker,
		logger:  logger.With().Str("component", "analysis").Logger(),
	}
}

// AnalyzeLatest runs the full pipeline for the pair's most recent bar.
//
// Each invocation appends exactly one run row. The decision upsert is
// idempotent on (symbol, timeframe, bar_time), so re-running for the same
// bar never yields a second decision row.
func (p *Pipeline) AnalyzeLatest(ctx context.Context, pair domain.Pair) Result {
	bar, err := p.bars.LatestBarByTimestamp(ctx, pair)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			p.logger.Debug().Stringer("pair", pair).Msg("no bars; nothing to analyse")
			return Result{Outcome: OutcomeSkipped}
		}
		return Result{Outcome: OutcomeFailed, ErrorCode: errs.Classify(err), Err: err}
	}

	runID, err := p.tracker.Start(ctx, pair, bar.Timestamp)
	if err != nil {
		return Result{Outcome: OutcomeFailed, ErrorCode: errs.Classify(err), Err: err}
	}

	verdict, err := p.rules.RunRules(ctx, pair)
	if err != nil {
		return p.fail(ctx, pair, bar.Timestamp, runID, tagAnalysis(err))
	}
	if verdict.BarTime == nil {
		return p.fail(ctx, pair, bar.Timestamp, runID,
			errs.Wrap(errs.AnalysisErr, errors.New("rules returned no bar time")))
	}
	barTime := *verdict.BarTime

	if verdict.FinalDecision == domain.DecisionNoTrade {
		if err := p.tracker.FinishOK(ctx, runID); err != nil {
			p.logger.Error().Err(err).Stringer("pair", pair).Msg("failed to close NO_TRADE run")
		}
		return Result{Outcome: OutcomeSkipped, RunID: runID}
	}

	mlConf, err := p.ml.RunML(ctx, pair, barTime)
	if err != nil {
		return p.fail(ctx, pair, barTime, runID, tagAnalysis(err))
	}
	composite := Blend(verdict.RuleConfidence, mlConf)

	if p.DryRun {
		if err := p.tracker.FinishOK(ctx, runID); err != nil {
			p.logger.Error().Err(err).Stringer("pair", pair).Msg("failed to close dry-run")
		}
		return Result{Outcome: OutcomeSkipped, RunID: runID}
	}

	started := bar.Timestamp
	rec, err := p.tracker.RecordDecision(ctx, domain.AnalysisDecision{
		Symbol:         pair.Symbol,
		Timeframe:      pair.Timeframe,
		BarTime:        barTime,
		FinalDecision:  verdict.FinalDecision,
		RuleConfidence: verdict.RuleConfidence,
		MLConfidence:   mlConf,
		CompositeScore: &composite,
		StopLoss:       verdict.StopLoss,
		TakeProfit:     verdict.TakeProfit,
		Status:         domain.RunPending,
		StartedAt:      &started,
	})
	if err != nil {
		return p.fail(ctx, pair, barTime, runID, err)
	}

	if err := p.tracker.CompleteDecision(ctx, pair, barTime); err != nil {
		return p.fail(ctx, pair, barTime, runID, err)
	}
	if err := p.tracker.FinishOK(ctx, runID); err != nil {
		p.logger.Error().Err(err).Stringer("pair", pair).Msg("failed to close run")
	}

	outcome := OutcomeUpdated
	if rec.Created {
		outcome = OutcomeCreated
	}
	return Result{Outcome: outcome, RunID: runID, Decision: rec.Record}
}

// fail maps the error to the taxonomy, marks any decision row FAILED by its
// idempotent key, and always closes the run FAILED. The error stays inside
// the Result; it is never re-raised past this boundary.
func (p *Pipeline) fail(ctx context.Context, pair domain.Pair, barTime time.Time, runID int64, err error) Result {
	code := errs.Classify(err)
	if errors.Is(err, storage.ErrDuplicateKey) {
		code = errs.DuplicateWrite
	}
	msg := err.Error()

	if markErr := p.tracker.FailDecision(ctx, pair, barTime, code, msg); markErr != nil {
		p.logger.Error().Err(markErr).Stringer("pair", pair).Msg("failed to mark decision FAILED")
	}
	if finErr := p.tracker.FinishFail(ctx, runID, code, msg); finErr != nil {
		p.logger.Error().Err(finErr).Stringer("pair", pair).Msg("failed to close run FAILED")
	}

	p.logger.Warn().Err(err).Stringer("pair", pair).Str("error_code", code.String()).Msg("analysis failed")
	return Result{Outcome: OutcomeFailed, RunID: runID, ErrorCode: code, Err: fmt.Errorf("analyse %s: %w", pair, err)}
}

// tagAnalysis leaves already-classifiable errors (timeouts, disconnects,
// duplicates) alone and tags everything else as a generic analysis failure.
func tagAnalysis(err error) error {
	if errs.Classify(err) != errs.Unknown {
		return err
	}
	return errs.Wrap(errs.AnalysisErr, err)
}
