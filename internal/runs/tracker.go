// Package runs implements the per-bar analysis state machine: the
// append-only attempt log (PENDING → COMPLETE|FAILED) and the idempotent
// decision upsert keyed by (symbol, timeframe, bar_time).
package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"barwatch/internal/domain"
	"barwatch/internal/errs"
	"barwatch/internal/storage"
)

// Tracker owns run-lifecycle transitions and decision persistence.
type Tracker struct {
	runs      storage.RunStore
	decisions storage.DecisionStore
	logger    zerolog.Logger
	now       func() time.Time
}

// NewTracker wires the run log and decision store into a Tracker.
func NewTracker(runStore storage.RunStore, decisionStore storage.DecisionStore, logger zerolog.Logger) *Tracker {
	return &Tracker{
		runs:      runStore,
		decisions: decisionStore,
		logger:    logger.With().Str("component", "runs").Logger(),
		now:       time.Now,
	}
}

// WithClock swaps the clock; test hook.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Start appends a PENDING run row and returns its id.
func (t *Tracker) Start(ctx context.Context, pair domain.Pair, barTime time.Time) (int64, error) {
	started := t.now()
	id, err := t.runs.InsertRun(ctx, domain.AnalysisRun{
		Symbol:    pair.Symbol,
		Timeframe: pair.Timeframe,
		BarTime:   barTime,
		State:     domain.RunPending,
		StartedAt: &started,
	})
	if err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishOK moves the run to COMPLETE and stamps latency.
func (t *Tracker) FinishOK(ctx context.Context, id int64) error {
	return t.finish(ctx, id, domain.RunComplete, "", "")
}

// FinishFail moves the run to FAILED with taxonomy code and message.
func (t *Tracker) FinishFail(ctx context.Context, id int64, code errs.Code, msg string) error {
	return t.finish(ctx, id, domain.RunFailed, code.String(), msg)
}

// RecordSkip appends an already-COMPLETE run documenting a scheduler skip.
// The scheduler succeeded at deciding not to analyse, so the run is a
// success with an explanatory message, not a failure.
func (t *Tracker) RecordSkip(ctx context.Context, pair domain.Pair, barTime time.Time, reason string) error {
	now := t.now()
	_, err := t.runs.InsertRun(ctx, domain.AnalysisRun{
		Symbol:       pair.Symbol,
		Timeframe:    pair.Timeframe,
		BarTime:      barTime,
		State:        domain.RunComplete,
		StartedAt:    &now,
		FinishedAt:   &now,
		ErrorMessage: "SKIP: " + reason,
	})
	if err != nil {
		return fmt.Errorf("record skip: %w", err)
	}
	return nil
}

func (t *Tracker) finish(ctx context.Context, id int64, state domain.RunState, code, msg string) error {
	finished := t.now()

	var latency *int64
	if run, err := t.runs.GetRun(ctx, id); err == nil && run.StartedAt != nil {
		ms := finished.Sub(*run.StartedAt).Milliseconds()
		latency = &ms
	}

	err := t.runs.FinishRun(ctx, id, storage.RunFinish{
		State:        state,
		FinishedAt:   finished,
		LatencyMS:    latency,
		ErrorCode:    code,
		ErrorMessage: msg,
	})
	if err != nil {
		return fmt.Errorf("finish run %d: %w", id, err)
	}
	return nil
}

// RecordResult describes the outcome of a decision persistence attempt.
type RecordResult struct {
	Created bool
	Record  *domain.AnalysisDecision
}

// RecordDecision persists a decision idempotently.
//
// NO_TRADE persists nothing: the outcome is visible only through the
// COMPLETE run row. Otherwise the first caller creates the row; later
// callers with the same key observe it and refresh only the derived
// fields when they differ.
func (t *Tracker) RecordDecision(ctx context.Context, dec domain.AnalysisDecision) (RecordResult, error) {
	if dec.FinalDecision == domain.DecisionNoTrade {
		return RecordResult{}, nil
	}

	created, out, err := t.decisions.CreateDecision(ctx, dec)
	if err != nil {
		return RecordResult{}, fmt.Errorf("record decision: %w", err)
	}

	if !created && derivedDiffer(out, dec) {
		refreshed := out
		refreshed.MLConfidence = dec.MLConfidence
		refreshed.CompositeScore = dec.CompositeScore
		refreshed.StopLoss = dec.StopLoss
		refreshed.TakeProfit = dec.TakeProfit
		if err := t.decisions.RefreshDerived(ctx, refreshed); err != nil {
			return RecordResult{}, fmt.Errorf("record decision: %w", err)
		}
		out = refreshed
	}

	return RecordResult{Created: created, Record: &out}, nil
}

// CompleteDecision marks the row COMPLETE.
func (t *Tracker) CompleteDecision(ctx context.Context, pair domain.Pair, barTime time.Time) error {
	return t.decisions.SetDecisionStatus(ctx, pair, barTime, domain.RunComplete, "", "", t.now())
}

// FailDecision marks the decision row FAILED by its idempotent key. The key
// lookup makes this safe even when the in-memory handle from the create was
// lost; a missing row (pipeline failed before persistence) is not an error.
func (t *Tracker) FailDecision(ctx context.Context, pair domain.Pair, barTime time.Time, code errs.Code, msg string) error {
	err := t.decisions.SetDecisionStatus(ctx, pair, barTime, domain.RunFailed, code.String(), msg, t.now())
	if errors.Is(err, storage.ErrNotFound) {
		t.logger.Debug().Stringer("pair", pair).Time("bar_ts", barTime).Msg("no decision row to fail")
		return nil
	}
	if err != nil {
		return fmt.Errorf("fail decision: %w", err)
	}
	return nil
}

func derivedDiffer(existing, incoming domain.AnalysisDecision) bool {
	return !decimalPtrEqual(existing.MLConfidence, incoming.MLConfidence) ||
		!decimalPtrEqual(existing.CompositeScore, incoming.CompositeScore) ||
		!decimalPtrEqual(existing.StopLoss, incoming.StopLoss) ||
		!decimalPtrEqual(existing.TakeProfit, incoming.TakeProfit)
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
