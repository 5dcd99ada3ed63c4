package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"barwatch/internal/domain"
	"barwatch/internal/errs"
	"barwatch/internal/runs"
	"barwatch/internal/storage/memory"
)

var testPair = domain.Pair{Symbol: "EURUSD", Timeframe: "1m"}

type fakeRules struct {
	verdict RuleVerdict
	err     error
}

func (f *fakeRules) RunRules(context.Context, domain.Pair) (RuleVerdict, error) {
	return f.verdict, f.err
}

type fakeML struct {
	conf *decimal.Decimal
	err  error
}

func (f *fakeML) RunML(context.Context, domain.Pair, time.Time) (*decimal.Decimal, error) {
	return f.conf, f.err
}

type fixture struct {
	pipeline  *Pipeline
	bars      *memory.BarStore
	runs      *memory.RunStore
	decisions *memory.DecisionStore
}

func newFixture(rules RuleEngine, ml MLBridge) *fixture {
	bars := memory.NewBarStore()
	runStore := memory.NewRunStore()
	decisionStore := memory.NewDecisionStore()
	tracker := runs.NewTracker(runStore, decisionStore, zerolog.Nop())
	return &fixture{
		pipeline:  NewPipeline(bars, rules, ml, tracker, zerolog.Nop()),
		bars:      bars,
		runs:      runStore,
		decisions: decisionStore,
	}
}

func seedBar(t *testing.T, bars *memory.BarStore, ts time.Time) {
	t.Helper()
	require.NoError(t, bars.UpsertBar(context.Background(), domain.Bar{
		Symbol:    testPair.Symbol,
		Timeframe: testPair.Timeframe,
		Timestamp: ts,
		Open:      decimal.NewFromFloat(1.1),
		High:      decimal.NewFromFloat(1.2),
		Low:       decimal.NewFromFloat(1.0),
		Close:     decimal.NewFromFloat(1.15),
	}))
}

func longVerdict(barTime time.Time) RuleVerdict {
	return RuleVerdict{
		FinalDecision:  domain.DecisionLong,
		RuleConfidence: decimal.NewFromInt(55),
		BarTime:        &barTime,
	}
}

func TestAnalyzeNoBarsSkips(t *testing.T) {
	fx := newFixture(&fakeRules{}, &fakeML{})

	res := fx.pipeline.AnalyzeLatest(context.Background(), testPair)
	require.Equal(t, OutcomeSkipped, res.Outcome)
	require.Empty(t, fx.runs.All())
}

func TestAnalyzeCreatesDecision(t *testing.T) {
	barTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fx := newFixture(&fakeRules{verdict: longVerdict(barTime)}, &fakeML{})
	seedBar(t, fx.bars, barTime)

	res := fx.pipeline.AnalyzeLatest(context.Background(), testPair)
	require.Equal(t, OutcomeCreated, res.Outcome)
	require.NotNil(t, res.Decision)
	require.Equal(t, domain.DecisionLong, res.Decision.FinalDecision)

	stored, err := fx.decisions.GetDecision(context.Background(), testPair, barTime)
	require.NoError(t, err)
	require.Equal(t, domain.RunComplete, stored.Status)
	// Rule-only blend: composite equals the rounded rule confidence.
	require.NotNil(t, stored.CompositeScore)
	require.True(t, stored.CompositeScore.Equal(decimal.NewFromInt(55)))

	all := fx.runs.All()
	require.Len(t, all, 1)
	require.Equal(t, domain.RunComplete, all[0].State)
}

func TestAnalyzeIdempotentRerun(t *testing.T) {
	barTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fx := newFixture(&fakeRules{verdict: longVerdict(barTime)}, &fakeML{})
	seedBar(t, fx.bars, barTime)

	first := fx.pipeline.AnalyzeLatest(context.Background(), testPair)
	require.Equal(t, OutcomeCreated, first.Outcome)

	second := fx.pipeline.AnalyzeLatest(context.Background(), testPair)
	require.Equal(t, OutcomeUpdated, second.Outcome)

	// One decision row, two run rows.
	require.Equal(t, 1, fx.decisions.Count())
	require.Len(t, fx.runs.All(), 2)
}

func TestAnalyzeNoTradePersistsNothing(t *testing.T) {
	barTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verdict := longVerdict(barTime)
	verdict.FinalDecision = domain.DecisionNoTrade
	fx := newFixture(&fakeRules{verdict: verdict}, &fakeML{})
	seedBar(t, fx.bars, barTime)

	res := fx.pipeline.AnalyzeLatest(context.Background(), testPair)
	require.Equal(t, OutcomeSkipped, res.Outcome)
	require.Zero(t, fx.decisions.Count())

	all := fx.runs.All()
	require.Len(t, all, 1)
	require.Equal(t, domain.RunComplete, all[0].State)
}

func TestAnalyzeMLBlend(t *testing.T) {
	barTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mlConf := decimal.NewFromInt(80)
	fx := newFixture(&fakeRules{verdict: longVerdict(barTime)}, &fakeML{conf: &mlConf})
	seedBar(t, fx.bars, barTime)

	res := fx.pipeline.AnalyzeLatest(context.Background(), testPair)
	require.Equal(t, OutcomeCreated, res.Outcome)

	// 55*0.7 + 80*0.3 = 62.5 → rounds to 63.
	require.NotNil(t, res.Decision.CompositeScore)
	require.True(t, res.Decision.CompositeScore.Equal(decimal.NewFromInt(63)),
		"got %s", res.Decision.CompositeScore)
}

func TestAnalyzeRuleErrorFailsRun(t *testing.T) {
	barTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fx := newFixture(&fakeRules{err: errors.New("indicator divide by zero")}, &fakeML{})
	seedBar(t, fx.bars, barTime)

	res := fx.pipeline.AnalyzeLatest(context.Background(), testPair)
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.Equal(t, errs.AnalysisErr, res.ErrorCode)

	all := fx.runs.All()
	require.Len(t, all, 1)
	require.Equal(t, domain.RunFailed, all[0].State)
	require.Equal(t, "ANALYSIS_ERR", all[0].ErrorCode)
}

func TestAnalyzeTimeoutKeepsClassification(t *testing.T) {
	barTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fx := newFixture(&fakeRules{err: context.DeadlineExceeded}, &fakeML{})
	seedBar(t, fx.bars, barTime)

	res := fx.pipeline.AnalyzeLatest(context.Background(), testPair)
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.Equal(t, errs.IngestionTimeout, res.ErrorCode)
}

func TestAnalyzeDryRunSkipsPersistence(t *testing.T) {
	barTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fx := newFixture(&fakeRules{verdict: longVerdict(barTime)}, &fakeML{})
	fx.pipeline.DryRun = true
	seedBar(t, fx.bars, barTime)

	res := fx.pipeline.AnalyzeLatest(context.Background(), testPair)
	require.Equal(t, OutcomeSkipped, res.Outcome)
	require.Zero(t, fx.decisions.Count())
	require.Len(t, fx.runs.All(), 1)
}

func TestBlend(t *testing.T) {
	rule := decimal.NewFromFloat(55.4)
	require.True(t, Blend(rule, nil).Equal(decimal.NewFromInt(55)))

	ml := decimal.NewFromInt(100)
	// 55.4*0.7 + 100*0.3 = 68.78 → 69.
	require.True(t, Blend(rule, &ml).Equal(decimal.NewFromInt(69)))
}
