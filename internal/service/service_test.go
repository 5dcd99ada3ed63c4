package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"barwatch/internal/alerting"
	"barwatch/internal/analysis"
	"barwatch/internal/dispatch"
	"barwatch/internal/domain"
	"barwatch/internal/freshness"
	"barwatch/internal/ingest"
	"barwatch/internal/kpi"
	"barwatch/internal/runs"
	"barwatch/internal/storage/memory"
)

var (
	testPair = domain.Pair{Symbol: "EURUSD", Timeframe: "1m"}
	testNow  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type stubProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) FetchLatestBar(_ context.Context, _ domain.Pair) (*domain.Bar, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return nil, nil
}

type fixedRules struct {
	verdict analysis.RuleVerdict
}

func (f fixedRules) RunRules(_ context.Context, _ domain.Pair) (analysis.RuleVerdict, error) {
	return f.verdict, nil
}

type noML struct{}

func (noML) RunML(_ context.Context, _ domain.Pair, _ time.Time) (*decimal.Decimal, error) {
	return nil, nil
}

type capturingNotifier struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (c *capturingNotifier) Name() string { return "capture" }

func (c *capturingNotifier) Notify(_ context.Context, ev alerting.Event) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

type fixture struct {
	svc       *Service
	bars      *memory.BarStore
	status    *memory.StatusStore
	runStore  *memory.RunStore
	decisions *memory.DecisionStore
	notifier  *capturingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()

	bars := memory.NewBarStore()
	status := memory.NewStatusStore()
	runStore := memory.NewRunStore()
	decisions := memory.NewDecisionStore()

	tracker := runs.NewTracker(runStore, decisions, logger).WithClock(func() time.Time { return testNow })
	barTime := testNow.Add(-30 * time.Second)
	rules := fixedRules{verdict: analysis.RuleVerdict{
		FinalDecision:  domain.DecisionLong,
		RuleConfidence: decimal.NewFromInt(60),
		BarTime:        &barTime,
	}}
	pipeline := analysis.NewPipeline(bars, rules, noML{}, tracker, logger)

	notifier := &capturingNotifier{}
	dispatcher := alerting.NewDispatcher(
		[]alerting.Channel{{Notifier: notifier, MinSeverity: domain.SeverityInfo}},
		status,
		alerting.DispatcherOptions{Enabled: true},
		logger,
	)

	ingestor := ingest.NewIngestor(&stubProvider{}, bars, ingest.Options{}, logger)

	svc := New(Deps{
		Pairs:      []domain.Pair{testPair},
		Cadences:   freshness.Cadences{"1m": 90 * time.Second},
		Ingestor:   ingestor,
		Pipeline:   pipeline,
		Tracker:    tracker,
		KPIs:       kpi.NewAggregatorWithClock(runStore, func() time.Time { return testNow }),
		Bars:       bars,
		Status:     status,
		Dispatcher: dispatcher,
	}, 1, 8, logger)
	svc.now = func() time.Time { return testNow }

	return &fixture{svc: svc, bars: bars, status: status, runStore: runStore, decisions: decisions, notifier: notifier}
}

func seedBar(t *testing.T, f *fixture, age time.Duration) time.Time {
	t.Helper()
	barTime := testNow.Add(-age)
	require.NoError(t, f.bars.UpsertBar(context.Background(), domain.Bar{
		Symbol:     testPair.Symbol,
		Timeframe:  testPair.Timeframe,
		Timestamp:  barTime,
		Open:       decimal.NewFromFloat(1.08),
		High:       decimal.NewFromFloat(1.09),
		Low:        decimal.NewFromFloat(1.07),
		Close:      decimal.NewFromFloat(1.085),
		Provider:   "stub",
		IngestedAt: barTime.Add(2 * time.Second),
	}))
	return barTime
}

func skipRuns(f *fixture) []domain.AnalysisRun {
	var out []domain.AnalysisRun
	for _, run := range f.runStore.All() {
		if run.State == domain.RunComplete && run.ErrorMessage != "" {
			out = append(out, run)
		}
	}
	return out
}

func TestTickGreenDispatchesAnalysis(t *testing.T) {
	f := newFixture(t)
	seedBar(t, f, 30*time.Second)

	require.NoError(t, f.svc.Tick(context.Background(), testNow))

	// A GREEN pair must not leave a skip run behind.
	require.Empty(t, skipRuns(f))

	rec, err := f.status.GetStatus(context.Background(), testPair)
	require.NoError(t, err)
	require.Equal(t, domain.FreshGreen, rec.Freshness)
	require.NotNil(t, rec.DataFreshnessSec)
	require.Equal(t, int64(30), *rec.DataFreshnessSec)
	require.NotNil(t, rec.LastSeenAt)

	// Run the queued analysis synchronously to keep the test deterministic.
	f.svc.HandleJob(context.Background(), dispatch.Job{Kind: dispatch.JobAnalyze, Pair: testPair})

	require.Equal(t, 1, f.decisions.Count())
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Len(t, f.notifier.events, 1)
	require.Equal(t, alerting.EventSignal, f.notifier.events[0].Name)
}

func TestTickRedRecordsSkip(t *testing.T) {
	f := newFixture(t)
	barTime := seedBar(t, f, 2*time.Minute) // 120s: inside the (1x, 1.5x] gap

	require.NoError(t, f.svc.Tick(context.Background(), testNow))

	skips := skipRuns(f)
	require.Len(t, skips, 1)
	require.Equal(t, "SKIP: "+SkipFreshnessRed, skips[0].ErrorMessage)
	require.True(t, skips[0].BarTime.Equal(barTime))

	rec, err := f.status.GetStatus(context.Background(), testPair)
	require.NoError(t, err)
	require.Equal(t, domain.FreshRed, rec.Freshness)
}

func TestTickAmberRecordsSkip(t *testing.T) {
	f := newFixture(t)
	seedBar(t, f, 3*time.Minute) // 180s: between 1.5x and 3x cadence

	require.NoError(t, f.svc.Tick(context.Background(), testNow))

	skips := skipRuns(f)
	require.Len(t, skips, 1)
	require.Equal(t, "SKIP: "+SkipFreshnessAmber, skips[0].ErrorMessage)
}

func TestTickNoBarUsesBucketForSkip(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.Tick(context.Background(), testNow))

	skips := skipRuns(f)
	require.Len(t, skips, 1)
	require.Equal(t, "SKIP: "+SkipFreshnessRed, skips[0].ErrorMessage)
	require.True(t, skips[0].BarTime.Equal(testNow))

	// Heartbeat still advances even without any data.
	rec, err := f.status.GetStatus(context.Background(), testPair)
	require.NoError(t, err)
	require.NotNil(t, rec.LastSeenAt)
	require.Nil(t, rec.DataFreshnessSec)
}

func TestTickBreakerOpenSkipsBeforeFreshness(t *testing.T) {
	f := newFixture(t)
	seedBar(t, f, 30*time.Second) // would be GREEN
	f.status.Seed(domain.StatusRecord{
		Symbol: testPair.Symbol, Timeframe: testPair.Timeframe,
		BreakerOpen: true, EscalationLevel: domain.SeverityCritical,
		Freshness: domain.FreshRed,
	})

	require.NoError(t, f.svc.Tick(context.Background(), testNow))

	skips := skipRuns(f)
	require.Len(t, skips, 1)
	require.Equal(t, "SKIP: "+SkipBreakerOpen, skips[0].ErrorMessage)

	// Analysis never ran.
	require.Zero(t, f.decisions.Count())

	// Only the skip audit touches a gated pair: no freshness rewrite, no
	// heartbeat advance.
	rec, err := f.status.GetStatus(context.Background(), testPair)
	require.NoError(t, err)
	require.Equal(t, domain.FreshRed, rec.Freshness)
	require.Nil(t, rec.LastSeenAt)
	require.True(t, rec.BreakerOpen)
}

func TestTickBreakerSkipAnchorsOnLastBarTime(t *testing.T) {
	f := newFixture(t)
	lastBar := testNow.Add(-10 * time.Minute)
	f.status.Seed(domain.StatusRecord{
		Symbol: testPair.Symbol, Timeframe: testPair.Timeframe,
		BreakerOpen: true, LastBarTime: &lastBar,
	})

	require.NoError(t, f.svc.Tick(context.Background(), testNow))

	skips := skipRuns(f)
	require.Len(t, skips, 1)
	require.True(t, skips[0].BarTime.Equal(lastBar))
}

func TestHandleJobIngestSwallowsFailures(t *testing.T) {
	f := newFixture(t)

	// No bar seeded and the stub provider returns nothing; must not panic.
	f.svc.HandleJob(context.Background(), dispatch.Job{Kind: dispatch.JobIngest, Pair: testPair})
	f.svc.HandleJob(context.Background(), dispatch.Job{Kind: "bogus", Pair: testPair})
}

func TestHandleJobAnalyzeIdempotentPerBar(t *testing.T) {
	f := newFixture(t)
	seedBar(t, f, 30*time.Second)

	f.svc.HandleJob(context.Background(), dispatch.Job{Kind: dispatch.JobAnalyze, Pair: testPair})
	f.svc.HandleJob(context.Background(), dispatch.Job{Kind: dispatch.JobAnalyze, Pair: testPair})

	require.Equal(t, 1, f.decisions.Count())

	// Signal dedupe holds across repeated analyses of the same bar.
	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Len(t, f.notifier.events, 1)
}
