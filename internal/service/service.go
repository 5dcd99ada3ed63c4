package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"barwatch/internal/alerting"
	"barwatch/internal/analysis"
	"barwatch/internal/dispatch"
	"barwatch/internal/domain"
	"barwatch/internal/escalation"
	"barwatch/internal/freshness"
	"barwatch/internal/ingest"
	"barwatch/internal/kpi"
	"barwatch/internal/metrics"
	"barwatch/internal/runs"
	"barwatch/internal/scheduler"
	"barwatch/internal/storage"
)

// Skip reasons recorded on the run log when a pair's analysis is gated off.
const (
	SkipBreakerOpen    = "BREAKER_OPEN"
	SkipFreshnessAmber = "FRESHNESS_AMBER"
	SkipFreshnessRed   = "FRESHNESS_RED"
)

// Service orchestrates the per-cycle pipeline: ingest, freshness gating,
// status refresh, and analysis dispatch. Pairs are isolated: one pair's
// failure never aborts the cycle for the rest.
type Service struct {
	scheduler *scheduler.Scheduler
	pairs     []domain.Pair
	cadences  freshness.Cadences

	ingestor   *ingest.Ingestor
	pipeline   *analysis.Pipeline
	tracker    *runs.Tracker
	kpis       *kpi.Aggregator
	bars       storage.BarStore
	status     storage.StatusStore
	dispatcher *alerting.Dispatcher
	evaluator  *escalation.Evaluator
	maintainer *escalation.Maintainer
	pool       *dispatch.Pool

	locker  storage.AdvisoryLocker
	lockKey int64
	logger  zerolog.Logger
	now     func() time.Time
}

// Deps bundles the service's collaborators.
type Deps struct {
	Scheduler  *scheduler.Scheduler
	Pairs      []domain.Pair
	Cadences   freshness.Cadences
	Ingestor   *ingest.Ingestor
	Pipeline   *analysis.Pipeline
	Tracker    *runs.Tracker
	KPIs       *kpi.Aggregator
	Bars       storage.BarStore
	Status     storage.StatusStore
	Dispatcher *alerting.Dispatcher
	Evaluator  *escalation.Evaluator
	Maintainer *escalation.Maintainer
	Locker     storage.AdvisoryLocker
	LockKey    int64
}

// New constructs the orchestration service. The worker pool is created here
// so the service owns job handling; call Pool().Start before Run.
func New(deps Deps, workers, queueSize int, logger zerolog.Logger) *Service {
	s := &Service{
		scheduler:  deps.Scheduler,
		pairs:      deps.Pairs,
		cadences:   deps.Cadences,
		ingestor:   deps.Ingestor,
		pipeline:   deps.Pipeline,
		tracker:    deps.Tracker,
		kpis:       deps.KPIs,
		bars:       deps.Bars,
		status:     deps.Status,
		dispatcher: deps.Dispatcher,
		evaluator:  deps.Evaluator,
		maintainer: deps.Maintainer,
		locker:     deps.Locker,
		lockKey:    deps.LockKey,
		logger:     logger.With().Str("component", "service").Logger(),
		now:        time.Now,
	}
	s.pool = dispatch.NewPool(workers, queueSize, s.HandleJob, logger)
	return s
}

// Pool exposes the worker pool for lifecycle management.
func (s *Service) Pool() *dispatch.Pool { return s.pool }

// Run begins the aligned orchestration loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.Tick)
}

// Tick executes one orchestration cycle across the watchlist.
func (s *Service) Tick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	for _, pair := range s.pairs {
		if err := s.processPair(ctx, pair, bucket); err != nil {
			s.logger.Error().Err(err).Str("pair", pair.Key()).Msg("pair cycle failed")
		}
	}

	metrics.SchedulerTicks.Inc()
	return nil
}

func (s *Service) processPair(ctx context.Context, pair domain.Pair, bucket time.Time) error {
	// Ingest runs off-cycle; its result feeds the next classification.
	s.pool.Enqueue(dispatch.Job{Kind: dispatch.JobIngest, Pair: pair})

	// An open breaker gates the pair before any freshness or status work:
	// the cycle leaves only the skip audit record behind.
	prev, err := s.status.GetStatus(ctx, pair)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load status: %w", err)
	}
	if prev != nil && prev.BreakerOpen {
		skipBarTime := bucket
		if prev.LastBarTime != nil {
			skipBarTime = *prev.LastBarTime
		}
		metrics.PairSkips.WithLabelValues("breaker_open").Inc()
		return s.tracker.RecordSkip(ctx, pair, skipBarTime, SkipBreakerOpen)
	}

	cadence, err := s.cadences.For(pair.Timeframe)
	if err != nil {
		return err
	}

	bar, err := s.bars.LastInsertedBar(ctx, pair)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load last bar: %w", err)
	}

	now := s.now().UTC()
	var barTime *time.Time
	if bar != nil {
		t := bar.Timestamp.UTC()
		barTime = &t
	}

	state := freshness.Classify(barTime, now, cadence)
	metrics.FreshnessObservations.WithLabelValues(string(state)).Inc()

	var ageSec *int64
	if barTime != nil {
		age := int64(now.Sub(*barTime).Seconds())
		ageSec = &age
	}

	report, err := s.kpis.Rollup(ctx, pair, kpi.DefaultWindow)
	if err != nil {
		return fmt.Errorf("kpi rollup: %w", err)
	}

	upd := storage.StatusUpdate{
		Pair:         pair,
		Freshness:    state,
		AgeSeconds:   ageSec,
		LastBarTime:  barTime,
		HeartbeatNow: now,
		Provider:     s.ingestor.ProviderName(),
		KeyAgeDays:   s.ingestor.KeyAgeDays(),
		KPIs:         report,
	}
	if bar != nil {
		t := bar.IngestedAt.UTC()
		if !t.IsZero() {
			upd.LastIngestTime = &t
		}
	}

	if _, err := s.status.UpsertStatus(ctx, upd); err != nil {
		return fmt.Errorf("refresh status: %w", err)
	}

	skipBarTime := bucket
	if barTime != nil {
		skipBarTime = *barTime
	}

	switch state {
	case domain.FreshGreen:
		s.pool.Enqueue(dispatch.Job{Kind: dispatch.JobAnalyze, Pair: pair})
		return nil
	case domain.FreshAmber:
		metrics.PairSkips.WithLabelValues("freshness_amber").Inc()
		return s.tracker.RecordSkip(ctx, pair, skipBarTime, SkipFreshnessAmber)
	default:
		metrics.PairSkips.WithLabelValues("freshness_red").Inc()
		return s.tracker.RecordSkip(ctx, pair, skipBarTime, SkipFreshnessRed)
	}
}

// HandleJob is the worker-pool handler for queued per-pair work.
func (s *Service) HandleJob(ctx context.Context, job dispatch.Job) {
	switch job.Kind {
	case dispatch.JobIngest:
		s.runIngest(ctx, job.Pair)
	case dispatch.JobAnalyze:
		s.runAnalysis(ctx, job.Pair)
	default:
		s.logger.Warn().Str("kind", string(job.Kind)).Msg("unknown job kind")
	}
}

func (s *Service) runIngest(ctx context.Context, pair domain.Pair) {
	_, code, err := s.ingestor.IngestOnce(ctx, pair)
	if err != nil {
		if errors.Is(err, ingest.ErrCoolingDown) {
			return
		}
		if code != "" {
			metrics.IngestFailures.WithLabelValues(string(code)).Inc()
		}
		s.logger.Warn().Err(err).Str("pair", pair.Key()).Msg("ingest failed")
	}
}

func (s *Service) runAnalysis(ctx context.Context, pair domain.Pair) {
	res := s.pipeline.AnalyzeLatest(ctx, pair)
	metrics.AnalysisRuns.WithLabelValues(string(res.Outcome)).Inc()

	if res.Outcome == analysis.OutcomeFailed {
		s.logger.Warn().
			Err(res.Err).
			Str("pair", pair.Key()).
			Str("error_code", string(res.ErrorCode)).
			Msg("analysis failed")
		return
	}

	if res.Outcome == analysis.OutcomeCreated && res.Decision != nil && s.dispatcher != nil {
		barTime := res.Decision.BarTime.UTC()
		confidence := res.Decision.RuleConfidence
		if res.Decision.CompositeScore != nil {
			confidence = *res.Decision.CompositeScore
		}
		s.dispatcher.Dispatch(ctx, alerting.Event{
			Name:     alerting.EventSignal,
			Severity: domain.SeverityInfo,
			Pair:     pair,
			BarTime:  &barTime,
			Message:  fmt.Sprintf("decision %s (confidence %s)", res.Decision.FinalDecision, confidence.String()),
		})
	}
}

// EscalationPass runs the ladder evaluator across the watchlist.
func (s *Service) EscalationPass(ctx context.Context, _ time.Time) error {
	if s.evaluator == nil {
		return nil
	}
	for _, pair := range s.pairs {
		if err := s.evaluator.Evaluate(ctx, pair); err != nil {
			s.logger.Error().Err(err).Str("pair", pair.Key()).Msg("escalation evaluation failed")
		}
	}
	return nil
}

// BreakerPass runs the breaker maintenance sweep.
func (s *Service) BreakerPass(ctx context.Context, _ time.Time) error {
	if s.maintainer == nil {
		return nil
	}
	return s.maintainer.Tick(ctx)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
