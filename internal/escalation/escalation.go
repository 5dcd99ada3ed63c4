// Package escalation implements the severity ladder and the circuit-breaker
// lifecycle over the per-pair status rows.
//
// The ladder reads the already-refreshed status row plus the cycle streak
// counters, so evaluation is cheap and side effects are limited to the
// escalation columns and outbound notifications. The breaker is sticky: the
// evaluator only ever opens it, and only the maintenance pass closes it.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"barwatch/internal/alerting"
	"barwatch/internal/counters"
	"barwatch/internal/domain"
	"barwatch/internal/metrics"
	"barwatch/internal/storage"
)

const (
	// redTrip is the consecutive-RED streak that opens the breaker.
	redTrip = 2
	// redCritical is the streak that escalates an open pair to CRITICAL.
	redCritical = 3
	// greenClose is the consecutive-GREEN streak required to close the
	// breaker, together with a clean failure window.
	greenClose = 2
)

// Evaluator walks each pair through the escalation ladder once per cycle.
type Evaluator struct {
	status   storage.StatusStore
	runs     storage.RunStore
	counters counters.CycleCounters
	dispatch *alerting.Dispatcher
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEvaluator constructs a ladder evaluator.
func NewEvaluator(status storage.StatusStore, runs storage.RunStore, ctrs counters.CycleCounters, dispatch *alerting.Dispatcher, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		status:   status,
		runs:     runs,
		counters: ctrs,
		dispatch: dispatch,
		logger:   logger.With().Str("component", "escalation").Logger(),
		now:      time.Now,
	}
}

// Evaluate observes the pair's current freshness colour, advances the streak
// counters, and applies the ladder. Level transitions and breaker openings
// persist to the status row and emit one notification; an unchanged level is
// silent.
func (e *Evaluator) Evaluate(ctx context.Context, pair domain.Pair) error {
	rec, err := e.status.GetStatus(ctx, pair)
	if errors.Is(err, storage.ErrNotFound) {
		// Pair has never been ingested; nothing to escalate yet.
		return nil
	}
	if err != nil {
		return fmt.Errorf("load status %s: %w", pair, err)
	}

	streaks, err := e.counters.Observe(ctx, pair, rec.Freshness)
	if err != nil {
		return fmt.Errorf("observe cycle %s: %w", pair, err)
	}

	level := ladderLevel(rec, streaks)
	breakerOpen := rec.BreakerOpen
	if !breakerOpen {
		// Opening conditions. Closing is the maintenance pass's job.
		if streaks.Red >= redTrip {
			breakerOpen = true
		} else if level.AtLeast(domain.SeverityError) && rec.EscalationLevel.AtLeast(domain.SeverityError) {
			// A persisting ERROR across cycles latches the breaker.
			breakerOpen = true
		}
	}
	if breakerOpen && streaks.Red >= redCritical {
		level = domain.SeverityCritical
	}

	if level == rec.EscalationLevel && breakerOpen == rec.BreakerOpen {
		return nil
	}

	notifyAt := e.now().UTC()
	if err := e.status.SetEscalation(ctx, pair, level, breakerOpen, notifyAt); err != nil {
		return fmt.Errorf("persist escalation %s: %w", pair, err)
	}
	if breakerOpen && !rec.BreakerOpen {
		metrics.BreakerTransitions.WithLabelValues("open").Inc()
	}

	e.logger.Info().
		Str("pair", pair.Key()).
		Str("from", string(rec.EscalationLevel)).
		Str("to", string(level)).
		Bool("breaker_open", breakerOpen).
		Int("red_streak", streaks.Red).
		Msg("escalation transition")

	if e.dispatch != nil {
		e.dispatch.Dispatch(ctx, e.buildEvent(ctx, pair, rec, streaks, level, breakerOpen, notifyAt))
	}
	return nil
}

// ladderLevel applies the severity rules to one pair's state.
func ladderLevel(rec *domain.StatusRecord, s counters.Streaks) domain.Severity {
	switch {
	case rec.BreakerOpen || s.Red >= redCritical:
		return domain.SeverityCritical
	case rec.Freshness == domain.FreshRed || rec.AnalysesFail5m >= 3:
		return domain.SeverityError
	case (rec.Freshness == domain.FreshAmber && s.Amber >= 2) || rec.AnalysesFail5m >= 2:
		return domain.SeverityWarn
	default:
		return domain.SeverityInfo
	}
}

func (e *Evaluator) buildEvent(ctx context.Context, pair domain.Pair, rec *domain.StatusRecord, s counters.Streaks, level domain.Severity, breakerOpen bool, at time.Time) alerting.Event {
	name := alerting.EventEscalation
	msg := fmt.Sprintf("escalation %s -> %s", rec.EscalationLevel, level)
	if breakerOpen && !rec.BreakerOpen {
		name = alerting.EventBreakerOpen
		msg = "circuit breaker opened"
	}

	fields := map[string]string{
		"freshness":       string(rec.Freshness),
		"fail_5m":         fmt.Sprintf("%d", rec.AnalysesFail5m),
		"ok_5m":           fmt.Sprintf("%d", rec.AnalysesOK5m),
		"red_streak":      fmt.Sprintf("%d", s.Red),
		"amber_streak":    fmt.Sprintf("%d", s.Amber),
		"fallback_active": fmt.Sprintf("%t", rec.FallbackActive),
	}
	if rec.Provider != "" {
		fields["provider"] = rec.Provider
	}
	if rec.KeyAgeDays != nil {
		fields["key_age_days"] = fmt.Sprintf("%d", *rec.KeyAgeDays)
	}
	if rec.DataFreshnessSec != nil {
		fields["age_sec"] = fmt.Sprintf("%d", *rec.DataFreshnessSec)
	}
	if failed, err := e.runs.LastFailedRun(ctx, pair); err == nil && failed != nil && failed.ErrorCode != "" {
		fields["last_error"] = failed.ErrorCode
	}

	return alerting.Event{
		Name:     name,
		Severity: level,
		Pair:     pair,
		Message:  msg,
		Fields:   fields,
		At:       at,
	}
}

// Maintainer closes breakers once a pair has demonstrably recovered.
type Maintainer struct {
	status   storage.StatusStore
	counters counters.CycleCounters
	dispatch *alerting.Dispatcher
	logger   zerolog.Logger
	now      func() time.Time
}

// NewMaintainer constructs the breaker maintenance pass.
func NewMaintainer(status storage.StatusStore, ctrs counters.CycleCounters, dispatch *alerting.Dispatcher, logger zerolog.Logger) *Maintainer {
	return &Maintainer{
		status:   status,
		counters: ctrs,
		dispatch: dispatch,
		logger:   logger.With().Str("component", "breaker_maintenance").Logger(),
		now:      time.Now,
	}
}

// Tick scans the open breakers and closes every pair that has sustained
// GREEN freshness with a clean failure window. Closing emits an INFO
// notification and leaves the escalation level for the next ladder pass.
func (m *Maintainer) Tick(ctx context.Context) error {
	open, err := m.status.ListOpenBreakers(ctx)
	if err != nil {
		return fmt.Errorf("list open breakers: %w", err)
	}

	for _, rec := range open {
		pair := rec.Pair()
		// Maintenance shares the streak counters with the ladder: observing
		// here keeps recovery measurable even when this is the only pass
		// running on the pair.
		streaks, err := m.counters.Observe(ctx, pair, rec.Freshness)
		if err != nil {
			m.logger.Warn().Err(err).Str("pair", pair.Key()).Msg("observe cycle failed")
			continue
		}
		if streaks.Green < greenClose || rec.AnalysesFail5m != 0 {
			continue
		}

		notifyAt := m.now().UTC()
		if err := m.status.CloseBreaker(ctx, pair, notifyAt); err != nil {
			m.logger.Warn().Err(err).Str("pair", pair.Key()).Msg("close breaker failed")
			continue
		}

		metrics.BreakerTransitions.WithLabelValues("close").Inc()
		m.logger.Info().
			Str("pair", pair.Key()).
			Int("green_streak", streaks.Green).
			Msg("circuit breaker closed")

		if m.dispatch != nil {
			m.dispatch.Dispatch(ctx, alerting.Event{
				Name:     alerting.EventBreakerClosed,
				Severity: domain.SeverityInfo,
				Pair:     pair,
				Message:  "circuit breaker closed after sustained recovery",
				Fields: map[string]string{
					"green_streak": fmt.Sprintf("%d", streaks.Green),
				},
				At: notifyAt,
			})
		}
	}
	return nil
}
