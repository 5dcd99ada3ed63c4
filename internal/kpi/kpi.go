// Package kpi computes rolling health metrics from the analysis run log.
package kpi

import (
	"context"
	"fmt"
	"sort"
	"time"

	"barwatch/internal/domain"
	"barwatch/internal/storage"
)

// DefaultWindow is the trailing window for status-row KPIs.
const DefaultWindow = 5 * time.Minute

// Aggregator recomputes per-pair KPIs from scratch on every call.
// The recompute is idempotent, so redundant invocations are harmless.
type Aggregator struct {
	runs storage.RunStore
	now  func() time.Time
}

// NewAggregator builds an aggregator over the run log.
func NewAggregator(runs storage.RunStore) *Aggregator {
	return &Aggregator{runs: runs, now: time.Now}
}

// NewAggregatorWithClock is NewAggregator with an injected clock for tests.
func NewAggregatorWithClock(runs storage.RunStore, now func() time.Time) *Aggregator {
	return &Aggregator{runs: runs, now: now}
}

// Rollup scans runs with started_at inside the trailing window and returns
// COMPLETE/FAILED counts plus the median latency. Latency per row is the
// stored latency_ms when present, otherwise finished_at - started_at; rows
// lacking both are excluded. Median is nil when no latencies are available.
func (a *Aggregator) Rollup(ctx context.Context, pair domain.Pair, window time.Duration) (domain.KPIReport, error) {
	since := a.now().Add(-window)
	runs, err := a.runs.ListRunsSince(ctx, pair, since)
	if err != nil {
		return domain.KPIReport{}, fmt.Errorf("kpi rollup %s: %w", pair, err)
	}

	var report domain.KPIReport
	latencies := make([]int64, 0, len(runs))
	for _, run := range runs {
		switch run.State {
		case domain.RunComplete:
			report.OK++
		case domain.RunFailed:
			report.Fail++
		}

		if ms := latencyOf(run); ms != nil && *ms >= 0 {
			latencies = append(latencies, *ms)
		}
	}

	report.MedianLatencyMS = median(latencies)
	return report, nil
}

func latencyOf(run domain.AnalysisRun) *int64 {
	if run.LatencyMS != nil {
		return run.LatencyMS
	}
	if run.StartedAt != nil && run.FinishedAt != nil {
		ms := run.FinishedAt.Sub(*run.StartedAt).Milliseconds()
		return &ms
	}
	return nil
}

// median is the standard median: the middle value, or the mean of the two
// middle values for even counts.
func median(values []int64) *int64 {
	if len(values) == 0 {
		return nil
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	mid := len(values) / 2
	var out int64
	if len(values)%2 == 1 {
		out = values[mid]
	} else {
		out = (values[mid-1] + values[mid]) / 2
	}
	return &out
}
