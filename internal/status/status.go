// Package status derives human-facing health labels from the raw per-pair
// status rows.
package status

import (
	"context"
	"fmt"
	"time"

	"barwatch/internal/domain"
	"barwatch/internal/freshness"
	"barwatch/internal/storage"
)

// Health labels. A non-GREEN freshness colour always reads as a stale
// provider, even with a recent heartbeat: the heartbeat only distinguishes
// a quiet market from a dead classifier within GREEN.
const (
	LabelHealthy    = "Healthy"
	LabelNoNewTicks = "Connected – no new ticks"
	LabelStale      = "Provider stale"
	LabelUnknown    = "Unknown"
)

// Label classifies one status row. expected is the pair's bar cadence; a
// GREEN row whose heartbeat lags past it reads as connected but tickless.
func Label(rec *domain.StatusRecord, expected time.Duration, now time.Time) string {
	if rec == nil || rec.LastSeenAt == nil {
		return LabelUnknown
	}
	if rec.Freshness == domain.FreshAmber || rec.Freshness == domain.FreshRed {
		return LabelStale
	}
	if expected > 0 && now.Sub(*rec.LastSeenAt) > expected {
		return LabelNoNewTicks
	}
	return LabelHealthy
}

// PairStatus is one row of the presentation snapshot.
type PairStatus struct {
	Record domain.StatusRecord
	Label  string
	AgeSec *int64
}

// Reporter assembles snapshots for the CLI.
type Reporter struct {
	status   storage.StatusStore
	cadences freshness.Cadences
	now      func() time.Time
}

// NewReporter constructs a reporter.
func NewReporter(status storage.StatusStore, cadences freshness.Cadences) *Reporter {
	return &Reporter{status: status, cadences: cadences, now: time.Now}
}

// Snapshot returns all pairs with derived labels, in store order.
func (r *Reporter) Snapshot(ctx context.Context) ([]PairStatus, error) {
	recs, err := r.status.ListStatuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}

	now := r.now().UTC()
	out := make([]PairStatus, 0, len(recs))
	for _, rec := range recs {
		rec := rec
		expected, err := r.cadences.For(rec.Timeframe)
		if err != nil {
			expected = 0
		}
		out = append(out, PairStatus{
			Record: rec,
			Label:  Label(&rec, expected, now),
			AgeSec: rec.DataFreshnessSec,
		})
	}
	return out, nil
}
