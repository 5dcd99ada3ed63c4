package domain

import "time"

// StatusRecord is the durable per-pair orchestration state, upserted every
// scheduler cycle. Exactly one row exists per (symbol, timeframe).
// LastSeenAt is the heartbeat: it advances every cycle even when no new bar
// arrived, which is what separates a quiet market from a broken feed.
type StatusRecord struct {
	Symbol            string
	Timeframe         string
	LastBarTime       *time.Time
	LastIngestTime    *time.Time
	LastSeenAt        *time.Time
	Freshness         FreshnessState
	DataFreshnessSec  *int64
	Provider          string
	KeyAgeDays        *int
	FallbackActive    bool
	AnalysesOK5m      int
	AnalysesFail5m    int
	MedianLatencyMS   *int64
	EscalationLevel   Severity
	BreakerOpen       bool
	LastNotifyAt      *time.Time
	LastSignalBarTime *time.Time
	UpdatedAt         time.Time
}

// Pair returns the identity tuple the record belongs to.
func (s StatusRecord) Pair() Pair {
	return Pair{Symbol: s.Symbol, Timeframe: s.Timeframe}
}

// KPIReport is a rolling window rollup over the analysis run log.
type KPIReport struct {
	OK              int
	Fail            int
	MedianLatencyMS *int64
}
