package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AnalysisRun is one row of the append-only analysis attempt log.
// Rows are created PENDING and mutated exactly once to a terminal state;
// they are never deleted and back both the KPI windows and the audit trail.
// Scheduler skips are recorded here as COMPLETE runs with an explanatory
// message, keeping an unbroken trail distinct from pipeline failures.
type AnalysisRun struct {
	ID           int64
	Symbol       string
	Timeframe    string
	BarTime      time.Time
	State        RunState
	StartedAt    *time.Time
	FinishedAt   *time.Time
	LatencyMS    *int64
	ErrorCode    string
	ErrorMessage string
}

// AnalysisDecision is the persisted trade outcome, uniquely keyed by
// (symbol, timeframe, bar_time). A NO_TRADE verdict never produces a row;
// that outcome is visible only through the COMPLETE AnalysisRun.
type AnalysisDecision struct {
	ID             int64
	Symbol         string
	Timeframe      string
	BarTime        time.Time
	FinalDecision  TradeDecision
	RuleConfidence decimal.Decimal
	MLConfidence   *decimal.Decimal
	CompositeScore *decimal.Decimal
	StopLoss       *decimal.Decimal
	TakeProfit     *decimal.Decimal
	Status         RunState
	ErrorCode      string
	ErrorMessage   string
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// Pair returns the identity tuple the decision belongs to.
func (d AnalysisDecision) Pair() Pair {
	return Pair{Symbol: d.Symbol, Timeframe: d.Timeframe}
}
