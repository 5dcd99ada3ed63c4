package domain

// FreshnessState is the tri-state data freshness classification.
type FreshnessState string

const (
	FreshGreen FreshnessState = "GREEN"
	FreshAmber FreshnessState = "AMBER"
	FreshRed   FreshnessState = "RED"
)

// Severity is an escalation level. Ordering is INFO < WARN < ERROR < CRITICAL.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarn:     1,
	SeverityError:    2,
	SeverityCritical: 3,
}

// Rank returns the numeric position of the severity on the ladder.
// Unrecognised values rank as INFO.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s meets or exceeds min on the ladder.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// RunState tracks the lifecycle of one analysis attempt.
type RunState string

const (
	RunPending  RunState = "PENDING"
	RunComplete RunState = "COMPLETE"
	RunFailed   RunState = "FAILED"
)

// TradeDecision is the rule engine's final verdict for a bar.
type TradeDecision string

const (
	DecisionLong    TradeDecision = "LONG"
	DecisionShort   TradeDecision = "SHORT"
	DecisionNoTrade TradeDecision = "NO_TRADE"
)
