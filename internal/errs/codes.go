// Package errs holds the canonical orchestration error taxonomy.
//
// Codes are stable strings: logs, persisted run rows, and notification
// payloads all carry them, so renaming one is a breaking change.
package errs

// Code is a canonical error classification (kind, not type).
type Code string

const (
	// IngestionTimeout covers provider fetches that ran out of time.
	IngestionTimeout Code = "INGESTION_TIMEOUT"
	// ProviderDisconnected covers refused/reset provider connections.
	ProviderDisconnected Code = "PROVIDER_DISCONNECTED"
	// DuplicateWrite is an idempotency-key collision at the storage layer.
	DuplicateWrite Code = "DUPLICATE_WRITE"
	// NoTradeSkip marks intentional non-persistence; it is not a failure.
	NoTradeSkip Code = "NO_TRADE_SKIP"
	// StaleData marks a freshness gate that was not GREEN.
	StaleData Code = "STALE_DATA"
	// HeartbeatMiss marks a pair with no recent ingestion heartbeat.
	HeartbeatMiss Code = "HEARTBEAT_MISS"
	// AnalysisErr is a generic rules/ML/composite failure.
	AnalysisErr Code = "ANALYSIS_ERR"
	// Unknown is the fallback for unmapped errors.
	Unknown Code = "UNKNOWN"
)

func (c Code) String() string {
	return string(c)
}
