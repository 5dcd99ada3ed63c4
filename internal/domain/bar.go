package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV observation for a pair at a specific timestamp.
// Bars are immutable once written and uniquely keyed by
// (symbol, timeframe, timestamp). Seq is the storage-assigned insertion
// sequence; freshness decisions follow insertion order, not max timestamp,
// so late out-of-order inserts are never mistaken for fresh data.
type Bar struct {
	Seq        int64
	Symbol     string
	Timeframe  string
	Timestamp  time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
	Provider   string
	IngestedAt time.Time
}

// Pair returns the identity tuple the bar belongs to.
func (b Bar) Pair() Pair {
	return Pair{Symbol: b.Symbol, Timeframe: b.Timeframe}
}
