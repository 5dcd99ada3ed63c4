package domain

import "fmt"

// Pair identifies one watched (symbol, timeframe) combination.
// It is derived from configuration and never stored on its own;
// every orchestration operation is scoped to exactly one Pair.
type Pair struct {
	Symbol    string
	Timeframe string
}

// Key renders the canonical "SYMBOL/TF" form used for cache keys and logs.
func (p Pair) Key() string {
	return fmt.Sprintf("%s/%s", p.Symbol, p.Timeframe)
}

func (p Pair) String() string {
	return p.Key()
}
