// Package freshness classifies bar age against per-timeframe cadence.
package freshness

import (
	"fmt"
	"time"

	"barwatch/internal/domain"
)

// Classify gates analysis on the age of the last observed bar.
//
//	GREEN: age <= 1x cadence
//	AMBER: 1.5x < age < 3x cadence
//	RED:   otherwise — including the 1x < age <= 1.5x gap. That gap is an
//	       intentional "no safe middle ground" policy, not a bug; do not
//	       smooth it into AMBER.
//
// A nil lastBar (no bar ever observed) is RED.
func Classify(lastBar *time.Time, now time.Time, cadence time.Duration) domain.FreshnessState {
	if lastBar == nil || lastBar.IsZero() {
		return domain.FreshRed
	}

	age := now.Sub(*lastBar)
	if age <= cadence {
		return domain.FreshGreen
	}
	if age > cadence*3/2 && age < cadence*3 {
		return domain.FreshAmber
	}
	return domain.FreshRed
}

// Cadences maps timeframe names to their expected bar interval.
type Cadences map[string]time.Duration

// For resolves the cadence for a timeframe. An unconfigured timeframe is a
// hard error: silently defaulting would let an unknown feed pass the gate.
func (c Cadences) For(timeframe string) (time.Duration, error) {
	cadence, ok := c[timeframe]
	if !ok {
		return 0, fmt.Errorf("freshness: no cadence configured for timeframe %q", timeframe)
	}
	if cadence <= 0 {
		return 0, fmt.Errorf("freshness: cadence for timeframe %q must be positive", timeframe)
	}
	return cadence, nil
}
