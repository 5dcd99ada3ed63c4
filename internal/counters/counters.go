// Package counters tracks consecutive freshness-cycle streaks per pair.
//
// The streaks feed the escalation ladder's hysteresis: observing a colour
// increments its streak and zeroes the other two. Entries are ephemeral and
// expire on a TTL so that a pair dropped from the watchlist does not keep
// stale hysteresis state around.
package counters

import (
	"context"
	"time"

	"barwatch/internal/domain"
)

// Streaks holds the consecutive-cycle counts for one pair.
type Streaks struct {
	Green int
	Amber int
	Red   int
}

// CycleCounters is the ephemeral per-pair streak store.
type CycleCounters interface {
	// Observe records one evaluation cycle's freshness colour and returns
	// the updated streaks. The matching streak increments; the other two
	// reset to zero. The read-modify-write is atomic per pair.
	Observe(ctx context.Context, pair domain.Pair, state domain.FreshnessState) (Streaks, error)
	// Peek returns the current streaks without modifying them.
	Peek(ctx context.Context, pair domain.Pair) (Streaks, error)
}

// TTLFor derives the counter TTL from the escalation evaluation interval:
// ten evaluation periods, floored at ten minutes.
func TTLFor(evalInterval time.Duration) time.Duration {
	ttl := evalInterval * 10
	if ttl < 10*time.Minute {
		ttl = 10 * time.Minute
	}
	return ttl
}

func advance(s Streaks, state domain.FreshnessState) Streaks {
	switch state {
	case domain.FreshGreen:
		return Streaks{Green: s.Green + 1}
	case domain.FreshAmber:
		return Streaks{Amber: s.Amber + 1}
	default:
		return Streaks{Red: s.Red + 1}
	}
}
