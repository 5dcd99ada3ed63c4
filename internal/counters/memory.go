package counters

import (
	"context"
	"sync"
	"time"

	"barwatch/internal/domain"
)

type entry struct {
	streaks Streaks
	exp     time.Time
}

// Memory is an in-process CycleCounters with per-entry TTL and lazy sweep.
type Memory struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	m     map[domain.Pair]entry
	sweep int
}

// NewMemory creates a memory-backed counter store with the given TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, m: make(map[domain.Pair]entry)}
}

// NewMemoryWithClock is NewMemory with an injected clock for tests.
func NewMemoryWithClock(ttl time.Duration, now func() time.Time) *Memory {
	return &Memory{ttl: ttl, now: now, m: make(map[domain.Pair]entry)}
}

// Observe advances the streaks for the pair, resetting opposing colours.
func (c *Memory) Observe(_ context.Context, pair domain.Pair, state domain.FreshnessState) (Streaks, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.maybeSweep(now)

	current := c.current(pair, now)
	next := advance(current, state)
	c.m[pair] = entry{streaks: next, exp: now.Add(c.ttl)}
	return next, nil
}

// Peek returns the current streaks without advancing them.
func (c *Memory) Peek(_ context.Context, pair domain.Pair) (Streaks, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current(pair, c.now()), nil
}

func (c *Memory) current(pair domain.Pair, now time.Time) Streaks {
	e, ok := c.m[pair]
	if !ok || now.After(e.exp) {
		return Streaks{}
	}
	return e.streaks
}

// maybeSweep drops expired entries every 64th write to bound map growth.
func (c *Memory) maybeSweep(now time.Time) {
	c.sweep++
	if c.sweep%64 != 0 {
		return
	}
	for pair, e := range c.m {
		if now.After(e.exp) {
			delete(c.m, pair)
		}
	}
}

var _ CycleCounters = (*Memory)(nil)
