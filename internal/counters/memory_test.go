package counters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"barwatch/internal/domain"
)

var testPair = domain.Pair{Symbol: "EURUSD", Timeframe: "1m"}

func TestObserveAdvancesAndResets(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10 * time.Minute)

	s, err := c.Observe(ctx, testPair, domain.FreshGreen)
	require.NoError(t, err)
	require.Equal(t, Streaks{Green: 1}, s)

	s, err = c.Observe(ctx, testPair, domain.FreshGreen)
	require.NoError(t, err)
	require.Equal(t, Streaks{Green: 2}, s)

	s, err = c.Observe(ctx, testPair, domain.FreshRed)
	require.NoError(t, err)
	require.Equal(t, Streaks{Red: 1}, s)

	s, err = c.Observe(ctx, testPair, domain.FreshAmber)
	require.NoError(t, err)
	require.Equal(t, Streaks{Amber: 1}, s)
}

func TestPeekDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10 * time.Minute)

	_, err := c.Observe(ctx, testPair, domain.FreshRed)
	require.NoError(t, err)

	s, err := c.Peek(ctx, testPair)
	require.NoError(t, err)
	require.Equal(t, Streaks{Red: 1}, s)

	s, err = c.Peek(ctx, testPair)
	require.NoError(t, err)
	require.Equal(t, Streaks{Red: 1}, s)
}

func TestEntriesExpire(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := NewMemoryWithClock(10*time.Minute, clock)

	_, err := c.Observe(ctx, testPair, domain.FreshRed)
	require.NoError(t, err)

	now = now.Add(11 * time.Minute)
	s, err := c.Peek(ctx, testPair)
	require.NoError(t, err)
	require.Equal(t, Streaks{}, s)

	// A fresh observation after expiry starts a new streak.
	s, err = c.Observe(ctx, testPair, domain.FreshRed)
	require.NoError(t, err)
	require.Equal(t, Streaks{Red: 1}, s)
}

func TestTTLFor(t *testing.T) {
	require.Equal(t, 10*time.Minute, TTLFor(30*time.Second))
	require.Equal(t, 10*time.Minute, TTLFor(time.Minute))
	require.Equal(t, 20*time.Minute, TTLFor(2*time.Minute))
}
