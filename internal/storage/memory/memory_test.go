package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"barwatch/internal/domain"
	"barwatch/internal/storage"
)

var barsPair = domain.Pair{Symbol: "EURUSD", Timeframe: "1m"}

func mkBar(ts time.Time, close float64) domain.Bar {
	return domain.Bar{
		Symbol:    barsPair.Symbol,
		Timeframe: barsPair.Timeframe,
		Timestamp: ts,
		Close:     decimal.NewFromFloat(close),
	}
}

func TestBarStoreInsertionOrderVsTimestamp(t *testing.T) {
	ctx := context.Background()
	store := NewBarStore()

	t1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	// A late-arriving backfill: the newer timestamp lands first.
	require.NoError(t, store.UpsertBar(ctx, mkBar(t2, 1.09)))
	require.NoError(t, store.UpsertBar(ctx, mkBar(t1, 1.08)))

	lastInserted, err := store.LastInsertedBar(ctx, barsPair)
	require.NoError(t, err)
	require.True(t, lastInserted.Timestamp.Equal(t1), "last inserted follows write order")

	latest, err := store.LatestBarByTimestamp(ctx, barsPair)
	require.NoError(t, err)
	require.True(t, latest.Timestamp.Equal(t2), "latest follows bar time")
}

func TestBarStoreUpsertDeduplicates(t *testing.T) {
	ctx := context.Background()
	store := NewBarStore()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertBar(ctx, mkBar(ts, 1.08)))
	require.NoError(t, store.UpsertBar(ctx, mkBar(ts, 9.99)))

	bar, err := store.LastInsertedBar(ctx, barsPair)
	require.NoError(t, err)
	require.Equal(t, "1.08", bar.Close.String(), "first write wins for the same bar key")
	require.Equal(t, int64(1), bar.Seq)
}

func TestBarStoreEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewBarStore()

	_, err := store.LastInsertedBar(ctx, barsPair)
	require.ErrorIs(t, err, storage.ErrNotFound)

	lastClose, err := store.LastClose(ctx, barsPair)
	require.NoError(t, err)
	require.Nil(t, lastClose)
}

func TestStatusUpsertHeartbeatAlwaysAdvances(t *testing.T) {
	ctx := context.Background()
	store := NewStatusStore()

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := store.UpsertStatus(ctx, storage.StatusUpdate{
		Pair: barsPair, Freshness: domain.FreshGreen, HeartbeatNow: first, Provider: "AllTick",
	})
	require.NoError(t, err)

	second := first.Add(time.Minute)
	rec, err := store.UpsertStatus(ctx, storage.StatusUpdate{
		Pair: barsPair, Freshness: domain.FreshRed, HeartbeatNow: second, Provider: "AllTick",
	})
	require.NoError(t, err)

	require.True(t, rec.LastSeenAt.Equal(second))
	require.Equal(t, domain.FreshRed, rec.Freshness)
	require.Equal(t, "AllTick", rec.Provider)
}

func TestStatusUpsertKeepsBarTimesWhenAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewStatusStore()

	barTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := store.UpsertStatus(ctx, storage.StatusUpdate{
		Pair: barsPair, Freshness: domain.FreshGreen,
		HeartbeatNow: barTime.Add(10 * time.Second), LastBarTime: &barTime,
	})
	require.NoError(t, err)

	// A later heartbeat without bar info must not wipe the last-seen bar.
	rec, err := store.UpsertStatus(ctx, storage.StatusUpdate{
		Pair: barsPair, Freshness: domain.FreshRed,
		HeartbeatNow: barTime.Add(5 * time.Minute),
	})
	require.NoError(t, err)
	require.NotNil(t, rec.LastBarTime)
	require.True(t, rec.LastBarTime.Equal(barTime))
}

func TestStatusUpsertPreservesEscalationState(t *testing.T) {
	ctx := context.Background()
	store := NewStatusStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.UpsertStatus(ctx, storage.StatusUpdate{Pair: barsPair, Freshness: domain.FreshRed, HeartbeatNow: now})
	require.NoError(t, err)
	require.NoError(t, store.SetEscalation(ctx, barsPair, domain.SeverityCritical, true, now))

	rec, err := store.UpsertStatus(ctx, storage.StatusUpdate{
		Pair: barsPair, Freshness: domain.FreshRed, HeartbeatNow: now.Add(time.Minute),
	})
	require.NoError(t, err)
	require.True(t, rec.BreakerOpen)
	require.Equal(t, domain.SeverityCritical, rec.EscalationLevel)
}

func TestListOpenBreakers(t *testing.T) {
	ctx := context.Background()
	store := NewStatusStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store.Seed(domain.StatusRecord{Symbol: "EURUSD", Timeframe: "1m", BreakerOpen: true})
	store.Seed(domain.StatusRecord{Symbol: "GBPUSD", Timeframe: "1m"})

	open, err := store.ListOpenBreakers(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "EURUSD", open[0].Symbol)

	require.NoError(t, store.CloseBreaker(ctx, domain.Pair{Symbol: "EURUSD", Timeframe: "1m"}, now))
	open, err = store.ListOpenBreakers(ctx)
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestSetEscalationMissingRow(t *testing.T) {
	ctx := context.Background()
	store := NewStatusStore()
	now := time.Now()

	require.ErrorIs(t, store.SetEscalation(ctx, barsPair, domain.SeverityWarn, false, now), storage.ErrNotFound)
	require.ErrorIs(t, store.CloseBreaker(ctx, barsPair, now), storage.ErrNotFound)
	require.ErrorIs(t, store.MarkSignalBar(ctx, barsPair, now), storage.ErrNotFound)
}
