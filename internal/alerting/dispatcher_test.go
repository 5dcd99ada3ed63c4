package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"barwatch/internal/domain"
	"barwatch/internal/storage/memory"
)

var testPair = domain.Pair{Symbol: "EURUSD", Timeframe: "1m"}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestDispatcher(n Notifier, min domain.Severity, opts DispatcherOptions) *Dispatcher {
	return NewDispatcher([]Channel{{Notifier: n, MinSeverity: min}}, nil, opts, zerolog.Nop())
}

func event(name string, sev domain.Severity) Event {
	return Event{Name: name, Severity: sev, Pair: testPair, Message: "m"}
}

func TestDispatchDisabled(t *testing.T) {
	rec := &recordingNotifier{}
	d := newTestDispatcher(rec, domain.SeverityInfo, DispatcherOptions{Enabled: false})

	d.Dispatch(context.Background(), event(EventEscalation, domain.SeverityCritical))
	require.Zero(t, rec.count())
}

func TestDispatchSeverityFloor(t *testing.T) {
	rec := &recordingNotifier{}
	d := newTestDispatcher(rec, domain.SeverityError, DispatcherOptions{Enabled: true})

	d.Dispatch(context.Background(), event(EventEscalation, domain.SeverityWarn))
	require.Zero(t, rec.count())

	d.Dispatch(context.Background(), event(EventEscalation, domain.SeverityError))
	require.Equal(t, 1, rec.count())
}

func TestDispatchRateCap(t *testing.T) {
	rec := &recordingNotifier{}
	d := newTestDispatcher(rec, domain.SeverityInfo, DispatcherOptions{Enabled: true, MaxEventsPerMinute: 2})

	for i := 0; i < 5; i++ {
		d.Dispatch(context.Background(), event(EventEscalation, domain.SeverityWarn))
	}
	require.Equal(t, 2, rec.count())

	// A different (event, severity) key has its own window.
	d.Dispatch(context.Background(), event(EventEscalation, domain.SeverityError))
	require.Equal(t, 3, rec.count())
}

func TestDispatchRateWindowSlides(t *testing.T) {
	rec := &recordingNotifier{}
	d := newTestDispatcher(rec, domain.SeverityInfo, DispatcherOptions{Enabled: true, MaxEventsPerMinute: 1})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	d.Dispatch(context.Background(), event(EventEscalation, domain.SeverityWarn))
	d.Dispatch(context.Background(), event(EventEscalation, domain.SeverityWarn))
	require.Equal(t, 1, rec.count())

	now = now.Add(2 * time.Minute)
	d.Dispatch(context.Background(), event(EventEscalation, domain.SeverityWarn))
	require.Equal(t, 2, rec.count())
}

func TestDispatchSignalDedupePerBar(t *testing.T) {
	rec := &recordingNotifier{}
	status := memory.NewStatusStore()
	d := NewDispatcher([]Channel{{Notifier: rec, MinSeverity: domain.SeverityInfo}}, status, DispatcherOptions{Enabled: true}, zerolog.Nop())

	now := time.Now().UTC()
	status.Seed(domain.StatusRecord{Symbol: testPair.Symbol, Timeframe: testPair.Timeframe, LastSeenAt: &now})

	barTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := event(EventSignal, domain.SeverityInfo)
	ev.BarTime = &barTime

	d.Dispatch(context.Background(), ev)
	d.Dispatch(context.Background(), ev)
	require.Equal(t, 1, rec.count())

	// The marker must be persisted for cross-process dedupe.
	stored, err := status.GetStatus(context.Background(), testPair)
	require.NoError(t, err)
	require.NotNil(t, stored.LastSignalBarTime)
	require.True(t, stored.LastSignalBarTime.Equal(barTime))

	// A newer bar notifies again.
	nextBar := barTime.Add(time.Minute)
	ev.BarTime = &nextBar
	d.Dispatch(context.Background(), ev)
	require.Equal(t, 2, rec.count())
}

func TestDispatchDryRunSuppressesDelivery(t *testing.T) {
	rec := &recordingNotifier{}
	d := newTestDispatcher(rec, domain.SeverityInfo, DispatcherOptions{Enabled: true, DryRun: true})

	d.Dispatch(context.Background(), event(EventEscalation, domain.SeverityCritical))
	require.Zero(t, rec.count())
}

func TestDispatchSwallowsDeliveryErrors(t *testing.T) {
	rec := &recordingNotifier{err: context.DeadlineExceeded}
	d := newTestDispatcher(rec, domain.SeverityInfo, DispatcherOptions{Enabled: true})

	// Must not panic or propagate.
	d.Dispatch(context.Background(), event(EventEscalation, domain.SeverityError))
	require.Zero(t, rec.count())
}
