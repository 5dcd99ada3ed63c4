package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"barwatch/internal/domain"
	"barwatch/internal/storage"
)

// rateWindow is slightly over a minute so a burst straddling a minute
// boundary still counts against the cap.
const rateWindow = 70 * time.Second

// Channel binds a notifier to its severity floor.
type Channel struct {
	Notifier    Notifier
	MinSeverity domain.Severity
}

// DispatcherOptions tune event gating.
type DispatcherOptions struct {
	Enabled            bool
	DryRun             bool
	MaxEventsPerMinute int
}

// Dispatcher fans events out to channels, enforcing the per-minute cap per
// (event, severity) and per-bar dedupe for signal events. Delivery failures
// are logged and swallowed: a broken channel never fails the caller.
type Dispatcher struct {
	channels []Channel
	status   storage.StatusStore
	opts     DispatcherOptions
	logger   zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	sent      map[string][]time.Time
	signalBar map[string]time.Time
}

// NewDispatcher constructs a dispatcher. status may be nil; signal dedupe
// then stays in process memory only.
func NewDispatcher(channels []Channel, status storage.StatusStore, opts DispatcherOptions, logger zerolog.Logger) *Dispatcher {
	if opts.MaxEventsPerMinute <= 0 {
		opts.MaxEventsPerMinute = 60
	}
	return &Dispatcher{
		channels:  channels,
		status:    status,
		opts:      opts,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
		now:       time.Now,
		sent:      make(map[string][]time.Time),
		signalBar: make(map[string]time.Time),
	}
}

// Dispatch routes one event. It never returns an error: gating drops are
// logged at debug, delivery failures at warn.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	if !d.opts.Enabled {
		return
	}
	if ev.At.IsZero() {
		ev.At = d.now().UTC()
	}

	if ev.Name == EventSignal && ev.BarTime != nil && d.seenSignalBar(ctx, ev.Pair, *ev.BarTime) {
		d.logger.Debug().
			Str("pair", ev.Pair.Key()).
			Time("bar_time", *ev.BarTime).
			Msg("signal already notified for bar, dropping")
		return
	}

	if !d.allowRate(ev.Name, ev.Severity) {
		d.logger.Debug().
			Str("event", ev.Name).
			Str("severity", string(ev.Severity)).
			Msg("per-minute notification cap reached, dropping")
		return
	}

	if d.opts.DryRun {
		d.logger.Info().
			Str("event", ev.Name).
			Str("severity", string(ev.Severity)).
			Str("pair", ev.Pair.Key()).
			Str("text", RenderText(ev)).
			Msg("dry-run notification")
		d.afterSend(ctx, ev)
		return
	}

	delivered := false
	for _, ch := range d.channels {
		if !ev.Severity.AtLeast(ch.MinSeverity) {
			continue
		}
		if err := ch.Notifier.Notify(ctx, ev); err != nil {
			d.logger.Warn().
				Err(err).
				Str("channel", ch.Notifier.Name()).
				Str("event", ev.Name).
				Str("pair", ev.Pair.Key()).
				Msg("notification delivery failed")
			continue
		}
		delivered = true
	}

	if delivered {
		d.afterSend(ctx, ev)
	}
}

func (d *Dispatcher) afterSend(ctx context.Context, ev Event) {
	if ev.Name != EventSignal || ev.BarTime == nil {
		return
	}
	d.mu.Lock()
	d.signalBar[ev.Pair.Key()] = ev.BarTime.UTC()
	d.mu.Unlock()
	if d.status != nil {
		if err := d.status.MarkSignalBar(ctx, ev.Pair, *ev.BarTime); err != nil {
			d.logger.Warn().Err(err).Str("pair", ev.Pair.Key()).Msg("persist signal bar marker failed")
		}
	}
}

func (d *Dispatcher) seenSignalBar(ctx context.Context, pair domain.Pair, barTime time.Time) bool {
	d.mu.Lock()
	last, ok := d.signalBar[pair.Key()]
	d.mu.Unlock()
	if ok && last.Equal(barTime.UTC()) {
		return true
	}
	if d.status == nil {
		return false
	}
	rec, err := d.status.GetStatus(ctx, pair)
	if err != nil || rec == nil || rec.LastSignalBarTime == nil {
		return false
	}
	return rec.LastSignalBarTime.UTC().Equal(barTime.UTC())
}

func (d *Dispatcher) allowRate(event string, sev domain.Severity) bool {
	key := event + "|" + string(sev)
	now := d.now()
	cutoff := now.Add(-rateWindow)

	d.mu.Lock()
	defer d.mu.Unlock()

	stamps := d.sent[key]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= d.opts.MaxEventsPerMinute {
		d.sent[key] = kept
		return false
	}
	d.sent[key] = append(kept, now)
	return true
}
