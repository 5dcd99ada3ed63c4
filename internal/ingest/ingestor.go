package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"barwatch/internal/domain"
	"barwatch/internal/errs"
	"barwatch/internal/storage"
)

// ErrCoolingDown indicates the pair's provider fetches are suspended after
// repeated failures.
var ErrCoolingDown = errors.New("ingest: provider cooling down")

// Options tune ingestor failure handling.
type Options struct {
	// FailureCooldown suspends fetches for a pair after MaxFailures
	// consecutive errors.
	FailureCooldown time.Duration
	MaxFailures     int
	// KeyAgeDays is propagated into the status row when known.
	KeyAgeDays *int
}

type failState struct {
	consecutive int
	until       time.Time
}

// Ingestor pulls the latest bar from the provider and persists it. Provider
// failures never propagate past the status heartbeat: the pair keeps
// heartbeating even when the feed is down.
type Ingestor struct {
	provider Provider
	bars     storage.BarStore
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	failures map[string]*failState
}

// NewIngestor constructs an ingestor.
func NewIngestor(provider Provider, bars storage.BarStore, opts Options, logger zerolog.Logger) *Ingestor {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 3
	}
	if opts.FailureCooldown <= 0 {
		opts.FailureCooldown = 5 * time.Minute
	}
	return &Ingestor{
		provider: provider,
		bars:     bars,
		opts:     opts,
		logger:   logger.With().Str("component", "ingestor").Logger(),
		now:      time.Now,
		failures: make(map[string]*failState),
	}
}

// KeyAgeDays exposes the configured provider key age for status refreshes.
func (i *Ingestor) KeyAgeDays() *int { return i.opts.KeyAgeDays }

// ProviderName returns the active provider's name.
func (i *Ingestor) ProviderName() string {
	if i.provider == nil {
		return ""
	}
	return i.provider.Name()
}

// IngestOnce fetches and persists the latest bar for the pair. It returns
// the stored bar (nil when the provider had nothing new), a classified error
// code on failure, and the error itself.
func (i *Ingestor) IngestOnce(ctx context.Context, pair domain.Pair) (*domain.Bar, errs.Code, error) {
	if i.provider == nil {
		return nil, errs.ProviderDisconnected, fmt.Errorf("ingest %s: no provider configured", pair)
	}

	if until, cooling := i.coolingDown(pair); cooling {
		i.logger.Debug().
			Str("pair", pair.Key()).
			Time("until", until).
			Msg("skipping ingest during failure cooldown")
		return nil, "", ErrCoolingDown
	}

	bar, err := i.provider.FetchLatestBar(ctx, pair)
	if err != nil {
		code := errs.Classify(err)
		i.recordFailure(pair)
		i.logger.Warn().
			Err(err).
			Str("pair", pair.Key()).
			Str("error_code", string(code)).
			Msg("provider fetch failed")
		return nil, code, fmt.Errorf("fetch latest bar %s: %w", pair, err)
	}

	i.resetFailures(pair)

	if bar == nil {
		return nil, "", nil
	}

	bar.IngestedAt = i.now().UTC()
	if err := i.bars.UpsertBar(ctx, *bar); err != nil {
		code := errs.Classify(err)
		return nil, code, fmt.Errorf("persist bar %s: %w", pair, err)
	}

	i.logger.Debug().
		Str("pair", pair.Key()).
		Time("bar_time", bar.Timestamp).
		Msg("bar ingested")
	return bar, "", nil
}

func (i *Ingestor) coolingDown(pair domain.Pair) (time.Time, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	st, ok := i.failures[pair.Key()]
	if !ok || st.consecutive < i.opts.MaxFailures {
		return time.Time{}, false
	}
	if i.now().After(st.until) {
		// Cooldown elapsed, allow one trial request.
		st.consecutive = i.opts.MaxFailures - 1
		return time.Time{}, false
	}
	return st.until, true
}

func (i *Ingestor) recordFailure(pair domain.Pair) {
	i.mu.Lock()
	defer i.mu.Unlock()
	st, ok := i.failures[pair.Key()]
	if !ok {
		st = &failState{}
		i.failures[pair.Key()] = st
	}
	st.consecutive++
	if st.consecutive >= i.opts.MaxFailures {
		st.until = i.now().Add(i.opts.FailureCooldown)
	}
}

func (i *Ingestor) resetFailures(pair domain.Pair) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.failures, pair.Key())
}
