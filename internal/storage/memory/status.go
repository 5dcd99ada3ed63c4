package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"barwatch/internal/domain"
	"barwatch/internal/storage"
)

// StatusStore is an in-memory implementation of storage.StatusStore.
type StatusStore struct {
	mu   sync.Mutex
	rows map[domain.Pair]*domain.StatusRecord
}

// NewStatusStore creates an empty in-memory status store.
func NewStatusStore() *StatusStore {
	return &StatusStore{rows: make(map[domain.Pair]*domain.StatusRecord)}
}

// UpsertStatus mirrors the postgres row-locked upsert: heartbeat, freshness,
// and KPI fields refresh every call; provider metadata only on change.
func (s *StatusStore) UpsertStatus(_ context.Context, upd storage.StatusUpdate) (domain.StatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	heartbeat := upd.HeartbeatNow
	rec, exists := s.rows[upd.Pair]
	if !exists {
		rec = &domain.StatusRecord{
			Symbol:          upd.Pair.Symbol,
			Timeframe:       upd.Pair.Timeframe,
			Provider:        upd.Provider,
			KeyAgeDays:      upd.KeyAgeDays,
			EscalationLevel: domain.SeverityInfo,
		}
		s.rows[upd.Pair] = rec
	}

	rec.LastSeenAt = &heartbeat
	rec.Freshness = upd.Freshness
	rec.DataFreshnessSec = upd.AgeSeconds
	rec.AnalysesOK5m = upd.KPIs.OK
	rec.AnalysesFail5m = upd.KPIs.Fail
	rec.MedianLatencyMS = upd.KPIs.MedianLatencyMS
	rec.FallbackActive = upd.FallbackActive
	rec.UpdatedAt = heartbeat

	if upd.LastBarTime != nil {
		rec.LastBarTime = upd.LastBarTime
	}
	if upd.LastIngestTime != nil {
		rec.LastIngestTime = upd.LastIngestTime
	}
	if upd.Provider != "" && upd.Provider != rec.Provider {
		rec.Provider = upd.Provider
	}
	if upd.KeyAgeDays != nil {
		rec.KeyAgeDays = upd.KeyAgeDays
	}

	return *rec, nil
}

// GetStatus loads one status row.
func (s *StatusStore) GetStatus(_ context.Context, pair domain.Pair) (*domain.StatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.rows[pair]
	if !exists {
		return nil, storage.ErrNotFound
	}
	out := *rec
	return &out, nil
}

// ListStatuses returns all rows ordered by pair.
func (s *StatusStore) ListStatuses(_ context.Context) ([]domain.StatusRecord, error) {
	return s.list(func(*domain.StatusRecord) bool { return true }), nil
}

// ListOpenBreakers returns only rows with breaker_open = true.
func (s *StatusStore) ListOpenBreakers(_ context.Context) ([]domain.StatusRecord, error) {
	return s.list(func(r *domain.StatusRecord) bool { return r.BreakerOpen }), nil
}

func (s *StatusStore) list(keep func(*domain.StatusRecord) bool) []domain.StatusRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.StatusRecord, 0, len(s.rows))
	for _, rec := range s.rows {
		if keep(rec) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Timeframe < out[j].Timeframe
	})
	return out
}

// SetEscalation persists a ladder transition.
func (s *StatusStore) SetEscalation(_ context.Context, pair domain.Pair, level domain.Severity, breakerOpen bool, notifyAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.rows[pair]
	if !exists {
		return storage.ErrNotFound
	}
	rec.EscalationLevel = level
	rec.BreakerOpen = breakerOpen
	rec.LastNotifyAt = &notifyAt
	rec.UpdatedAt = notifyAt
	return nil
}

// CloseBreaker clears breaker_open, leaving the level alone.
func (s *StatusStore) CloseBreaker(_ context.Context, pair domain.Pair, notifyAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.rows[pair]
	if !exists {
		return storage.ErrNotFound
	}
	rec.BreakerOpen = false
	rec.LastNotifyAt = &notifyAt
	rec.UpdatedAt = notifyAt
	return nil
}

// MarkSignalBar stamps the signal dedupe marker.
func (s *StatusStore) MarkSignalBar(_ context.Context, pair domain.Pair, barTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.rows[pair]
	if !exists {
		return storage.ErrNotFound
	}
	rec.LastSignalBarTime = &barTime
	return nil
}

// Seed installs a status row directly; test helper.
func (s *StatusStore) Seed(rec domain.StatusRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := rec
	s.rows[rec.Pair()] = &copied
}

var _ storage.StatusStore = (*StatusStore)(nil)
