// Package memory holds in-memory implementations of the storage contracts,
// mirroring the postgres stores for use in tests.
package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"barwatch/internal/domain"
	"barwatch/internal/storage"
)

// BarStore is an in-memory implementation of storage.BarStore.
type BarStore struct {
	mu   sync.RWMutex
	seq  int64
	bars map[domain.Pair][]domain.Bar
}

// NewBarStore creates an empty in-memory bar store.
func NewBarStore() *BarStore {
	return &BarStore{bars: make(map[domain.Pair][]domain.Bar)}
}

// UpsertBar appends the bar unless the exact key already exists.
func (s *BarStore) UpsertBar(_ context.Context, bar domain.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := bar.Pair()
	for _, existing := range s.bars[pair] {
		if existing.Timestamp.Equal(bar.Timestamp) {
			return nil
		}
	}

	s.seq++
	bar.Seq = s.seq
	s.bars[pair] = append(s.bars[pair], bar)
	return nil
}

// LastInsertedBar returns the bar with the highest insertion sequence.
func (s *BarStore) LastInsertedBar(_ context.Context, pair domain.Pair) (*domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bars := s.bars[pair]
	if len(bars) == 0 {
		return nil, storage.ErrNotFound
	}
	bar := bars[len(bars)-1]
	return &bar, nil
}

// LatestBarByTimestamp returns the bar with the highest timestamp.
func (s *BarStore) LatestBarByTimestamp(_ context.Context, pair domain.Pair) (*domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bars := s.bars[pair]
	if len(bars) == 0 {
		return nil, storage.ErrNotFound
	}

	latest := bars[0]
	for _, bar := range bars[1:] {
		if bar.Timestamp.After(latest.Timestamp) {
			latest = bar
		}
	}
	return &latest, nil
}

// LastClose returns the close of the bar with the highest timestamp.
func (s *BarStore) LastClose(ctx context.Context, pair domain.Pair) (*decimal.Decimal, error) {
	bar, err := s.LatestBarByTimestamp(ctx, pair)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	value := bar.Close
	return &value, nil
}

var _ storage.BarStore = (*BarStore)(nil)
