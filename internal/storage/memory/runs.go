package memory

import (
	"context"
	"sync"
	"time"

	"barwatch/internal/domain"
	"barwatch/internal/storage"
)

// RunStore is an in-memory implementation of storage.RunStore.
type RunStore struct {
	mu   sync.Mutex
	next int64
	runs map[int64]*domain.AnalysisRun
}

// NewRunStore creates an empty in-memory run log.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[int64]*domain.AnalysisRun)}
}

// InsertRun appends a run row and returns its id.
func (s *RunStore) InsertRun(_ context.Context, run domain.AnalysisRun) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	run.ID = s.next
	copied := run
	s.runs[run.ID] = &copied
	return run.ID, nil
}

// GetRun loads one run by id.
func (s *RunStore) GetRun(_ context.Context, id int64) (*domain.AnalysisRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	out := *run
	return &out, nil
}

// FinishRun applies the terminal transition; finished runs stay finished.
func (s *RunStore) FinishRun(_ context.Context, id int64, fin storage.RunFinish) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[id]
	if !exists || run.State != domain.RunPending {
		return storage.ErrNotFound
	}

	run.State = fin.State
	finished := fin.FinishedAt
	run.FinishedAt = &finished
	run.LatencyMS = fin.LatencyMS
	run.ErrorCode = fin.ErrorCode
	run.ErrorMessage = fin.ErrorMessage
	return nil
}

// ListRunsSince returns runs for the pair with started_at >= since.
func (s *RunStore) ListRunsSince(_ context.Context, pair domain.Pair, since time.Time) ([]domain.AnalysisRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.AnalysisRun, 0)
	for id := int64(1); id <= s.next; id++ {
		run, exists := s.runs[id]
		if !exists {
			continue
		}
		if run.Symbol != pair.Symbol || run.Timeframe != pair.Timeframe {
			continue
		}
		if run.StartedAt == nil || run.StartedAt.Before(since) {
			continue
		}
		out = append(out, *run)
	}
	return out, nil
}

// LastFailedRun returns the most recently finished FAILED run, if any.
func (s *RunStore) LastFailedRun(_ context.Context, pair domain.Pair) (*domain.AnalysisRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.AnalysisRun
	for _, run := range s.runs {
		if run.Symbol != pair.Symbol || run.Timeframe != pair.Timeframe {
			continue
		}
		if run.State != domain.RunFailed || run.FinishedAt == nil {
			continue
		}
		if latest == nil || run.FinishedAt.After(*latest.FinishedAt) {
			latest = run
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	out := *latest
	return &out, nil
}

// All returns every run in insertion order; test helper.
func (s *RunStore) All() []domain.AnalysisRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.AnalysisRun, 0, len(s.runs))
	for id := int64(1); id <= s.next; id++ {
		if run, exists := s.runs[id]; exists {
			out = append(out, *run)
		}
	}
	return out
}

var _ storage.RunStore = (*RunStore)(nil)
