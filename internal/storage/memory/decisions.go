package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"barwatch/internal/domain"
	"barwatch/internal/storage"
)

type decisionKey struct {
	symbol    string
	timeframe string
	barTime   int64
}

// DecisionStore is an in-memory implementation of storage.DecisionStore.
type DecisionStore struct {
	mu   sync.Mutex
	next int64
	rows map[decisionKey]*domain.AnalysisDecision
}

// NewDecisionStore creates an empty in-memory decision store.
func NewDecisionStore() *DecisionStore {
	return &DecisionStore{rows: make(map[decisionKey]*domain.AnalysisDecision)}
}

func key(pair domain.Pair, barTime time.Time) decisionKey {
	return decisionKey{symbol: pair.Symbol, timeframe: pair.Timeframe, barTime: barTime.UnixNano()}
}

// CreateDecision is the idempotent insert: first caller creates, later
// callers observe the existing row.
func (s *DecisionStore) CreateDecision(_ context.Context, dec domain.AnalysisDecision) (bool, domain.AnalysisDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(dec.Pair(), dec.BarTime)
	if existing, exists := s.rows[k]; exists {
		return false, *existing, nil
	}

	s.next++
	dec.ID = s.next
	copied := dec
	s.rows[k] = &copied
	return true, copied, nil
}

// GetDecision loads one decision by its idempotent key.
func (s *DecisionStore) GetDecision(_ context.Context, pair domain.Pair, barTime time.Time) (*domain.AnalysisDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.rows[key(pair, barTime)]
	if !exists {
		return nil, storage.ErrNotFound
	}
	out := *rec
	return &out, nil
}

// RefreshDerived updates only the mutable derived fields.
func (s *DecisionStore) RefreshDerived(_ context.Context, dec domain.AnalysisDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.rows[key(dec.Pair(), dec.BarTime)]
	if !exists {
		return storage.ErrNotFound
	}
	rec.MLConfidence = dec.MLConfidence
	rec.CompositeScore = dec.CompositeScore
	rec.StopLoss = dec.StopLoss
	rec.TakeProfit = dec.TakeProfit
	return nil
}

// SetDecisionStatus moves the row's status and stamps finished_at.
func (s *DecisionStore) SetDecisionStatus(_ context.Context, pair domain.Pair, barTime time.Time, status domain.RunState, errCode, errMsg string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.rows[key(pair, barTime)]
	if !exists {
		return storage.ErrNotFound
	}
	rec.Status = status
	rec.FinishedAt = &finishedAt
	if status == domain.RunFailed {
		rec.ErrorCode = errCode
		rec.ErrorMessage = errMsg
	}
	return nil
}

// ListDecisions returns recent decisions, newest bar first.
func (s *DecisionStore) ListDecisions(_ context.Context, pair domain.Pair, limit int) ([]domain.AnalysisDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.AnalysisDecision, 0)
	for k, rec := range s.rows {
		if k.symbol == pair.Symbol && k.timeframe == pair.Timeframe {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BarTime.After(out[j].BarTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored decisions; test helper.
func (s *DecisionStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

var _ storage.DecisionStore = (*DecisionStore)(nil)
