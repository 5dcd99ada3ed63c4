// Package storage defines the persistence contracts for the orchestration
// control plane. Implementations live in storage/postgres (durable) and
// storage/memory (tests).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"barwatch/internal/domain"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicateKey indicates a unique-key collision.
	ErrDuplicateKey = errors.New("storage: duplicate key")
	// ErrNotConfigured indicates the store was not initialised.
	ErrNotConfigured = errors.New("storage: not configured")
)

// BarStore persists immutable OHLCV bars.
type BarStore interface {
	// UpsertBar inserts a bar, ignoring exact (symbol, timeframe, timestamp)
	// duplicates. Bars are immutable once written.
	UpsertBar(ctx context.Context, bar domain.Bar) error
	// LastInsertedBar returns the most recently inserted bar for the pair,
	// by insertion sequence — not by max timestamp. Freshness classification
	// depends on this distinction.
	LastInsertedBar(ctx context.Context, pair domain.Pair) (*domain.Bar, error)
	// LatestBarByTimestamp returns the bar with the highest timestamp.
	LatestBarByTimestamp(ctx context.Context, pair domain.Pair) (*domain.Bar, error)
	// LastClose returns the close of the bar with the highest timestamp,
	// or nil when no bar exists.
	LastClose(ctx context.Context, pair domain.Pair) (*decimal.Decimal, error)
}

// StatusUpdate carries one scheduler-cycle refresh of a status row.
// Heartbeat, freshness, and KPI fields are written unconditionally;
// provider metadata only when it actually changed.
type StatusUpdate struct {
	Pair           domain.Pair
	Freshness      domain.FreshnessState
	AgeSeconds     *int64
	LastBarTime    *time.Time
	LastIngestTime *time.Time
	HeartbeatNow   time.Time
	Provider       string
	KeyAgeDays     *int
	FallbackActive bool
	KPIs           domain.KPIReport
}

// StatusStore maintains the one-row-per-pair orchestration status.
type StatusStore interface {
	// UpsertStatus creates or refreshes the status row for the pair.
	// LastSeenAt always advances to HeartbeatNow, even without a new bar.
	// Safe under concurrent invocation for the same pair.
	UpsertStatus(ctx context.Context, upd StatusUpdate) (domain.StatusRecord, error)
	GetStatus(ctx context.Context, pair domain.Pair) (*domain.StatusRecord, error)
	ListStatuses(ctx context.Context) ([]domain.StatusRecord, error)
	// ListOpenBreakers returns only rows with breaker_open = true.
	ListOpenBreakers(ctx context.Context) ([]domain.StatusRecord, error)
	// SetEscalation persists a ladder transition and stamps last_notify_at.
	SetEscalation(ctx context.Context, pair domain.Pair, level domain.Severity, breakerOpen bool, notifyAt time.Time) error
	// CloseBreaker clears breaker_open without touching the escalation level.
	CloseBreaker(ctx context.Context, pair domain.Pair, notifyAt time.Time) error
	// MarkSignalBar records the last bar for which a signal notification went
	// out, used as a dedupe marker.
	MarkSignalBar(ctx context.Context, pair domain.Pair, barTime time.Time) error
}

// RunFinish carries the terminal transition of an analysis run.
type RunFinish struct {
	State        domain.RunState
	FinishedAt   time.Time
	LatencyMS    *int64
	ErrorCode    string
	ErrorMessage string
}

// RunStore is the append-only analysis attempt log.
type RunStore interface {
	// InsertRun appends a new run row and returns its id.
	InsertRun(ctx context.Context, run domain.AnalysisRun) (int64, error)
	GetRun(ctx context.Context, id int64) (*domain.AnalysisRun, error)
	// FinishRun applies the one-shot terminal transition.
	FinishRun(ctx context.Context, id int64, fin RunFinish) error
	// ListRunsSince returns runs for the pair with started_at >= since.
	ListRunsSince(ctx context.Context, pair domain.Pair, since time.Time) ([]domain.AnalysisRun, error)
	// LastFailedRun returns the most recently finished FAILED run, if any.
	LastFailedRun(ctx context.Context, pair domain.Pair) (*domain.AnalysisRun, error)
}

// DecisionStore persists trade decisions keyed by (symbol, timeframe, bar_time).
type DecisionStore interface {
	// CreateDecision is an idempotent insert: the first caller creates the
	// row (created=true); later callers with the same key observe the
	// existing row (created=false). Concurrent writers for the same key
	// converge to exactly one row.
	CreateDecision(ctx context.Context, dec domain.AnalysisDecision) (created bool, out domain.AnalysisDecision, err error)
	GetDecision(ctx context.Context, pair domain.Pair, barTime time.Time) (*domain.AnalysisDecision, error)
	// RefreshDerived updates only the mutable derived fields of an existing
	// row when they differ.
	RefreshDerived(ctx context.Context, dec domain.AnalysisDecision) error
	// SetDecisionStatus moves the row's status (COMPLETE/FAILED) and stamps
	// finished_at plus error details on failure.
	SetDecisionStatus(ctx context.Context, pair domain.Pair, barTime time.Time, status domain.RunState, errCode, errMsg string, finishedAt time.Time) error
	// ListDecisions returns recent decisions for presentation, newest first.
	ListDecisions(ctx context.Context, pair domain.Pair, limit int) ([]domain.AnalysisDecision, error)
}

// AdvisoryLocker exposes cluster-wide mutual exclusion for the scheduler.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}
