package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"barwatch/internal/domain"
	"barwatch/internal/storage"
)

const (
	insertRunSQL = `INSERT INTO analysis_runs (
        symbol,
        timeframe,
        bar_ts,
        state,
        started_at,
        finished_at,
        latency_ms,
        error_code,
        error_message
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING id;`

	runColumns = `id,
        symbol,
        timeframe,
        bar_ts,
        state,
        started_at,
        finished_at,
        latency_ms,
        error_code,
        error_message`

	getRunSQL = `SELECT ` + runColumns + `
    FROM analysis_runs
    WHERE id = $1;`

	finishRunSQL = `UPDATE analysis_runs
    SET state         = $2,
        finished_at   = $3,
        latency_ms    = $4,
        error_code    = $5,
        error_message = $6
    WHERE id = $1
      AND state = 'PENDING';`

	listRunsSinceSQL = `SELECT ` + runColumns + `
    FROM analysis_runs
    WHERE symbol = $1
      AND timeframe = $2
      AND started_at >= $3
    ORDER BY started_at;`

	lastFailedRunSQL = `SELECT ` + runColumns + `
    FROM analysis_runs
    WHERE symbol = $1
      AND timeframe = $2
      AND state = 'FAILED'
    ORDER BY finished_at DESC NULLS LAST
    LIMIT 1;`
)

// InsertRun appends a run row to the audit log and returns its id.
func (s *Store) InsertRun(ctx context.Context, run domain.AnalysisRun) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	insertErr := withRetry(ctx, func() error {
		return pool.QueryRow(ctx, insertRunSQL,
			run.Symbol,
			run.Timeframe,
			run.BarTime,
			string(run.State),
			run.StartedAt,
			run.FinishedAt,
			run.LatencyMS,
			nullIfEmpty(run.ErrorCode),
			nullIfEmpty(run.ErrorMessage),
		).Scan(&id)
	})
	if insertErr != nil {
		return 0, fmt.Errorf("insert run: %w", insertErr)
	}
	return id, nil
}

// GetRun loads one run row by id.
func (s *Store) GetRun(ctx context.Context, id int64) (*domain.AnalysisRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	run, scanErr := scanRun(pool.QueryRow(ctx, getRunSQL, id))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", scanErr)
	}
	return run, nil
}

// FinishRun applies the terminal transition. The WHERE state='PENDING' guard
// makes finished runs effectively write-once.
func (s *Store) FinishRun(ctx context.Context, id int64, fin storage.RunFinish) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	execErr := withRetry(ctx, func() error {
		tag, err := pool.Exec(ctx, finishRunSQL,
			id,
			string(fin.State),
			fin.FinishedAt,
			fin.LatencyMS,
			nullIfEmpty(fin.ErrorCode),
			nullIfEmpty(fin.ErrorMessage),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
	if execErr != nil && !errors.Is(execErr, storage.ErrNotFound) {
		return fmt.Errorf("finish run: %w", execErr)
	}
	return execErr
}

// ListRunsSince returns runs for the pair with started_at >= since.
func (s *Store) ListRunsSince(ctx context.Context, pair domain.Pair, since time.Time) ([]domain.AnalysisRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRunsSinceSQL, pair.Symbol, pair.Timeframe, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list runs since: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]domain.AnalysisRun, 0)
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, *run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// LastFailedRun returns the most recently finished FAILED run, if any.
func (s *Store) LastFailedRun(ctx context.Context, pair domain.Pair) (*domain.AnalysisRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	run, scanErr := scanRun(pool.QueryRow(ctx, lastFailedRunSQL, pair.Symbol, pair.Timeframe))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("last failed run: %w", scanErr)
	}
	return run, nil
}

func scanRun(row pgx.Row) (*domain.AnalysisRun, error) {
	var (
		run     domain.AnalysisRun
		state   string
		errCode *string
		errMsg  *string
	)

	if err := row.Scan(
		&run.ID,
		&run.Symbol,
		&run.Timeframe,
		&run.BarTime,
		&state,
		&run.StartedAt,
		&run.FinishedAt,
		&run.LatencyMS,
		&errCode,
		&errMsg,
	); err != nil {
		return nil, err
	}

	run.State = domain.RunState(state)
	if errCode != nil {
		run.ErrorCode = *errCode
	}
	if errMsg != nil {
		run.ErrorMessage = *errMsg
	}
	return &run, nil
}

func nullIfEmpty(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

var _ storage.RunStore = (*Store)(nil)
