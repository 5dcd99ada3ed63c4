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
	statusColumns = `symbol,
        timeframe,
        last_bar_ts,
        last_ingest_ts,
        last_seen_at,
        freshness_state,
        data_freshness_sec,
        provider,
        key_age_days,
        fallback_active,
        analyses_ok_5m,
        analyses_fail_5m,
        median_latency_ms,
        escalation_level,
        breaker_open,
        last_notify_at,
        last_signal_bar_ts,
        updated_at`

	getStatusForUpdateSQL = `SELECT ` + statusColumns + `
    FROM ingestion_status
    WHERE symbol = $1 AND timeframe = $2
    FOR UPDATE;`

	getStatusSQL = `SELECT ` + statusColumns + `
    FROM ingestion_status
    WHERE symbol = $1 AND timeframe = $2;`

	listStatusesSQL = `SELECT ` + statusColumns + `
    FROM ingestion_status
    ORDER BY symbol, timeframe;`

	listOpenBreakersSQL = `SELECT ` + statusColumns + `
    FROM ingestion_status
    WHERE breaker_open = TRUE
    ORDER BY symbol, timeframe;`

	insertStatusSQL = `INSERT INTO ingestion_status (
        symbol,
        timeframe,
        last_bar_ts,
        last_ingest_ts,
        last_seen_at,
        freshness_state,
        data_freshness_sec,
        provider,
        key_age_days,
        fallback_active,
        analyses_ok_5m,
        analyses_fail_5m,
        median_latency_ms,
        escalation_level,
        breaker_open,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,'INFO',FALSE,$14
    );`

	refreshStatusSQL = `UPDATE ingestion_status
    SET last_seen_at       = $3,
        freshness_state    = $4,
        data_freshness_sec = $5,
        analyses_ok_5m     = $6,
        analyses_fail_5m   = $7,
        median_latency_ms  = $8,
        fallback_active    = $9,
        last_bar_ts        = COALESCE($10, last_bar_ts),
        last_ingest_ts     = COALESCE($11, last_ingest_ts),
        provider           = $12,
        key_age_days       = $13,
        updated_at         = $14
    WHERE symbol = $1 AND timeframe = $2;`

	setEscalationSQL = `UPDATE ingestion_status
    SET escalation_level = $3,
        breaker_open     = $4,
        last_notify_at   = $5,
        updated_at       = $5
    WHERE symbol = $1 AND timeframe = $2;`

	closeBreakerSQL = `UPDATE ingestion_status
    SET breaker_open   = FALSE,
        last_notify_at = $3,
        updated_at     = $3
    WHERE symbol = $1 AND timeframe = $2;`

	markSignalBarSQL = `UPDATE ingestion_status
    SET last_signal_bar_ts = $3,
        updated_at         = NOW()
    WHERE symbol = $1 AND timeframe = $2;`
)

// UpsertStatus refreshes the per-pair status row inside a row-locked
// transaction. The heartbeat, freshness, and KPI fields are written every
// invocation; provider metadata changes only when it actually differs
// (COALESCE keeps known bar/ingest times when the cycle had none).
func (s *Store) UpsertStatus(ctx context.Context, upd storage.StatusUpdate) (domain.StatusRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.StatusRecord{}, err
	}

	var out domain.StatusRecord
	txErr := withRetry(ctx, func() error {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin status upsert: %w", err)
		}
		defer tx.Rollback(ctx)

		existing, err := scanStatus(tx.QueryRow(ctx, getStatusForUpdateSQL, upd.Pair.Symbol, upd.Pair.Timeframe))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			if _, err := tx.Exec(ctx, insertStatusSQL,
				upd.Pair.Symbol,
				upd.Pair.Timeframe,
				upd.LastBarTime,
				upd.LastIngestTime,
				upd.HeartbeatNow,
				string(upd.Freshness),
				upd.AgeSeconds,
				upd.Provider,
				upd.KeyAgeDays,
				upd.FallbackActive,
				upd.KPIs.OK,
				upd.KPIs.Fail,
				upd.KPIs.MedianLatencyMS,
				upd.HeartbeatNow,
			); err != nil {
				return fmt.Errorf("insert status: %w", err)
			}
		case err != nil:
			return fmt.Errorf("lock status row: %w", err)
		default:
			// Provider metadata only moves when there is new information.
			provider := existing.Provider
			if upd.Provider != "" && upd.Provider != existing.Provider {
				provider = upd.Provider
			}
			keyAge := existing.KeyAgeDays
			if upd.KeyAgeDays != nil {
				keyAge = upd.KeyAgeDays
			}

			if _, err := tx.Exec(ctx, refreshStatusSQL,
				upd.Pair.Symbol,
				upd.Pair.Timeframe,
				upd.HeartbeatNow,
				string(upd.Freshness),
				upd.AgeSeconds,
				upd.KPIs.OK,
				upd.KPIs.Fail,
				upd.KPIs.MedianLatencyMS,
				upd.FallbackActive,
				upd.LastBarTime,
				upd.LastIngestTime,
				provider,
				keyAge,
				upd.HeartbeatNow,
			); err != nil {
				return fmt.Errorf("refresh status: %w", err)
			}
		}

		rec, err := scanStatus(tx.QueryRow(ctx, getStatusSQL, upd.Pair.Symbol, upd.Pair.Timeframe))
		if err != nil {
			return fmt.Errorf("reload status: %w", err)
		}
		out = rec

		return tx.Commit(ctx)
	})
	if txErr != nil {
		return domain.StatusRecord{}, txErr
	}
	return out, nil
}

// GetStatus loads one status row, or storage.ErrNotFound.
func (s *Store) GetStatus(ctx context.Context, pair domain.Pair) (*domain.StatusRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rec, scanErr := scanStatus(pool.QueryRow(ctx, getStatusSQL, pair.Symbol, pair.Timeframe))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get status: %w", scanErr)
	}
	return &rec, nil
}

// ListStatuses returns every status row ordered by pair.
func (s *Store) ListStatuses(ctx context.Context) ([]domain.StatusRecord, error) {
	return s.queryStatuses(ctx, listStatusesSQL)
}

// ListOpenBreakers returns only rows with an open circuit breaker.
func (s *Store) ListOpenBreakers(ctx context.Context) ([]domain.StatusRecord, error) {
	return s.queryStatuses(ctx, listOpenBreakersSQL)
}

func (s *Store) queryStatuses(ctx context.Context, query string) ([]domain.StatusRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query)
	if queryErr != nil {
		return nil, fmt.Errorf("list statuses: %w", queryErr)
	}
	defer rows.Close()

	records := make([]domain.StatusRecord, 0)
	for rows.Next() {
		rec, scanErr := scanStatus(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// SetEscalation persists a ladder transition and stamps last_notify_at.
func (s *Store) SetEscalation(ctx context.Context, pair domain.Pair, level domain.Severity, breakerOpen bool, notifyAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	execErr := withRetry(ctx, func() error {
		tag, err := pool.Exec(ctx, setEscalationSQL, pair.Symbol, pair.Timeframe, string(level), breakerOpen, notifyAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
	if execErr != nil && !errors.Is(execErr, storage.ErrNotFound) {
		return fmt.Errorf("set escalation: %w", execErr)
	}
	return execErr
}

// CloseBreaker clears breaker_open; escalation_level is left for the ladder.
func (s *Store) CloseBreaker(ctx context.Context, pair domain.Pair, notifyAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	execErr := withRetry(ctx, func() error {
		tag, err := pool.Exec(ctx, closeBreakerSQL, pair.Symbol, pair.Timeframe, notifyAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
	if execErr != nil && !errors.Is(execErr, storage.ErrNotFound) {
		return fmt.Errorf("close breaker: %w", execErr)
	}
	return execErr
}

// MarkSignalBar stamps the dedupe marker for signal notifications.
func (s *Store) MarkSignalBar(ctx context.Context, pair domain.Pair, barTime time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markSignalBarSQL, pair.Symbol, pair.Timeframe, barTime); execErr != nil {
		return fmt.Errorf("mark signal bar: %w", execErr)
	}
	return nil
}

func scanStatus(row pgx.Row) (domain.StatusRecord, error) {
	var (
		rec       domain.StatusRecord
		freshness string
		level     string
	)

	if err := row.Scan(
		&rec.Symbol,
		&rec.Timeframe,
		&rec.LastBarTime,
		&rec.LastIngestTime,
		&rec.LastSeenAt,
		&freshness,
		&rec.DataFreshnessSec,
		&rec.Provider,
		&rec.KeyAgeDays,
		&rec.FallbackActive,
		&rec.AnalysesOK5m,
		&rec.AnalysesFail5m,
		&rec.MedianLatencyMS,
		&level,
		&rec.BreakerOpen,
		&rec.LastNotifyAt,
		&rec.LastSignalBarTime,
		&rec.UpdatedAt,
	); err != nil {
		return domain.StatusRecord{}, err
	}

	rec.Freshness = domain.FreshnessState(freshness)
	rec.EscalationLevel = domain.Severity(level)
	return rec, nil
}

var _ storage.StatusStore = (*Store)(nil)
