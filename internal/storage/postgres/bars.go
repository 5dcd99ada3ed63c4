package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"barwatch/internal/domain"
	"barwatch/internal/storage"
)

const (
	upsertBarSQL = `INSERT INTO market_bars (
        symbol,
        timeframe,
        bar_ts,
        open,
        high,
        low,
        close,
        volume,
        provider,
        ingested_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (symbol, timeframe, bar_ts) DO NOTHING;`

	selectBarColumns = `SELECT
        id,
        symbol,
        timeframe,
        bar_ts,
        open,
        high,
        low,
        close,
        volume,
        provider,
        ingested_at
    FROM market_bars
    WHERE symbol = $1
      AND timeframe = $2`

	lastInsertedBarSQL      = selectBarColumns + ` ORDER BY id DESC LIMIT 1;`
	latestBarByTimestampSQL = selectBarColumns + ` ORDER BY bar_ts DESC LIMIT 1;`

	lastCloseSQL = `SELECT close FROM market_bars
    WHERE symbol = $1 AND timeframe = $2
    ORDER BY bar_ts DESC LIMIT 1;`
)

// UpsertBar inserts a bar; exact key duplicates are ignored (bars are immutable).
func (s *Store) UpsertBar(ctx context.Context, bar domain.Bar) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	execErr := withRetry(ctx, func() error {
		_, err := pool.Exec(ctx, upsertBarSQL,
			bar.Symbol,
			bar.Timeframe,
			bar.Timestamp,
			bar.Open.String(),
			bar.High.String(),
			bar.Low.String(),
			bar.Close.String(),
			bar.Volume.String(),
			bar.Provider,
			bar.IngestedAt,
		)
		return err
	})
	if execErr != nil {
		return fmt.Errorf("upsert bar: %w", execErr)
	}
	return nil
}

// LastInsertedBar resolves the most recently inserted bar by sequence id.
func (s *Store) LastInsertedBar(ctx context.Context, pair domain.Pair) (*domain.Bar, error) {
	return s.queryBar(ctx, lastInsertedBarSQL, pair)
}

// LatestBarByTimestamp resolves the bar with the highest timestamp.
func (s *Store) LatestBarByTimestamp(ctx context.Context, pair domain.Pair) (*domain.Bar, error) {
	return s.queryBar(ctx, latestBarByTimestampSQL, pair)
}

// LastClose returns the latest close price, or nil when no bar exists.
func (s *Store) LastClose(ctx context.Context, pair domain.Pair) (*decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var closeStr string
	if scanErr := pool.QueryRow(ctx, lastCloseSQL, pair.Symbol, pair.Timeframe).Scan(&closeStr); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("last close: %w", scanErr)
	}

	value, convErr := decimal.NewFromString(closeStr)
	if convErr != nil {
		return nil, fmt.Errorf("parse close: %w", convErr)
	}
	return &value, nil
}

func (s *Store) queryBar(ctx context.Context, query string, pair domain.Pair) (*domain.Bar, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, query, pair.Symbol, pair.Timeframe)
	bar, scanErr := scanBar(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, scanErr
	}
	return bar, nil
}

func scanBar(row pgx.Row) (*domain.Bar, error) {
	var (
		bar    domain.Bar
		open   string
		high   string
		low    string
		closeV string
		volume string
	)

	if err := row.Scan(
		&bar.Seq,
		&bar.Symbol,
		&bar.Timeframe,
		&bar.Timestamp,
		&open,
		&high,
		&low,
		&closeV,
		&volume,
		&bar.Provider,
		&bar.IngestedAt,
	); err != nil {
		return nil, err
	}

	var convErr error
	if bar.Open, convErr = decimal.NewFromString(open); convErr != nil {
		return nil, fmt.Errorf("parse open: %w", convErr)
	}
	if bar.High, convErr = decimal.NewFromString(high); convErr != nil {
		return nil, fmt.Errorf("parse high: %w", convErr)
	}
	if bar.Low, convErr = decimal.NewFromString(low); convErr != nil {
		return nil, fmt.Errorf("parse low: %w", convErr)
	}
	if bar.Close, convErr = decimal.NewFromString(closeV); convErr != nil {
		return nil, fmt.Errorf("parse close: %w", convErr)
	}
	if bar.Volume, convErr = decimal.NewFromString(volume); convErr != nil {
		return nil, fmt.Errorf("parse volume: %w", convErr)
	}

	return &bar, nil
}

var _ storage.BarStore = (*Store)(nil)
