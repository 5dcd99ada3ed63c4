package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"barwatch/internal/domain"
	"barwatch/internal/storage"
)

const (
	// ON CONFLICT DO NOTHING + re-read keeps concurrent writers for the same
	// (symbol, timeframe, bar_ts) converging on exactly one row.
	insertDecisionSQL = `INSERT INTO analysis_decisions (
        symbol,
        timeframe,
        bar_ts,
        final_decision,
        rule_confidence,
        ml_confidence,
        composite_score,
        stop_loss,
        take_profit,
        status,
        started_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    ON CONFLICT (symbol, timeframe, bar_ts) DO NOTHING
    RETURNING id;`

	decisionColumns = `id,
        symbol,
        timeframe,
        bar_ts,
        final_decision,
        rule_confidence,
        ml_confidence,
        composite_score,
        stop_loss,
        take_profit,
        status,
        error_code,
        error_message,
        started_at,
        finished_at`

	getDecisionSQL = `SELECT ` + decisionColumns + `
    FROM analysis_decisions
    WHERE symbol = $1
      AND timeframe = $2
      AND bar_ts = $3;`

	refreshDerivedSQL = `UPDATE analysis_decisions
    SET ml_confidence   = $4,
        composite_score = $5,
        stop_loss       = $6,
        take_profit     = $7
    WHERE symbol = $1
      AND timeframe = $2
      AND bar_ts = $3;`

	setDecisionStatusSQL = `UPDATE analysis_decisions
    SET status        = $4,
        error_code    = $5,
        error_message = $6,
        finished_at   = $7
    WHERE symbol = $1
      AND timeframe = $2
      AND bar_ts = $3;`

	listDecisionsSQL = `SELECT ` + decisionColumns + `
    FROM analysis_decisions
    WHERE symbol = $1
      AND timeframe = $2
    ORDER BY bar_ts DESC
    LIMIT $3;`
)

// CreateDecision performs the idempotent insert keyed by
// (symbol, timeframe, bar_ts). The first caller creates the row; later
// callers observe the existing one with created=false.
func (s *Store) CreateDecision(ctx context.Context, dec domain.AnalysisDecision) (bool, domain.AnalysisDecision, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, domain.AnalysisDecision{}, err
	}

	var created bool
	insertErr := withRetry(ctx, func() error {
		var id int64
		err := pool.QueryRow(ctx, insertDecisionSQL,
			dec.Symbol,
			dec.Timeframe,
			dec.BarTime,
			string(dec.FinalDecision),
			dec.RuleConfidence.String(),
			decimalPtrString(dec.MLConfidence),
			decimalPtrString(dec.CompositeScore),
			decimalPtrString(dec.StopLoss),
			decimalPtrString(dec.TakeProfit),
			string(dec.Status),
			dec.StartedAt,
		).Scan(&id)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			created = false
			return nil
		case err != nil:
			return err
		}
		created = true
		return nil
	})
	if insertErr != nil {
		return false, domain.AnalysisDecision{}, fmt.Errorf("create decision: %w", insertErr)
	}

	out, getErr := s.GetDecision(ctx, dec.Pair(), dec.BarTime)
	if getErr != nil {
		return created, domain.AnalysisDecision{}, getErr
	}
	return created, *out, nil
}

// GetDecision loads one decision by its idempotent key.
func (s *Store) GetDecision(ctx context.Context, pair domain.Pair, barTime time.Time) (*domain.AnalysisDecision, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	dec, scanErr := scanDecision(pool.QueryRow(ctx, getDecisionSQL, pair.Symbol, pair.Timeframe, barTime))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get decision: %w", scanErr)
	}
	return dec, nil
}

// RefreshDerived updates only the mutable derived fields of an existing row.
func (s *Store) RefreshDerived(ctx context.Context, dec domain.AnalysisDecision) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	execErr := withRetry(ctx, func() error {
		_, err := pool.Exec(ctx, refreshDerivedSQL,
			dec.Symbol,
			dec.Timeframe,
			dec.BarTime,
			decimalPtrString(dec.MLConfidence),
			decimalPtrString(dec.CompositeScore),
			decimalPtrString(dec.StopLoss),
			decimalPtrString(dec.TakeProfit),
		)
		return err
	})
	if execErr != nil {
		return fmt.Errorf("refresh decision: %w", execErr)
	}
	return nil
}

// SetDecisionStatus moves the row's status and stamps finished_at.
func (s *Store) SetDecisionStatus(ctx context.Context, pair domain.Pair, barTime time.Time, status domain.RunState, errCode, errMsg string, finishedAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	execErr := withRetry(ctx, func() error {
		tag, err := pool.Exec(ctx, setDecisionStatusSQL,
			pair.Symbol,
			pair.Timeframe,
			barTime,
			string(status),
			nullIfEmpty(errCode),
			nullIfEmpty(errMsg),
			finishedAt,
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
		return fmt.Errorf("set decision status: %w", execErr)
	}
	return execErr
}

// ListDecisions returns recent decisions for the pair, newest first.
func (s *Store) ListDecisions(ctx context.Context, pair domain.Pair, limit int) ([]domain.AnalysisDecision, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDecisionsSQL, pair.Symbol, pair.Timeframe, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list decisions: %w", queryErr)
	}
	defer rows.Close()

	decisions := make([]domain.AnalysisDecision, 0, limit)
	for rows.Next() {
		dec, scanErr := scanDecision(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		decisions = append(decisions, *dec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return decisions, nil
}

func scanDecision(row pgx.Row) (*domain.AnalysisDecision, error) {
	var (
		dec      domain.AnalysisDecision
		decision string
		status   string
		ruleConf string
		mlConf   *string
		comp     *string
		sl       *string
		tp       *string
		errCode  *string
		errMsg   *string
	)

	if err := row.Scan(
		&dec.ID,
		&dec.Symbol,
		&dec.Timeframe,
		&dec.BarTime,
		&decision,
		&ruleConf,
		&mlConf,
		&comp,
		&sl,
		&tp,
		&status,
		&errCode,
		&errMsg,
		&dec.StartedAt,
		&dec.FinishedAt,
	); err != nil {
		return nil, err
	}

	dec.FinalDecision = domain.TradeDecision(decision)
	dec.Status = domain.RunState(status)

	var convErr error
	if dec.RuleConfidence, convErr = decimal.NewFromString(ruleConf); convErr != nil {
		return nil, fmt.Errorf("parse rule confidence: %w", convErr)
	}
	if dec.MLConfidence, convErr = parseDecimalPtr(mlConf); convErr != nil {
		return nil, fmt.Errorf("parse ml confidence: %w", convErr)
	}
	if dec.CompositeScore, convErr = parseDecimalPtr(comp); convErr != nil {
		return nil, fmt.Errorf("parse composite score: %w", convErr)
	}
	if dec.StopLoss, convErr = parseDecimalPtr(sl); convErr != nil {
		return nil, fmt.Errorf("parse stop loss: %w", convErr)
	}
	if dec.TakeProfit, convErr = parseDecimalPtr(tp); convErr != nil {
		return nil, fmt.Errorf("parse take profit: %w", convErr)
	}
	if errCode != nil {
		dec.ErrorCode = *errCode
	}
	if errMsg != nil {
		dec.ErrorMessage = *errMsg
	}

	return &dec, nil
}

func decimalPtrString(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseDecimalPtr(v *string) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	parsed, err := decimal.NewFromString(*v)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

var _ storage.DecisionStore = (*Store)(nil)
