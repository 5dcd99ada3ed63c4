package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"barwatch/internal/domain"
	"barwatch/internal/storage"
)

// StubRuleEngine is a deterministic placeholder wired in until a real rule
// engine is attached: LONG for even-length symbols, NO_TRADE otherwise,
// always at the latest bar's timestamp.
type StubRuleEngine struct {
	Bars storage.BarStore
}

func (s *StubRuleEngine) RunRules(ctx context.Context, pair domain.Pair) (RuleVerdict, error) {
	bar, err := s.Bars.LatestBarByTimestamp(ctx, pair)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return RuleVerdict{FinalDecision: domain.DecisionNoTrade}, nil
		}
		return RuleVerdict{}, err
	}

	decision := domain.DecisionNoTrade
	if len(pair.Symbol)%2 == 0 {
		decision = domain.DecisionLong
	}
	barTime := bar.Timestamp
	return RuleVerdict{
		FinalDecision:  decision,
		RuleConfidence: decimal.NewFromInt(55),
		BarTime:        &barTime,
	}, nil
}

// StubMLBridge declines every request, leaving the pipeline rule-only.
type StubMLBridge struct{}

func (StubMLBridge) RunML(context.Context, domain.Pair, time.Time) (*decimal.Decimal, error) {
	return nil, nil
}

var (
	_ RuleEngine = (*StubRuleEngine)(nil)
	_ MLBridge   = StubMLBridge{}
)
