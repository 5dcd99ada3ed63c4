// Package analysis runs the rules → ML → composite decision pipeline for
// one pair and hands persistence to the run tracker. The rule engine and
// ML model are external collaborators behind narrow interfaces; their
// internals are out of scope here.
package analysis

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"barwatch/internal/domain"
)

// RuleVerdict is what the rule engine returns for the latest bar.
// BarTime is required; a verdict without it fails the run.
type RuleVerdict struct {
	FinalDecision  domain.TradeDecision
	RuleConfidence decimal.Decimal
	StopLoss       *decimal.Decimal
	TakeProfit     *decimal.Decimal
	BarTime        *time.Time
}

// RuleEngine evaluates trading rules for a pair's latest bar.
type RuleEngine interface {
	RunRules(ctx context.Context, pair domain.Pair) (RuleVerdict, error)
}

// MLBridge produces a model confidence for a specific bar. A nil confidence
// with nil error means the model declined (pipeline continues rule-only).
type MLBridge interface {
	RunML(ctx context.Context, pair domain.Pair, barTime time.Time) (*decimal.Decimal, error)
}

// DefaultMLWeight is the blend weight given to the model confidence.
var DefaultMLWeight = decimal.NewFromFloat(0.30)

// Blend combines rule and model confidence into the composite score.
// Without a model confidence it is a rule-only passthrough, rounded.
func Blend(ruleConf decimal.Decimal, mlConf *decimal.Decimal) decimal.Decimal {
	if mlConf == nil {
		return ruleConf.Round(0)
	}
	one := decimal.NewFromInt(1)
	return ruleConf.Mul(one.Sub(DefaultMLWeight)).Add(mlConf.Mul(DefaultMLWeight)).Round(0)
}
