package counters

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"barwatch/internal/domain"
)

// Redis is a CycleCounters backed by a shared redis instance, for
// deployments where the escalation and breaker loops run on separate
// processes and must see the same streaks.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wires a redis client into a counter store.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func streakKey(pair domain.Pair, colour string) string {
	return fmt.Sprintf("esc:%s:%s:%s", colour, pair.Symbol, pair.Timeframe)
}

// Observe increments the matching streak and zeroes the other two in one
// pipelined round trip. TTL applies to every key on each write.
func (c *Redis) Observe(ctx context.Context, pair domain.Pair, state domain.FreshnessState) (Streaks, error) {
	var bumpKey string
	resetKeys := make([]string, 0, 2)
	switch state {
	case domain.FreshGreen:
		bumpKey = streakKey(pair, "green")
		resetKeys = append(resetKeys, streakKey(pair, "amber"), streakKey(pair, "red"))
	case domain.FreshAmber:
		bumpKey = streakKey(pair, "amber")
		resetKeys = append(resetKeys, streakKey(pair, "green"), streakKey(pair, "red"))
	default:
		bumpKey = streakKey(pair, "red")
		resetKeys = append(resetKeys, streakKey(pair, "green"), streakKey(pair, "amber"))
	}

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, bumpKey)
	pipe.Expire(ctx, bumpKey, c.ttl)
	for _, key := range resetKeys {
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Streaks{}, fmt.Errorf("observe cycle counters: %w", err)
	}

	count := int(incr.Val())
	switch state {
	case domain.FreshGreen:
		return Streaks{Green: count}, nil
	case domain.FreshAmber:
		return Streaks{Amber: count}, nil
	default:
		return Streaks{Red: count}, nil
	}
}

// Peek reads the current streaks without touching them.
func (c *Redis) Peek(ctx context.Context, pair domain.Pair) (Streaks, error) {
	keys := []string{
		streakKey(pair, "green"),
		streakKey(pair, "amber"),
		streakKey(pair, "red"),
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return Streaks{}, fmt.Errorf("peek cycle counters: %w", err)
	}

	var out Streaks
	targets := []*int{&out.Green, &out.Amber, &out.Red}
	for i, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			if n, err := strconv.Atoi(s); err == nil {
				*targets[i] = n
			}
		}
	}
	return out, nil
}

var _ CycleCounters = (*Redis)(nil)
