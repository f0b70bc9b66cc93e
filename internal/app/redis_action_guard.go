/**
 * @description
 * Redis-backed guards that bound how often the engine contacts a client.
 * Two layers:
 *
 *  1. A per-invoice day bucket (SET NX) so a double-fired escalation run can
 *     dispatch at most one automated action per invoice per calendar day.
 *  2. A per-freelancer monthly action budget by subscription tier, enforced
 *     with an atomic INCR + PEXPIRE script.
 *
 * Both guards are advisory: the collection_attempts log remains the
 * authoritative duplicate check, and callers treat Redis errors as
 * fail-open.
 */
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/recoup/collections-engine/internal/domain"
)

// dayBucketTTL keeps day-bucket keys around long enough to cover clock skew
// between runs, then lets them expire.
const dayBucketTTL = 48 * time.Hour

var actionBudgetScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// tierBudget returns the monthly automated-action allowance for a tier.
func tierBudget(tier string) int {
	switch tier {
	case domain.TierPro:
		return 2500
	case domain.TierGrowth:
		return 400
	default:
		return 60
	}
}

const budgetWindow = 30 * 24 * time.Hour

// RedisActionGuard implements the distributed dispatch guards.
type RedisActionGuard struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisActionGuard creates a guard with the given key prefix.
func NewRedisActionGuard(client redis.UniversalClient, prefix string) *RedisActionGuard {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "recoup:collections"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisActionGuard{
		client: client,
		prefix: trimmedPrefix,
	}
}

// AllowDailyAction claims the invoice's action slot for the given calendar
// day. The first caller gets true; later callers on the same day get false.
func (g *RedisActionGuard) AllowDailyAction(ctx context.Context, invoiceID uuid.UUID, day time.Time) (bool, error) {
	if g == nil || g.client == nil {
		return true, nil
	}
	key := fmt.Sprintf("%s:daily:%s:%s", g.prefix, invoiceID, day.UTC().Format("2006-01-02"))
	return g.client.SetNX(ctx, key, 1, dayBucketTTL).Result()
}

// ConsumeTierBudget spends one action from the freelancer's monthly budget.
// Returns whether the action is within budget and how many actions remain.
func (g *RedisActionGuard) ConsumeTierBudget(ctx context.Context, freelancerID uuid.UUID, tier string) (bool, int, error) {
	if g == nil || g.client == nil {
		return true, 0, nil
	}

	limit := tierBudget(tier)
	key := fmt.Sprintf("%s:budget:%s", g.prefix, freelancerID)
	windowMs := budgetWindow.Milliseconds()

	rawResult, err := actionBudgetScript.Run(ctx, g.client, []string{key}, windowMs).Result()
	if err != nil {
		return false, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected redis budget response shape: %T", rawResult)
	}
	currentCount, ok := values[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis budget count type: %T", values[0])
	}

	remaining := limit - int(currentCount)
	if remaining < 0 {
		remaining = 0
	}
	return int(currentCount) <= limit, remaining, nil
}
