package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"bizchat-platform/pkg/utils"
)

// ClaimGuard serializes concurrent evaluation of the same (event, rule) pair
// across processes. It is a race guard on top of the attempt log, not the
// source of truth: the log's sent record is what makes dedup durable.
type ClaimGuard interface {
	// Acquire returns true when this process may proceed with the pair.
	Acquire(ctx context.Context, eventID, ruleID string) (bool, error)
	// Release frees the claim so a later re-delivery can be evaluated again.
	Release(ctx context.Context, eventID, ruleID string) error
}

const claimTTL = 30 * time.Second

// RedisGuard implements ClaimGuard with a Redis SET NX lease.
type RedisGuard struct {
	rdb   *redis.Client
	owner string
}

func NewRedisGuard(rdb *redis.Client, owner string) *RedisGuard {
	return &RedisGuard{rdb: rdb, owner: owner}
}

func (g *RedisGuard) Acquire(ctx context.Context, eventID, ruleID string) (bool, error) {
	return utils.ClaimOnce(ctx, g.rdb, claimKey(eventID, ruleID), g.owner, claimTTL)
}

func (g *RedisGuard) Release(ctx context.Context, eventID, ruleID string) error {
	return utils.ReleaseClaim(ctx, g.rdb, claimKey(eventID, ruleID), g.owner)
}

func claimKey(eventID, ruleID string) string {
	return "dispatch:" + eventID + ":" + ruleID
}

// NoopGuard always grants the claim. Used in tests and single-process setups.
type NoopGuard struct{}

func (NoopGuard) Acquire(ctx context.Context, eventID, ruleID string) (bool, error) { return true, nil }
func (NoopGuard) Release(ctx context.Context, eventID, ruleID string) error         { return nil }
