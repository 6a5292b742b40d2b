package events

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const appliedCacheTTL = 48 * time.Hour

// CachedLedger layers a redis fast path over a durable ledger so hot
// redeliveries short-circuit without a database round trip. The cache is an
// optimization only: misses, redis errors, or a nil client all fall through
// to the durable ledger.
type CachedLedger struct {
	inner AppliedLedger
	redis *redis.Client
}

func NewCachedLedger(inner AppliedLedger, client *redis.Client) *CachedLedger {
	if inner == nil {
		panic("events: inner ledger required")
	}
	return &CachedLedger{inner: inner, redis: client}
}

func (c *CachedLedger) cacheKey(provider, eventID string) string {
	return "applied:" + provider + ":" + eventID
}

func (c *CachedLedger) HasApplied(ctx context.Context, provider, eventID string) (bool, error) {
	if c.redis != nil {
		if n, err := c.redis.Exists(ctx, c.cacheKey(provider, eventID)).Result(); err == nil && n > 0 {
			return true, nil
		}
	}
	applied, err := c.inner.HasApplied(ctx, provider, eventID)
	if err != nil {
		return false, err
	}
	if applied && c.redis != nil {
		_ = c.redis.Set(ctx, c.cacheKey(provider, eventID), "1", appliedCacheTTL).Err()
	}
	return applied, nil
}

func (c *CachedLedger) RecordApplied(ctx context.Context, provider, eventID string) (bool, error) {
	recorded, err := c.inner.RecordApplied(ctx, provider, eventID)
	if err != nil {
		return false, err
	}
	if c.redis != nil {
		_ = c.redis.Set(ctx, c.cacheKey(provider, eventID), "1", appliedCacheTTL).Err()
	}
	return recorded, nil
}
