package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces the cross-lead campaign limits: the daily lead
// admission cap and the minimum spacing between outbound messages.
// Counters live in redis so every worker shares them.
type RateLimiter struct {
	rdb *redis.Client
}

// NewRateLimiter creates a limiter on the shared redis client
func NewRateLimiter(rdb *redis.Client) *RateLimiter {
	return &RateLimiter{rdb: rdb}
}

// AdmitLead consumes one slot of the campaign's daily lead limit.
// A zero or negative limit means unlimited.
func (rl *RateLimiter) AdmitLead(ctx context.Context, campaignID string, limit int, now time.Time) (bool, error) {
	if limit <= 0 {
		return true, nil
	}

	key := fmt.Sprintf("dispatch:admit:%s:%s", campaignID, now.UTC().Format("2006-01-02"))

	count, err := rl.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("increment admission counter: %w", err)
	}
	if count == 1 {
		// First admission of the day sets the counter's lifetime
		if err := rl.rdb.Expire(ctx, key, 48*time.Hour).Err(); err != nil {
			return false, fmt.Errorf("expire admission counter: %w", err)
		}
	}
	if count > int64(limit) {
		// Give the slot back so tomorrow's arithmetic stays honest
		if err := rl.rdb.Decr(ctx, key).Err(); err != nil {
			return false, fmt.Errorf("decrement admission counter: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// ReserveSendSlot claims the campaign's send slot for the message
// interval. While the slot is held no other send of the campaign may
// go out.
func (rl *RateLimiter) ReserveSendSlot(ctx context.Context, campaignID string, interval time.Duration) (bool, error) {
	if interval <= 0 {
		return true, nil
	}

	key := fmt.Sprintf("dispatch:space:%s", campaignID)
	ok, err := rl.rdb.SetNX(ctx, key, 1, interval).Result()
	if err != nil {
		return false, fmt.Errorf("reserve send slot: %w", err)
	}
	return ok, nil
}
