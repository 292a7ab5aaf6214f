package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cooldown rate-limits bid attempts per (auction, bidder) before they reach
// the database
type Cooldown struct {
	client redis.Scripter
	window time.Duration
	// Lua script for atomic acquire-or-report-remaining
	script *redis.Script
}

// NewCooldown creates a Cooldown over an existing Redis client
func NewCooldown(client redis.Scripter, window time.Duration) *Cooldown {
	// Runs atomically on the Redis server: the first caller sets the key,
	// everyone else inside the window gets its remaining lifetime.
	script := redis.NewScript(`
		-- KEYS[1]: bid_cooldown:{auctionID}:{bidderID}
		-- ARGV[1]: window in milliseconds
		if redis.call('SET', KEYS[1], '1', 'NX', 'PX', ARGV[1]) then
			return 0
		end
		local ttl = redis.call('PTTL', KEYS[1])
		if ttl < 1 then
			ttl = 1
		end
		return ttl
	`)

	return &Cooldown{client: client, window: window, script: script}
}

// Key returns the cooldown key of a bidder on an auction
func Key(auctionID uuid.UUID, bidderID int64) string {
	return fmt.Sprintf("bid_cooldown:%s:%d", auctionID, bidderID)
}

// Acquire reports whether the bidder may bid now. When not allowed it also
// returns how long until the cooldown expires.
func (c *Cooldown) Acquire(ctx context.Context, auctionID uuid.UUID, bidderID int64) (bool, time.Duration, error) {
	if c.window <= 0 {
		return true, 0, nil
	}
	res, err := c.script.Run(ctx, c.client, []string{Key(auctionID, bidderID)}, c.window.Milliseconds()).Int64()
	if err != nil {
		return false, 0, fmt.Errorf("failed to execute cooldown script: %w", err)
	}
	return parseResult(res)
}

func parseResult(remainingMs int64) (bool, time.Duration, error) {
	if remainingMs < 0 {
		return false, 0, fmt.Errorf("unexpected cooldown script result %d", remainingMs)
	}
	if remainingMs == 0 {
		return true, 0, nil
	}
	return false, time.Duration(remainingMs) * time.Millisecond, nil
}
