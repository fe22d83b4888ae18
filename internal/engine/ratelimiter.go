package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateWindow is the sliding window the per-subscriber limit applies to.
const RateWindow = time.Second

// RateLimiter is a per-subscriber sliding window limiter kept in a Redis
// sorted set, one member per admitted delivery.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
	limit       int
	now         func() time.Time
}

// Drops members outside the window, then admits and records the request if
// the window still has room. Returns 1 when admitted.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, math.floor(window / 1000) + 1)
    return 1
else
    return 0
end
`)

// NewRateLimiter admits up to limit deliveries per subscriber per RateWindow.
// A limit of zero or less disables limiting.
func NewRateLimiter(redisClient *redis.Client, limit int, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
		limit:       limit,
		now:         time.Now,
	}
}

func rlKey(subscriberID int64) string {
	return fmt.Sprintf("rl:%d", subscriberID)
}

// Limit returns the configured deliveries per window.
func (rl *RateLimiter) Limit() int {
	return rl.limit
}

// Allow reports whether a delivery to this subscriber fits in the window.
func (rl *RateLimiter) Allow(ctx context.Context, subscriberID int64) bool {
	if rl.limit <= 0 {
		return true
	}

	now := rl.now().UnixMilli()
	result, err := rl.script.Run(ctx, rl.redisClient, []string{rlKey(subscriberID)},
		now, RateWindow.Milliseconds(), rl.limit, uuid.NewString(),
	).Int64()
	if err != nil {
		// Fail open when Redis is unavailable
		rl.logger.Error("rate limiter script failed", "error", err, "subscriber_id", subscriberID)
		return true
	}

	if result == 0 {
		rl.logger.Debug("rate limited", "subscriber_id", subscriberID, "limit", rl.limit)
		return false
	}
	return true
}
