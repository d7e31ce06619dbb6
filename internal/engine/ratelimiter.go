package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a per-tenant sliding-window limiter shared by every API
// replica through Redis. Each request is a member of a sorted set scored by
// its timestamp; the script trims, counts and admits atomically.
type RateLimiter struct {
	redisClient *redis.Client
	window      time.Duration
	logger      *slog.Logger
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window + 1000)
    return 1
end
return 0
`)

// NewRateLimiter returns a limiter counting requests over window.
func NewRateLimiter(redisClient *redis.Client, window time.Duration, logger *slog.Logger) *RateLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		redisClient: redisClient,
		window:      window,
		logger:      logger,
	}
}

func rlKey(ownerID string) string {
	return "rl:tenant:" + ownerID
}

// Allow reports whether ownerID may make another request. limit <= 0 means
// unlimited. Redis errors fail open.
func (rl *RateLimiter) Allow(ctx context.Context, ownerID string, limit int) bool {
	if limit <= 0 {
		return true
	}

	now := time.Now().UnixMilli()
	result, err := slidingWindowScript.Run(ctx, rl.redisClient, []string{rlKey(ownerID)},
		now, rl.window.Milliseconds(), limit, uuid.NewString(),
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "owner_id", ownerID)
		return true
	}

	if result == 0 {
		rl.logger.Debug("rate limited", "owner_id", ownerID, "limit", limit)
		return false
	}
	return true
}
