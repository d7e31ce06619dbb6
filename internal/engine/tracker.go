package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// streakTTL forgets a streak that has not grown for a month.
const streakTTL = 30 * 24 * time.Hour

// FailureTracker counts consecutive abandoned deliveries per subscription in
// Redis. Any successful delivery resets the count.
type FailureTracker struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

func NewFailureTracker(redisClient *redis.Client, logger *slog.Logger) *FailureTracker {
	return &FailureTracker{redisClient: redisClient, logger: logger}
}

func streakKey(subscriptionID string) string {
	return "wh:streak:" + subscriptionID
}

// RecordAbandoned increments the streak and returns its new length.
func (t *FailureTracker) RecordAbandoned(ctx context.Context, subscriptionID string) (int64, error) {
	key := streakKey(subscriptionID)

	pipe := t.redisClient.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, streakTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incrementing abandoned streak: %w", err)
	}

	n := incr.Val()
	t.logger.Debug("abandoned streak grew", "subscription_id", subscriptionID, "streak", n)
	return n, nil
}

func (t *FailureTracker) Reset(ctx context.Context, subscriptionID string) error {
	if err := t.redisClient.Del(ctx, streakKey(subscriptionID)).Err(); err != nil {
		return fmt.Errorf("resetting abandoned streak: %w", err)
	}
	return nil
}

// Streak returns the current streak, 0 when none is recorded.
func (t *FailureTracker) Streak(ctx context.Context, subscriptionID string) (int64, error) {
	n, err := t.redisClient.Get(ctx, streakKey(subscriptionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading abandoned streak: %w", err)
	}
	return n, nil
}
