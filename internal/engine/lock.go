package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sweepLockKey = "lock:webhook-sweep"

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// SweepLock is a cluster-wide mutex for the retry sweep.
type SweepLock struct {
	redisClient *redis.Client
	key         string
	logger      *slog.Logger
}

func NewSweepLock(redisClient *redis.Client, logger *slog.Logger) *SweepLock {
	return &SweepLock{redisClient: redisClient, key: sweepLockKey, logger: logger}
}

// Acquire takes the lock for at most ttl.
func (l *SweepLock) Acquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()

	ok, err := l.redisClient.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring sweep lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.redisClient, []string{l.key}, token).Err(); err != nil {
			l.logger.Error("failed to release sweep lock", "error", err)
		}
	}
	return release, true, nil
}
