// Package redis provides Redis-based implementations of the store interfaces.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"opsassist/internal/config"
	"opsassist/internal/domain"
	"opsassist/internal/store"
)

// Key prefix for service locks in Redis.
const prefixLock = "lock:service:"

// retryInterval is the pause between acquisition attempts.
const retryInterval = 25 * time.Millisecond

// releaseScript deletes the key only if it still holds our token, so a
// holder whose TTL expired cannot release somebody else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements store.Locker using Redis SET NX PX.
// It serializes grouping decisions across processes sharing the database.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewLocker creates a new Redis-backed locker.
func NewLocker(cfg *config.RedisConfig, logger *slog.Logger) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Locker{
		client: client,
		ttl:    cfg.LockTTL,
		logger: logger.With("component", "redis-locker"),
	}, nil
}

// lockKey generates the Redis key for a service lock.
func lockKey(key string) string {
	return prefixLock + key
}

// Lock blocks until the key is held or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	k := lockKey(key)
	token := uuid.New().String()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w %q: %w", store.ErrLockTimeout, key, ctx.Err())
			}
			return nil, fmt.Errorf("%w: failed to acquire lock: %w", domain.ErrUnavailable, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w %q: %w", store.ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true

		// Release even if the caller's context is already done.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, l.client, []string{k}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("failed to release lock", "key", key, "error", err)
		}
	}, nil
}

// Close closes the Redis client connection.
func (l *Locker) Close() error {
	if l.client != nil {
		return l.client.Close()
	}
	return nil
}
