// Package lock provides a Redis lease used to keep scheduled tasks from
// overlapping across replicas.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease taken over by another replica is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker grants leases with SET NX PX.
type RedisLocker struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisLocker creates a RedisLocker. Keys are stored under prefix.
func NewRedisLocker(client *redis.Client, prefix string, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, prefix: prefix, logger: logger.With("component", "redis-lock")}
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + name
}

// TryLock takes the lease named key for ttl. ok is false when another holder
// has it. The returned release is a no-op once the lease expired.
func (l *RedisLocker) TryLock(
	ctx context.Context,
	key string,
	ttl time.Duration,
) (func(context.Context) error, bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	ok, err := l.client.SetNX(ctx, l.key(key), token, ttl).Result()
	if err != nil {
		l.logger.Error("Redis lock acquire error", "key", key, "error", err)
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		l.logger.Debug("Redis lock busy", "key", key)
		return nil, false, nil
	}
	l.logger.Debug("Redis lock acquired", "key", key, "ttl", ttl)

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{l.key(key)}, token).Int()
		if err != nil {
			return fmt.Errorf("release %s: %w", key, err)
		}
		if n == 0 {
			l.logger.Warn("Redis lock expired before release", "key", key)
		}
		return nil
	}
	return release, true, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
