package ratelimit

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// incrWindow increments the counter and starts its expiry on the first hit,
// atomically, so concurrent instances share one window per key.
var incrWindow = goredis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)

// RedisLimiter keeps windows in Redis for multi-instance deployments.
type RedisLimiter struct {
	rdb     redisClient
	prefix  string
	size    time.Duration
	ceiling int
}

// NewRedis creates a Redis-backed limiter. Keys are stored under prefix.
func NewRedis(rdb redisClient, prefix string, size time.Duration, ceiling int) *RedisLimiter {
	if prefix == "" {
		prefix = "letterlock:ratelimit:"
	}
	return &RedisLimiter{rdb: rdb, prefix: prefix, size: size, ceiling: ceiling}
}

// Allow admits the request while the window count is within the ceiling.
// Redis failures admit the request: an outage must not block letter generation.
func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	n, err := incrWindow.Run(ctx, l.rdb, []string{l.prefix + key}, l.size.Milliseconds()).Int64()
	if err != nil {
		slog.Warn("rate limiter redis error, admitting request", "error", err)
		return true
	}
	return n <= int64(l.ceiling)
}

// RetryAfter reports the remaining TTL of key's window, or 0 when none is live
// or Redis cannot be reached.
func (l *RedisLimiter) RetryAfter(ctx context.Context, key string) time.Duration {
	ttl, err := l.rdb.PTTL(ctx, l.prefix+key).Result()
	if err != nil || ttl < 0 {
		return 0
	}
	return ttl
}

// redisClient is the subset of *goredis.Client the limiter uses.
type redisClient interface {
	goredis.Scripter
	PTTL(ctx context.Context, key string) *goredis.DurationCmd
}

// Dial connects to Redis at addr and verifies the connection.
func Dial(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
