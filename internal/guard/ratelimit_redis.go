package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindow increments the counter and starts its expiry on first use.
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisRateLimiter is a fixed-window limiter shared by every API instance.
type RedisRateLimiter struct {
	client redis.Scripter
	limit  int
	window time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedisRateLimiter creates a limiter storing counters under prefix.
func NewRedisRateLimiter(client redis.Scripter, limit int, window time.Duration, prefix string, logger *slog.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, limit: limit, window: window, prefix: prefix, logger: logger}
}

// Check counts the request against the current window. A Redis error lets
// the request through.
func (rl *RedisRateLimiter) Check(ctx context.Context, key string) Result {
	bucket := time.Now().UnixNano() / int64(rl.window)
	redisKey := fmt.Sprintf("%s:%s:%d", rl.prefix, key, bucket)

	n, err := fixedWindow.Run(ctx, rl.client, []string{redisKey}, rl.window.Milliseconds()).Int64()
	if err != nil {
		rl.logger.Warn("rate limiter unavailable", "key", key, "error", err)
		return Result{Allowed: true}
	}
	if n > int64(rl.limit) {
		return Result{
			Allowed: false,
			Reason:  fmt.Sprintf("rate limit exceeded: %d/%s", rl.limit, rl.window),
			Guard:   "rate_limiter",
		}
	}
	return Result{Allowed: true}
}
