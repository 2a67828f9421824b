package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window keys expire shortly after the second they cover so dead keys do not
// accumulate between reserve bursts.
const redisKeyTTLSeconds = 2

// redisCountScript increments the per-second counter and sets its expiry on
// first use, atomically.
var redisCountScript = redis.NewScript(`local n = redis.call("INCR", KEYS[1])
if n == 1 then redis.call("EXPIRE", KEYS[1], ARGV[1]) end
return n`)

// RedisLimiter is a fixed one-second-window limiter shared across server
// instances through a single Redis counter per key and second.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: strings.TrimSpace(prefix)}
}

// Allow consumes one slot from the window containing now. Errors are returned
// to the caller so the manager can fall back to the in-memory backend.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error) {
	if l == nil || l.client == nil || limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}

	sec := now.Unix()
	reset := time.Unix(sec+1, 0).UTC()

	res, errEval := redisCountScript.Run(ctx, l.client, []string{l.windowKey(key, sec)}, redisKeyTTLSeconds).Int64()
	if errEval != nil {
		return Result{}, fmt.Errorf("rate limit redis: %w", errEval)
	}

	if res > int64(limit) {
		return Result{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	remaining := limit - int(res)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining, Reset: reset}, nil
}

func (l *RedisLimiter) windowKey(key string, sec int64) string {
	if l.prefix == "" {
		return fmt.Sprintf("%s:%d", key, sec)
	}
	return fmt.Sprintf("%s:%s:%d", l.prefix, key, sec)
}
