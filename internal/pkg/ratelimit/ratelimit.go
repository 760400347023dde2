package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketLua refills the bucket stored at KEYS[1] and takes one token if available.
// Returns {allowed, retry_after_ms}.
const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
end
if ts == nil then
  ts = now
end

local elapsed = math.max(0, now - ts)
tokens = math.min(burst, tokens + (elapsed * rate) / 1000.0)

local allowed = 0
local retry_ms = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry_ms = math.ceil((1 - tokens) * 1000.0 / rate)
end

redis.call("HSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))

return {allowed, retry_ms}
`

// Limiter is a Redis token bucket keyed per caller (client IP, email...).
type Limiter struct {
	rdb    *redis.Client
	prefix string
	rate   float64
	burst  float64
	script *redis.Script
	now    func() time.Time
}

// NewLimiter allows burst requests at once and refills rate tokens per second.
// A non-positive rate or burst disables limiting.
func NewLimiter(rdb *redis.Client, prefix string, rate float64, burst float64) *Limiter {
	if prefix == "" {
		prefix = "lesionlog:ratelimit"
	}
	return &Limiter{
		rdb:    rdb,
		prefix: prefix,
		rate:   rate,
		burst:  burst,
		script: redis.NewScript(tokenBucketLua),
		now:    time.Now,
	}
}

// Allow takes one token for key. When denied it reports how long to wait.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l == nil || l.rdb == nil || l.rate <= 0 || l.burst <= 0 {
		return true, 0, nil
	}
	res, err := l.script.Run(ctx, l.rdb, []string{l.prefix + ":" + key}, l.rate, l.burst, l.now().UnixMilli()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}
	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit invalid result %v", res)
	}
	allowed := toInt64(values[0]) == 1
	retry := time.Duration(toInt64(values[1])) * time.Millisecond
	return allowed, retry, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
