package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown grants a key once per window using SETNX with a TTL.
// Used to mail at most one password reset link per address per window.
type Cooldown struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCooldown 创建冷却器，key 以 prefix 为前缀，ttl 为冷却时长。
func NewCooldown(rdb *redis.Client, prefix string, ttl time.Duration) *Cooldown {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if prefix == "" {
		prefix = "lesionlog:cooldown"
	}
	return &Cooldown{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Acquire returns false when key was already acquired inside the window.
func (c *Cooldown) Acquire(ctx context.Context, key string) (bool, error) {
	if c == nil || c.rdb == nil || key == "" {
		return true, nil
	}
	ok, err := c.rdb.SetNX(ctx, c.redisKey(key), "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown setnx: %w", err)
	}
	return ok, nil
}

// Release drops the key so a failed delivery can be retried immediately.
func (c *Cooldown) Release(ctx context.Context, key string) error {
	if c == nil || c.rdb == nil || key == "" {
		return nil
	}
	if err := c.rdb.Del(ctx, c.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("cooldown del: %w", err)
	}
	return nil
}

func (c *Cooldown) redisKey(key string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(key))))
	return c.prefix + ":" + hex.EncodeToString(sum[:])
}
