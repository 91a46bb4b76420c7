package cooldown

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "contactbook:cooldown:"

// Cooldown 用 Redis SET NX 保证同一 key 在窗口期内只放行一次。
type Cooldown struct {
	rdb    *redis.Client
	scope  string
	window time.Duration
}

// New 创建 Cooldown。
//
// 参数:
//   - rdb: Redis 客户端（为 nil 时所有请求放行）
//   - scope: key 命名空间，如 "confirm-email"
//   - window: 冷却时间，<=0 时为 1 分钟
func New(rdb *redis.Client, scope string, window time.Duration) *Cooldown {
	if window <= 0 {
		window = time.Minute
	}
	return &Cooldown{rdb: rdb, scope: scope, window: window}
}

// Claim 尝试占用 key，返回 true 表示窗口期内首次出现。
func (c *Cooldown) Claim(ctx context.Context, key string) (bool, error) {
	if c == nil || c.rdb == nil || key == "" {
		return true, nil
	}
	ok, err := c.rdb.SetNX(ctx, c.redisKey(key), "1", c.window).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown setnx: %w", err)
	}
	return ok, nil
}

// Release 提前结束 key 的冷却（例如任务未能入队）。
func (c *Cooldown) Release(ctx context.Context, key string) error {
	if c == nil || c.rdb == nil || key == "" {
		return nil
	}
	if err := c.rdb.Del(ctx, c.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("cooldown del: %w", err)
	}
	return nil
}

// Remaining 返回 key 剩余冷却时间，未冷却时为 0。
func (c *Cooldown) Remaining(ctx context.Context, key string) (time.Duration, error) {
	if c == nil || c.rdb == nil || key == "" {
		return 0, nil
	}
	ttl, err := c.rdb.PTTL(ctx, c.redisKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("cooldown pttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (c *Cooldown) redisKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return keyPrefix + c.scope + ":" + hex.EncodeToString(sum[:])
}
