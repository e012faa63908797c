package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/inventory-rag/pkg/utils/json"
)

// QueryCacheConfig 查询缓存配置。
type QueryCacheConfig struct {
	// Enabled 是否启用缓存。
	Enabled bool
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

// CachedAnswer 缓存的回答。
type CachedAnswer struct {
	Answer   string    `json:"answer"`
	CachedAt time.Time `json:"cached_at"`
}

// QueryCache 按租户隔离的回答缓存，租户重建时整体失效。
type QueryCache struct {
	redis  goredis.Cmdable
	config *QueryCacheConfig
}

// NewQueryCache 创建查询缓存实例，redis 为空时缓存不生效。
func NewQueryCache(redis goredis.Cmdable, config *QueryCacheConfig) *QueryCache {
	if config == nil {
		config = &QueryCacheConfig{
			Enabled:   false,
			TTL:       10 * time.Minute,
			KeyPrefix: "inventory:answer:",
		}
	}
	return &QueryCache{
		redis:  redis,
		config: config,
	}
}

func (c *QueryCache) enabled() bool {
	return c != nil && c.config.Enabled && c.redis != nil
}

// tenantPrefix 返回租户的键前缀。
func (c *QueryCache) tenantPrefix(tenantID string) string {
	return c.config.KeyPrefix + tenantID + ":"
}

// cacheKey 基于规范化后的问题生成缓存键（SHA256）。
func (c *QueryCache) cacheKey(tenantID, question string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(question), " "))
	hash := sha256.Sum256([]byte(normalized))
	return c.tenantPrefix(tenantID) + hex.EncodeToString(hash[:])
}

// Get 读取缓存，未命中返回 nil, nil。
func (c *QueryCache) Get(ctx context.Context, tenantID, question string) (*CachedAnswer, error) {
	if !c.enabled() {
		return nil, nil
	}

	key := c.cacheKey(tenantID, question)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			logger.Debugw("answer cache miss", "tenant_id", tenantID, "key", key)
			return nil, nil
		}
		logger.Warnw("failed to get from answer cache", "error", err.Error(), "key", key)
		return nil, err
	}

	var cached CachedAnswer
	if err := json.Unmarshal(data, &cached); err != nil {
		logger.Warnw("failed to unmarshal cached answer", "error", err.Error(), "key", key)
		// 删除损坏的缓存
		_ = c.redis.Del(ctx, key).Err()
		return nil, err
	}

	logger.Debugw("answer cache hit", "tenant_id", tenantID, "key", key)
	return &cached, nil
}

// Set 写入缓存。
func (c *QueryCache) Set(ctx context.Context, tenantID, question, answer string) error {
	if !c.enabled() {
		return nil
	}

	data, err := json.Marshal(&CachedAnswer{Answer: answer, CachedAt: time.Now()})
	if err != nil {
		return err
	}

	key := c.cacheKey(tenantID, question)
	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		logger.Warnw("failed to set answer cache", "error", err.Error(), "key", key)
		return err
	}
	return nil
}

// InvalidateTenant 删除租户的全部缓存回答，返回删除数量。
func (c *QueryCache) InvalidateTenant(ctx context.Context, tenantID string) (int, error) {
	if !c.enabled() {
		return 0, nil
	}

	pattern := c.tenantPrefix(tenantID) + "*"
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()

	deleted := 0
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("failed to delete cache key", "error", err.Error(), "key", iter.Val())
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		logger.Warnw("error during cache scan", "error", err.Error(), "tenant_id", tenantID)
		return deleted, err
	}

	logger.Infow("invalidated answer cache", "tenant_id", tenantID, "deleted_count", deleted)
	return deleted, nil
}
