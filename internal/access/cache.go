package access

import (
	"context"
	"encoding/json"
	"time"

	"go-annotation-service/pkg/cache"
	"go-annotation-service/pkg/config"
	"go-annotation-service/pkg/logger"

	"go.uber.org/zap"
)

// 缓存值 结论加上得出结论时的存储类型
type CacheEntry struct {
	Status      Status `json:"status"`
	StorageType string `json:"storage_type"`
}

// Cache 短生命周期的访问结论缓存
// 所有操作尽力而为 缓存自身的故障只记录 绝不让访问检查对终端用户报错
type Cache struct {
	store      cache.Store
	prefix     string
	verdictTTL time.Duration
	indexTTL   time.Duration
}

func NewCache(store cache.Store) *Cache {
	cfg := config.GlobalConfig.AccessCache
	verdictTTL := cfg.VerdictTTL
	if verdictTTL <= 0 {
		verdictTTL = time.Hour
	}
	indexTTL := cfg.IndexTTL
	if indexTTL <= 0 {
		indexTTL = 2 * time.Hour
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "annot:access:"
	}
	return &Cache{
		store:      store,
		prefix:     prefix,
		verdictTTL: verdictTTL,
		indexTTL:   indexTTL,
	}
}

// 结论key: prefix + sessionID + "_" + fileID [+ "_" + token]
func (c *Cache) verdictKey(fileID, sessionID, token string) string {
	key := c.prefix + sessionID + "_" + fileID
	if token != "" {
		key += "_" + token
	}
	return key
}

// 按文件的key索引 用于整体失效
func (c *Cache) indexKey(fileID string) string {
	return c.prefix + "idx_" + fileID
}

// Get 命中返回缓存的结论 未命中或缓存故障返回false
func (c *Cache) Get(ctx context.Context, fileID, sessionID, token string) (CacheEntry, bool) {
	key := c.verdictKey(fileID, sessionID, token)
	val, found, err := c.store.Get(ctx, key)
	if err != nil {
		logger.L.Warn("access cache get failed", zap.String("key", key), zap.Error(err))
		return CacheEntry{}, false
	}
	if !found {
		return CacheEntry{}, false
	}
	var entry CacheEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		logger.L.Warn("access cache entry corrupted", zap.String("key", key), zap.Error(err))
		return CacheEntry{}, false
	}
	return entry, true
}

// Set 写入结论并把key追加到该文件的索引 索引TTL每次写入刷新
func (c *Cache) Set(ctx context.Context, fileID, sessionID, token string, status Status, storageType string) {
	key := c.verdictKey(fileID, sessionID, token)
	data, err := json.Marshal(CacheEntry{Status: status, StorageType: storageType})
	if err != nil {
		logger.L.Warn("access cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, string(data), c.verdictTTL); err != nil {
		logger.L.Warn("access cache set failed", zap.String("key", key), zap.Error(err))
		return
	}

	idx := c.indexKey(fileID)
	if err := c.store.SAdd(ctx, idx, key); err != nil {
		logger.L.Warn("access cache index add failed", zap.String("key", idx), zap.Error(err))
		return
	}
	if err := c.store.Expire(ctx, idx, c.indexTTL); err != nil {
		logger.L.Warn("access cache index expire failed", zap.String("key", idx), zap.Error(err))
	}
}

// Clear 删除单个结论key
func (c *Cache) Clear(ctx context.Context, fileID, sessionID, token string) {
	key := c.verdictKey(fileID, sessionID, token)
	if err := c.store.Del(ctx, key); err != nil {
		logger.L.Warn("access cache clear failed", zap.String("key", key), zap.Error(err))
	}
}

// ClearAll 读取文件的key索引 删除其中全部结论 再清空索引
// 分享关系变化后由外部触发
func (c *Cache) ClearAll(ctx context.Context, fileID string) {
	idx := c.indexKey(fileID)
	keys, err := c.store.SMembers(ctx, idx)
	if err != nil {
		logger.L.Warn("access cache index read failed", zap.String("key", idx), zap.Error(err))
		return
	}
	if len(keys) > 0 {
		if err := c.store.Del(ctx, keys...); err != nil {
			logger.L.Warn("access cache bulk delete failed", zap.String("fileID", fileID), zap.Error(err))
		}
	}
	if err := c.store.Del(ctx, idx); err != nil {
		logger.L.Warn("access cache index delete failed", zap.String("key", idx), zap.Error(err))
	}
}
