package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aitextbook/backend-go/internal/knowledge"
	"github.com/aitextbook/backend-go/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const historyKeyPrefix = "chat:history:"

// HistoryCache 基于Redis的最近对话轮次缓存
//
// 只是数据库的加速层：Redis不可用或未命中时返回nil，调用方退回
// 数据库读取，任何缓存故障都不会影响问答
type HistoryCache struct {
	redis  *redis.Client
	window int
	ttl    time.Duration
	logger *zap.Logger
}

// NewHistoryCache 创建历史缓存，client为nil时所有操作降级为no-op
func NewHistoryCache(client *redis.Client, window int, ttl time.Duration) *HistoryCache {
	if window <= 0 {
		window = 10
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &HistoryCache{
		redis:  client,
		window: window,
		ttl:    ttl,
		logger: logger.Named("history_cache"),
	}
}

func historyKey(sessionID uint) string {
	return fmt.Sprintf("%s%d", historyKeyPrefix, sessionID)
}

// Recent 读取最近的对话轮次，未命中或出错返回nil
func (c *HistoryCache) Recent(ctx context.Context, sessionID uint) []knowledge.Turn {
	if c.redis == nil {
		return nil
	}

	raw, err := c.redis.LRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err != nil {
		c.logger.Debug("history cache read failed", zap.Error(err))
		return nil
	}
	if len(raw) == 0 {
		return nil
	}

	turns := make([]knowledge.Turn, 0, len(raw))
	for _, item := range raw {
		var turn knowledge.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			// 缓存内容损坏，整体放弃，走数据库
			c.logger.Warn("corrupt history cache entry, dropping cache",
				zap.Uint("session_id", sessionID))
			c.redis.Del(ctx, historyKey(sessionID))
			return nil
		}
		turns = append(turns, turn)
	}
	return turns
}

// Append 追加对话轮次并裁剪到窗口大小
func (c *HistoryCache) Append(ctx context.Context, sessionID uint, turns ...knowledge.Turn) {
	if c.redis == nil || len(turns) == 0 {
		return
	}

	key := historyKey(sessionID)
	values := make([]interface{}, 0, len(turns))
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			continue
		}
		values = append(values, string(data))
	}
	if len(values) == 0 {
		return
	}

	pipe := c.redis.Pipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-c.window), -1)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Debug("history cache write failed", zap.Error(err))
	}
}
