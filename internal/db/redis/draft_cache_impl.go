package redisdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stratflow/internal/domain/strategy/port"
	applog "stratflow/internal/platform/log"
)

const defaultDraftPrefix = "stratflow:draft:"

// DraftCache 构建器会话草稿 Redis 缓存
type DraftCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

var _ port.DraftCache = (*DraftCache)(nil)

// NewDraftCache 创建草稿缓存
func NewDraftCache(rdb *redis.Client, ttlSeconds int) *DraftCache {
	ttl := 24 * time.Hour
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &DraftCache{
		redis:  rdb,
		ttl:    ttl,
		prefix: defaultDraftPrefix,
	}
}

// SaveDraft 覆盖写入草稿并刷新 TTL
func (c *DraftCache) SaveDraft(ctx context.Context, d *port.Draft) error {
	if d == nil || d.SessionID == "" {
		return fmt.Errorf("draft session id is required")
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now()
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := c.redis.Set(ctx, c.key(d.SessionID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("save draft %s: %w", d.SessionID, err)
	}
	return nil
}

// LoadDraft 读取草稿，不存在返回 (nil, nil)
func (c *DraftCache) LoadDraft(ctx context.Context, sessionID string) (*port.Draft, error) {
	data, err := c.redis.Get(ctx, c.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load draft %s: %w", sessionID, err)
	}

	var d port.Draft
	if err := json.Unmarshal(data, &d); err != nil {
		// 损坏的草稿直接丢弃
		applog.Warn("[Builder/Draft] Failed to unmarshal cached draft", "session_id", sessionID, "error", err)
		c.redis.Del(ctx, c.key(sessionID))
		return nil, nil
	}
	applog.Debug("[Builder/Draft] Hit", "session_id", sessionID)
	return &d, nil
}

// DeleteDraft 删除草稿
func (c *DraftCache) DeleteDraft(ctx context.Context, sessionID string) error {
	return c.redis.Del(ctx, c.key(sessionID)).Err()
}

func (c *DraftCache) key(sessionID string) string {
	return c.prefix + sessionID
}
