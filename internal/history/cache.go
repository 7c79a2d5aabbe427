package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codewitgabi/skill-barter-sync/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// PageResult is one cached history page.
type PageResult struct {
	Messages   []domain.Message `json:"messages"`
	NextCursor string           `json:"next_cursor"`
	HasMore    bool             `json:"has_more"`
}

// PageCache caches paginated history pages. Only pages behind a cursor are
// cached; the newest page changes on every send and always goes to the
// database.
type PageCache interface {
	Get(ctx context.Context, key string) (*PageResult, error)
	Set(ctx context.Context, key string, result *PageResult, ttl time.Duration) error
	BuildKey(conversationID, cursor, direction string, limit int) string
	Close() error
}

// RedisPageCache stores serialized pages under a key prefix.
type RedisPageCache struct {
	client *redis.Client
	prefix string
}

func NewRedisPageCache(client *redis.Client, prefix string) *RedisPageCache {
	return &RedisPageCache{client: client, prefix: prefix}
}

func (c *RedisPageCache) BuildKey(conversationID, cursor, direction string, limit int) string {
	if cursor == "" {
		cursor = "start"
	}
	return fmt.Sprintf("%s:%s:%s:%s:%d", c.prefix, conversationID, cursor, direction, limit)
}

func (c *RedisPageCache) Get(ctx context.Context, key string) (*PageResult, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var result PageResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return &result, nil
}

func (c *RedisPageCache) Set(ctx context.Context, key string, result *PageResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *RedisPageCache) Close() error {
	return c.client.Close()
}
