package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codewitgabi/skill-barter-sync/internal/domain"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// redisStore implements PresenceStore using Redis.
//
// Key pattern:
// presence:user:{user_id}  HASH
//   - online:    "1" | "0"
//   - last_seen: unix millis
type redisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed presence store.
func NewRedisStore(cfg RedisConfig) (PresenceStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &redisStore{client: client}, nil
}

func presenceKey(userID string) string {
	return fmt.Sprintf("presence:user:%s", userID)
}

func (s *redisStore) SetOnline(ctx context.Context, userID string, ttl time.Duration) (domain.PresenceRecord, error) {
	now := time.Now().UnixMilli()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, presenceKey(userID), map[string]interface{}{
		"online":    "1",
		"last_seen": strconv.FormatInt(now, 10),
	})
	pipe.Expire(ctx, presenceKey(userID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.PresenceRecord{}, err
	}

	return domain.PresenceRecord{UserID: userID, Online: true, LastSeen: now}, nil
}

func (s *redisStore) SetOffline(ctx context.Context, userID string) (domain.PresenceRecord, error) {
	now := time.Now().UnixMilli()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, presenceKey(userID), map[string]interface{}{
		"online":    "0",
		"last_seen": strconv.FormatInt(now, 10),
	})
	pipe.Persist(ctx, presenceKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.PresenceRecord{}, err
	}

	return domain.PresenceRecord{UserID: userID, Online: false, LastSeen: now}, nil
}

func (s *redisStore) Get(ctx context.Context, userID string) (domain.PresenceRecord, error) {
	result, err := s.client.HGetAll(ctx, presenceKey(userID)).Result()
	if err != nil {
		return domain.PresenceRecord{}, err
	}
	return recordFromHash(userID, result), nil
}

func (s *redisStore) GetMany(ctx context.Context, userIDs []string) (map[string]domain.PresenceRecord, error) {
	records := make(map[string]domain.PresenceRecord, len(userIDs))
	if len(userIDs) == 0 {
		return records, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(userIDs))
	for _, id := range userIDs {
		cmds[id] = pipe.HGetAll(ctx, presenceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	for id, cmd := range cmds {
		records[id] = recordFromHash(id, cmd.Val())
	}
	return records, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

// recordFromHash maps a redis hash to a record. A missing or empty hash is
// an offline record with zero last-seen.
func recordFromHash(userID string, hash map[string]string) domain.PresenceRecord {
	record := domain.PresenceRecord{UserID: userID}
	if len(hash) == 0 {
		return record
	}

	record.Online = hash["online"] == "1"
	if raw, ok := hash["last_seen"]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			record.LastSeen = ms
		}
	}
	return record
}
