package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisKeyPrefix namespaces session keys in a shared redis
const RedisKeyPrefix = "sess:"

// maxSessionSize bounds a single encoded session
const maxSessionSize = 4 * 1024 * 1024

// RedisStore keeps sessions in redis as JSON strings with a native TTL
type RedisStore struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// RedisOptions configures a redis session store
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedisStore creates a store backed by a new client
func NewRedisStore(opts RedisOptions, logger *zap.SugaredLogger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	return NewRedisStoreFromClient(client, logger)
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client, logger *zap.SugaredLogger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisStore{client: client, logger: logger}
}

func redisKey(id string) string {
	return RedisKeyPrefix + id
}

// Ping tests the Redis connection
func (rs *RedisStore) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

func (rs *RedisStore) Get(ctx context.Context, id string) (map[string]interface{}, error) {
	data, err := rs.client.Get(ctx, redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	var values map[string]interface{}
	if err := json.Unmarshal(data, &values); err != nil {
		rs.logger.Errorf("Failed to unmarshal session %s: %v", id, err)
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return values, nil
}

func (rs *RedisStore) Set(ctx context.Context, id string, values map[string]interface{}, ttl time.Duration) error {
	data, err := json.Marshal(values)
	if err != nil {
		rs.logger.Errorf("Failed to marshal session %s: %v", id, err)
		return fmt.Errorf("failed to encode session %s: %w", id, err)
	}

	if len(data) > maxSessionSize {
		rs.logger.Warnf("Session %s exceeds size limit (%d bytes > %d bytes), rejecting", id, len(data), maxSessionSize)
		return fmt.Errorf("session size %d bytes exceeds maximum allowed size %d bytes", len(data), maxSessionSize)
	}

	if err := rs.client.Set(ctx, redisKey(id), data, effectiveTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("failed to save session %s: %w", id, err)
	}
	return nil
}

func (rs *RedisStore) Destroy(ctx context.Context, id string) error {
	if err := rs.client.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to destroy session %s: %w", id, err)
	}
	return nil
}

func (rs *RedisStore) Touch(ctx context.Context, id string, ttl time.Duration) error {
	ok, err := rs.client.Expire(ctx, redisKey(id), effectiveTTL(ttl)).Result()
	if err != nil {
		return fmt.Errorf("failed to touch session %s: %w", id, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Close closes the Redis connection
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
