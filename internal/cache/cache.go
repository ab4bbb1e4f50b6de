package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tryrack/tryon/pkg/models"
)

// Cache is the caching interface. It carries the fast result cache: a
// short-lived, job-id-keyed holder of generated images that lets a poller see
// a result before the durable upload lands. An absent entry is never itself a
// failure signal. Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)

	SetTryOnResult(ctx context.Context, jobID uuid.UUID, payload models.ImagePayload, ttl time.Duration) error
	GetTryOnResult(ctx context.Context, jobID uuid.UUID) (models.ImagePayload, bool, error)
	DeleteTryOnResult(ctx context.Context, jobID uuid.UUID) error
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) SetTryOnResult(ctx context.Context, jobID uuid.UUID, payload models.ImagePayload, ttl time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal tryon result: %w", err)
	}
	return c.client.Set(ctx, TryOnResultKey(jobID), raw, ttl).Err()
}

func (c *RedisCache) GetTryOnResult(ctx context.Context, jobID uuid.UUID) (models.ImagePayload, bool, error) {
	raw, err := c.client.Get(ctx, TryOnResultKey(jobID)).Bytes()
	if err == redis.Nil {
		return models.ImagePayload{}, false, nil
	}
	if err != nil {
		return models.ImagePayload{}, false, err
	}
	var payload models.ImagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return models.ImagePayload{}, false, fmt.Errorf("unmarshal tryon result: %w", err)
	}
	return payload, true, nil
}

func (c *RedisCache) DeleteTryOnResult(ctx context.Context, jobID uuid.UUID) error {
	return c.client.Del(ctx, TryOnResultKey(jobID)).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
