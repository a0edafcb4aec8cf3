// Package cache provides the shared Redis client used by the pub/sub bus
// (internal/ipc/pubsub) and the chain engine's response cache
// (internal/chain). It wraps github.com/redis/go-redis/v9 directly; the
// teacher's original wrapper around its own digital.vasic.cache module is
// not a fetchable dependency, so this client talks to go-redis without an
// intermediate layer.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/intellirouter/intellirouter/internal/config"
)

// RedisClient is a thin, JSON-oriented convenience layer over *redis.Client.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient builds a RedisClient from the shared config.RedisConfig.
func NewRedisClient(cfg config.RedisConfig) *RedisClient {
	return &RedisClient{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Host + ":" + cfg.Port,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		}),
	}
}

// Set stores a value with JSON serialization and a TTL. A zero expiration
// means no expiry.
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, expiration).Err()
}

// Get retrieves and deserializes a value. It returns redis.Nil when the key
// is absent, matching go-redis conventions so callers can use errors.Is.
func (r *RedisClient) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

// Delete removes a key.
func (r *RedisClient) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Publish publishes a payload on a channel, used by internal/ipc/pubsub.
func (r *RedisClient) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

// Subscribe subscribes to a channel, used by internal/ipc/pubsub.
func (r *RedisClient) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return r.client.Subscribe(ctx, channel)
}

// Underlying returns the raw go-redis client for operations this wrapper
// does not expose.
func (r *RedisClient) Underlying() *redis.Client {
	return r.client
}

// Ping checks Redis connectivity.
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	return r.client.Close()
}
