package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClient stores encoded responses in Redis so several service
// instances share one response cache. Redis errors are logged and treated
// as misses.
type RedisClient struct {
	client *redis.Client
	ctx    context.Context
	prefix string
	logger *slog.Logger
}

func NewRedisClient(addr, prefix string, logger *slog.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  2 * time.Second,
	})

	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisClient{
		client: client,
		ctx:    ctx,
		prefix: prefix,
		logger: logger,
	}, nil
}

func (r *RedisClient) key(k string) string {
	return r.prefix + k
}

func (r *RedisClient) Get(key string) ([]byte, bool) {
	data, err := r.client.Get(r.ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		r.logger.Warn("redis get failed", "key", key, "error", err)
		return nil, false
	}
	return data, true
}

// Set stores value for ttl. Redis treats a zero expiration as "keep
// forever", so non-positive ttls are not stored at all.
func (r *RedisClient) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		r.Delete(key)
		return
	}
	if err := r.client.Set(r.ctx, r.key(key), value, ttl).Err(); err != nil {
		r.logger.Warn("redis set failed", "key", key, "error", err)
	}
}

func (r *RedisClient) Delete(key string) {
	if err := r.client.Del(r.ctx, r.key(key)).Err(); err != nil {
		r.logger.Warn("redis delete failed", "key", key, "error", err)
	}
}

// Clear removes every key under the client's prefix.
func (r *RedisClient) Clear() {
	iter := r.client.Scan(r.ctx, 0, r.prefix+"*", 500).Iterator()
	var batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.client.Del(r.ctx, batch...).Err(); err != nil {
			r.logger.Warn("redis clear failed", "error", err)
		}
		batch = batch[:0]
	}
	for iter.Next(r.ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			flush()
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("redis scan failed", "error", err)
	}
	flush()
}

func (r *RedisClient) Ping() error {
	return r.client.Ping(r.ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
