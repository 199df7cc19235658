package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RedisConfig holds the connection settings for Redis
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and pings it
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logrus.Infof("Connected to Redis at %s", addr)
	return client, nil
}

// adjustIfCached only moves counters that are already cached, so a cold key
// is filled from the store instead of starting at zero
var adjustIfCached = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	local v = redis.call("INCRBY", KEYS[1], ARGV[1])
	if v < 0 then
		redis.call("SET", KEYS[1], 0, "KEEPTTL")
		v = 0
	end
	return v
end
return -1
`)

// RedisCounter caches per-tenant account counts in Redis
type RedisCounter struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCounter creates a counter whose entries expire after ttl
func NewRedisCounter(client *redis.Client, ttl time.Duration) *RedisCounter {
	return &RedisCounter{client: client, ttl: ttl}
}

func countKey(tenantID uuid.UUID) string {
	return "tenant:" + tenantID.String() + ":accounts"
}

// Increment adds one account to a cached count
func (rc *RedisCounter) Increment(ctx context.Context, tenantID uuid.UUID) error {
	return adjustIfCached.Run(ctx, rc.client, []string{countKey(tenantID)}, 1).Err()
}

// Decrement removes one account from a cached count
func (rc *RedisCounter) Decrement(ctx context.Context, tenantID uuid.UUID) error {
	return adjustIfCached.Run(ctx, rc.client, []string{countKey(tenantID)}, -1).Err()
}

// Set stores an authoritative count
func (rc *RedisCounter) Set(ctx context.Context, tenantID uuid.UUID, count int64) error {
	return rc.client.Set(ctx, countKey(tenantID), count, rc.ttl).Err()
}

// Get returns the cached count and whether it was present
func (rc *RedisCounter) Get(ctx context.Context, tenantID uuid.UUID) (int64, bool, error) {
	n, err := rc.client.Get(ctx, countKey(tenantID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// Reset drops the cached count
func (rc *RedisCounter) Reset(ctx context.Context, tenantID uuid.UUID) error {
	return rc.client.Del(ctx, countKey(tenantID)).Err()
}
