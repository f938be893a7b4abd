package utils

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	// RedisClient is the shared Redis connection. Callers must treat a
	// nil client as "cache disabled": every helper fails soft.
	RedisClient *redis.Client
	ctx         = context.Background()
)

// InitRedis initializes the Redis client from REDIS_HOST/REDIS_PORT
func InitRedis() error {
	redisHost := os.Getenv("REDIS_HOST")
	if redisHost == "" {
		redisHost = "localhost"
	}

	redisPort := os.Getenv("REDIS_PORT")
	if redisPort == "" {
		redisPort = "6379"
	}

	addr := fmt.Sprintf("%s:%s", redisHost, redisPort)

	RedisClient = redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		RedisClient = nil
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

// CacheSet stores a value in Redis with expiration
func CacheSet(key string, value string, expiration time.Duration) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return RedisClient.Set(ctx, key, value, expiration).Err()
}

// CacheGet retrieves a value from Redis
func CacheGet(key string) (string, error) {
	if RedisClient == nil {
		return "", fmt.Errorf("Redis client not initialized")
	}
	val, err := RedisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("key not found")
	}
	return val, err
}

// CacheDelete removes a key from Redis
func CacheDelete(key string) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return RedisClient.Del(ctx, key).Err()
}

// CacheExists checks if a key exists in Redis
func CacheExists(key string) (bool, error) {
	if RedisClient == nil {
		return false, fmt.Errorf("Redis client not initialized")
	}
	count, err := RedisClient.Exists(ctx, key).Result()
	return count > 0, err
}

// CacheIncrement atomically increments a counter key, setting its TTL on
// first write. Used for per-tenant API request counting.
func CacheIncrement(key string, ttl time.Duration) (int64, error) {
	if RedisClient == nil {
		return 0, fmt.Errorf("Redis client not initialized")
	}
	count, err := RedisClient.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		RedisClient.Expire(ctx, key, ttl)
	}
	return count, nil
}

// GetRedisClient returns the Redis client instance (for advanced operations)
func GetRedisClient() *redis.Client {
	return RedisClient
}

// CloseRedis closes the Redis connection
func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}
