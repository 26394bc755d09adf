package cache

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayProxy/internal/pkg/config"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

var client *redis.Client

// SetupCache connects to the Redis server backing the rate limiter and the job queue
func SetupCache(cfg config.Cache) {
	client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to Redis at %s: %v", cfg.Addr(), err)
	} else {
		log.Infof("[Cache] Successfully connected to Redis: %s", pong)
	}
}

// SetClient replaces the client, for tests against miniature Redis servers
func SetClient(c *redis.Client) {
	client = c
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	return client
}

// Ping checks the connection for the health endpoint
func Ping(ctx context.Context) error {
	return client.Ping(ctx).Err()
}

// Set stores a value in the cache with the given key and expiration time
func Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value from the cache by key
func Get(ctx context.Context, key string) (string, error) {
	return client.Get(ctx, key).Result()
}

// Delete removes a value from the cache by key
func Delete(ctx context.Context, key string) error {
	return client.Del(ctx, key).Err()
}
