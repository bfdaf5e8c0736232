// Package cache provides the redis client and the string cache built on top of it.
package cache

import (
	"context"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
)

// Config is the required properties to use redis.
type Config struct {
	Address  string
	Password string
	DB       int
}

// Open creates a redis client and checks it can be reached.
func Open(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewStringCache returns a cache storing string values in redis, expiring entries after ttl.
func NewStringCache(client *redis.Client, ttl time.Duration) *cache.Cache[string] {
	redisStore := redisstore.NewRedis(client, store.WithExpiration(ttl))
	return cache.New[string](redisStore)
}
