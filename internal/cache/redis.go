package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coinfolio/backend/internal/logger"
)

const keyPrefix = "coinfolio:market:"

// Redis is a Store shared between server instances. Expiry is enforced by
// redis itself through SET ... EX.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// RedisOptions configures the redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedis connects to redis and verifies the connection
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	log := logger.Default().WithComponent("cache")
	log.Info(ctx, "connected to redis", map[string]any{"addr": opts.Addr})
	return &Redis{client: client, ttl: opts.TTL, log: log}, nil
}

func (c *Redis) Close() error {
	return c.client.Close()
}

// Client exposes the underlying client for health checks
func (c *Redis) Client() *redis.Client {
	return c.client
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.log.Debug(ctx, "cache miss", map[string]any{"key": key})
		return nil, false
	}
	if err != nil {
		// A broken cache degrades to a miss.
		c.log.Warn(ctx, "cache get failed", map[string]any{"key": key, "cause": err.Error()})
		return nil, false
	}
	c.log.Debug(ctx, "cache hit", map[string]any{"key": key})
	return val, true
}

func (c *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := c.client.Set(ctx, keyPrefix+key, value, c.ttl).Err(); err != nil {
		c.log.Warn(ctx, "cache set failed", map[string]any{"key": key, "cause": err.Error()})
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}
