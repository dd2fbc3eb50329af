// Package data provides data access layer implementations.
package data

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"

	"Wayfarer/internal/conf"
)

// NewRedisClient creates a new Redis client with connection pool configuration.
// It returns the client, a cleanup function, and an error.
// Redis is optional: a missing address or a failed ping yields a nil client so
// callers run in degraded mode (no L2 cache, no breaker snapshots).
func NewRedisClient(c *conf.Data, logger log.Logger) (*redis.Client, func(), error) {
	helper := log.NewHelper(logger)

	if c == nil || c.Redis == nil || c.Redis.Addr == "" {
		helper.Warnw("msg", "redis address is empty, running without redis", "type", "cache")
		return nil, func() {}, nil
	}

	network := c.Redis.Network
	if network == "" {
		network = "tcp"
	}

	rdb := redis.NewClient(&redis.Options{
		Network:         network,
		Addr:            c.Redis.Addr,
		Password:        c.Redis.Password,
		DB:              int(c.Redis.Db),
		PoolSize:        50,
		MinIdleConns:    5,
		DialTimeout:     3 * time.Second,
		ReadTimeout:     c.Redis.ReadTimeout.AsDuration(),
		WriteTimeout:    c.Redis.WriteTimeout.AsDuration(),
		ConnMaxIdleTime: 5 * time.Minute,
	})

	// Health check: verify connection with ping
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		helper.Warnw("msg", "failed to connect to redis, running without redis",
			"addr", c.Redis.Addr,
			"error", err.Error(),
			"type", "cache")
		_ = rdb.Close()
		return nil, func() {}, nil
	}

	helper.Infow("msg", "connected to redis", "addr", c.Redis.Addr, "type", "startup")

	cleanup := func() {
		helper.Info("closing redis client")
		if err := rdb.Close(); err != nil {
			helper.Errorf("failed to close redis client: %v", err)
		}
	}

	return rdb, cleanup, nil
}
