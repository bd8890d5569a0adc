package infra

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis and verifies the connection before
// returning. Used for cancellation signalling, UI event publishing and the
// media queue.
func NewRedisClient(ctx context.Context, cfg *Config) (*goredis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.RedisAddr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return rdb, nil
}
