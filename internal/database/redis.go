package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/config"
)

// NewRedisClient dials Redis, which backs the paper cache, run snapshots,
// rate limits, sessions, worker queues and chat fan-out.
func NewRedisClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	// Blocking queue pops hold a connection for their whole timeout.
	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = 10 * time.Second
	}

	rdb := redis.NewClient(opt)
	err = connectWithRetry(ctx, log, "redis", cfg.ConnectAttempts, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Int("pool_size", opt.PoolSize).
		Msg("Redis connected")
	return rdb, nil
}
