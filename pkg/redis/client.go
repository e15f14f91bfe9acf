package redis

import (
	"context"
	"fmt"

	pkglogger "github.com/libreviews/revdal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Options configures the Redis connection used for run locks.
type Options struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewClient Redis 클라이언트 생성
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	// 연결 테스트
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	pkglogger.GetLogger().Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Redis client connected")
	return client, nil
}
