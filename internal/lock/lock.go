// Package lock keeps two runs from writing the same target namespace at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/libreviews/revdal/internal/common"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a crashed run keeps the lock.
const DefaultTTL = 2 * time.Hour

// Key returns the lock key for a target table prefix.
func Key(prefix string) string {
	if prefix == "" {
		prefix = "default"
	}
	return "revdal:lock:" + prefix
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires named locks. Acquire returns common.ErrLocked when the
// lock is held by someone else.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Noop grants every lock. Used when no Redis is configured.
type Noop struct{}

func (Noop) Acquire(context.Context, string) (Lease, error) { return noopLease{}, nil }

type noopLease struct{}

func (noopLease) Release(context.Context) error { return nil }

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis implements Locker with SET NX and a token-checked delete.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis creates a Redis locker. A ttl <= 0 uses DefaultTTL.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Acquire(ctx context.Context, key string) (Lease, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, &common.ConnectivityError{Store: "lock", Err: err}
	}
	if !ok {
		holder, _ := r.client.Get(ctx, key).Result()
		return nil, fmt.Errorf("%w: %s held by %s", common.ErrLocked, key, holder)
	}
	return &redisLease{client: r.client, key: key, token: token}, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

// errLost means the lock expired or was taken over before release.
var errLost = errors.New("lock lost before release")

func (l *redisLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("release %s: %w", l.key, errLost)
	}
	return nil
}
