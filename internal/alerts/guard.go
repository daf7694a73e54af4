package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	guardKeyPrefix = "returnradar:alerts:"
	guardTTL       = 26 * time.Hour
)

// RunGuard claims a day's alert run so that only one instance performs it.
type RunGuard interface {
	Acquire(ctx context.Context, day time.Time) (bool, error)
}

// LocalGuard always grants the run; the scheduler's own bookkeeping keeps a
// single process to one run per day.
type LocalGuard struct{}

func (LocalGuard) Acquire(context.Context, time.Time) (bool, error) {
	return true, nil
}

type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisGuard claims the day with SET NX across every instance sharing the
// Redis server.
type RedisGuard struct {
	client setNXer
	owner  string
}

func NewRedisGuard(client setNXer, owner string) *RedisGuard {
	return &RedisGuard{client: client, owner: owner}
}

// NewRedisGuardFromURL connects to the Redis server at url.
func NewRedisGuardFromURL(url, owner string) (*RedisGuard, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return NewRedisGuard(client, owner), client, nil
}

func GuardKey(day time.Time) string {
	return guardKeyPrefix + day.UTC().Format("2006-01-02")
}

func (g *RedisGuard) Acquire(ctx context.Context, day time.Time) (bool, error) {
	ok, err := g.client.SetNX(ctx, GuardKey(day), g.owner, guardTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim alert run: %w", err)
	}
	return ok, nil
}
