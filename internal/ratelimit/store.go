package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore holds scope-keyed counters with atomic increment
// semantics. Counters are created lazily on first increment and expire
// with their window's natural boundary.
type CounterStore interface {
	// Incr adds delta (which may be negative, for rollback) and
	// returns the new value. A zero expireAt leaves the key without a
	// TTL.
	Incr(ctx context.Context, key string, delta int64, expireAt time.Time) (int64, error)
	IncrFloat(ctx context.Context, key string, delta float64, expireAt time.Time) (float64, error)
	Get(ctx context.Context, key string) (int64, error)
	GetFloat(ctx context.Context, key string) (float64, error)
}

type RedisCounterStore struct {
	client *redis.Client
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string, delta int64, expireAt time.Time) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	if !expireAt.IsZero() {
		pipe.PExpireAt(ctx, key, expireAt)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis IncrBy failed: %w", err)
	}
	return incr.Val(), nil
}

func (s *RedisCounterStore) IncrFloat(ctx context.Context, key string, delta float64, expireAt time.Time) (float64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.IncrByFloat(ctx, key, delta)
	if !expireAt.IsZero() {
		pipe.PExpireAt(ctx, key, expireAt)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis IncrByFloat failed: %w", err)
	}
	return incr.Val(), nil
}

func (s *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis Get failed: %w", err)
	}
	return val, nil
}

func (s *RedisCounterStore) GetFloat(ctx context.Context, key string) (float64, error) {
	val, err := s.client.Get(ctx, key).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis Get failed: %w", err)
	}
	return val, nil
}
