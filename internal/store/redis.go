package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis connection. Record expiry maps to
// key TTLs, so liveness checks are plain EXISTS calls and never need a
// timestamp comparison.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps an established Redis client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) WriteRecord(ctx context.Context, key string, fields map[string]string) error {
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("store: write record %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) RefreshRecord(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("store: refresh record %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) RecordField(ctx context.Context, key, field string) (string, error) {
	val, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: read record %q: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("store: exists %q: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) SetAdd(ctx context.Context, key, member string) (bool, error) {
	n, err := s.client.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("store: set add %q: %w", key, err)
	}
	return n == 1, nil
}

func (s *RedisStore) SetRemove(ctx context.Context, key, member string) error {
	if err := s.client.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("store: set remove %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetHas(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("store: set has %q: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("store: set members %q: %w", key, err)
	}
	return members, nil
}

func (s *RedisStore) SetCard(ctx context.Context, key string) (int, error) {
	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("store: set card %q: %w", key, err)
	}
	return int(n), nil
}

func (s *RedisStore) ListPush(ctx context.Context, key, value string) error {
	if err := s.client.RPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("store: list push %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) ListTail(ctx context.Context, key string, n int) ([]string, error) {
	vals, err := s.client.LRange(ctx, key, int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list tail %q: %w", key, err)
	}
	return vals, nil
}

func (s *RedisStore) ListLen(ctx context.Context, key string) (int, error) {
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("store: list len %q: %w", key, err)
	}
	return int(n), nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("store: set if absent %q: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("store: delete %q: %w", key, err)
	}
	return n > 0, nil
}
