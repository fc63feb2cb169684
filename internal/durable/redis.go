package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the durable capability with redis. Keys carry a common
// prefix and a TTL long enough to outlive any workflow run.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

const defaultTTL = 7 * 24 * time.Hour

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "durable:", ttl: defaultTTL}
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

func (s *RedisStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, fmt.Errorf("decode value for %q: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for %q: %w", key, err)
	}
	if err := s.client.Set(ctx, s.key(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value any) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode value for %q: %w", key, err)
	}
	ok, err := s.client.SetNX(ctx, s.key(key), data, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %q: %w", key, err)
	}
	return ok, nil
}

// casScript swaps the value only when the current value matches ARGV[1].
var casScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0
`)

func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, old, new any) (bool, error) {
	if old == nil {
		return s.SetIfAbsent(ctx, key, new)
	}

	oldData, err := json.Marshal(old)
	if err != nil {
		return false, fmt.Errorf("encode old value for %q: %w", key, err)
	}
	newData, err := json.Marshal(new)
	if err != nil {
		return false, fmt.Errorf("encode new value for %q: %w", key, err)
	}

	res, err := casScript.Run(ctx, s.client, []string{s.key(key)},
		string(oldData), string(newData), s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis cas %q: %w", key, err)
	}
	return res == 1, nil
}
