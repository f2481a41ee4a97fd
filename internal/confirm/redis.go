package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "nlcal:confirm:"

// RedisStore keeps contexts in Redis with a native key expiry, so pending
// confirmations survive restarts and can be shared by several processes.
type RedisStore struct {
	rdb redis.Cmdable
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// DialRedis connects and pings addr.
func DialRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (s *RedisStore) Get(ctx context.Context, session string) (*Context, error) {
	data, err := s.rdb.Get(ctx, redisKeyPrefix+session).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var c Context
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return &c, nil
}

func (s *RedisStore) Put(ctx context.Context, session string, c Context, ttl time.Duration) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+session, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, session string) error {
	if err := s.rdb.Del(ctx, redisKeyPrefix+session).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
