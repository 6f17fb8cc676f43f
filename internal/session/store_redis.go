package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV stores entries as <prefix>:<session>:<key> with a TTL refreshed on every write.
type RedisKV struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ KV = (*RedisKV)(nil)

func NewRedisKV(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisKV {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "repairguide"
	}
	return &RedisKV{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *RedisKV) key(session, key string) string {
	return r.prefix + ":" + session + ":" + key
}

func (r *RedisKV) Get(ctx context.Context, session, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.key(session, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisKV) Set(ctx context.Context, session, key, value string) error {
	return r.rdb.Set(ctx, r.key(session, key), value, r.ttl).Err()
}

func (r *RedisKV) Remove(ctx context.Context, session, key string) error {
	return r.rdb.Del(ctx, r.key(session, key)).Err()
}
