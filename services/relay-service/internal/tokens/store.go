package tokens

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Provider resolves the registered push token for a user. The user-profile
// store is external to the relay; a missing token is not an error, it just
// means the user cannot be reached while offline.
type Provider interface {
	TokenFor(ctx context.Context, userID string) (string, error)
	Set(ctx context.Context, userID string, token string) error
	Invalidate(ctx context.Context, userID string) error
}

// RedisStore caches device push tokens in Redis, keyed by user id. Clients
// refresh their token on login, so a TTL keeps stale devices from
// accumulating.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "push:token"
	}
	if ttl <= 0 {
		ttl = 60 * 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + ":" + userID
}

func (s *RedisStore) TokenFor(ctx context.Context, userID string) (string, error) {
	token, err := s.rdb.Get(ctx, s.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisStore) Set(ctx context.Context, userID string, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("empty push token")
	}
	return s.rdb.Set(ctx, s.key(userID), token, s.ttl).Err()
}

func (s *RedisStore) Invalidate(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, s.key(userID)).Err()
}

// ReadyCheck pings Redis for /readyz.
func ReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if rdb == nil {
			return errors.New("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
}
