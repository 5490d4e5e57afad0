// Package statestore abstracts the remote key/value service that backs the
// response cache, the API-key registry, and the rate limiter. It exposes a
// "fallback" flag so callers can distinguish "the backend is down" from
// "the key genuinely doesn't exist".
package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("statestore: key not found")

// StateStore is the contract every component (CacheStore, KeyRegistry,
// RateLimiter, AdminInvalidator) depends on instead of talking to Redis
// directly.
type StateStore interface {
	// Get returns the string value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value at key with the given TTL (0 means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes one or more keys; missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Incr atomically increments the integer at key (treating a missing key
	// as 0) and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets a TTL on an existing key, replacing any TTL it already
	// has. It is a no-op if the key is missing.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// SAdd adds members to the set at key.
	SAdd(ctx context.Context, key string, members ...string) error
	// SRem removes members from the set at key.
	SRem(ctx context.Context, key string, members ...string) error
	// SMembers returns all members of the set at key.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Scan performs a cursor-based iteration over keys matching pattern,
	// calling fn for each key. It must never use a blocking KEYS primitive.
	Scan(ctx context.Context, pattern string, count int64, fn func(key string) error) error

	// Fallback reports whether this store is operating in degraded
	// (backend unreachable) mode. Callers treat this as "treat every read
	// as a miss, never write" for cache lookups and as fail-closed for key
	// validation / admin invalidation.
	Fallback() bool
	// Ping checks connectivity to the backend, refreshing the Fallback
	// state as a side effect.
	Ping(ctx context.Context) error
}

// RedisStore is the production StateStore backed by a *redis.Client.
type RedisStore struct {
	client   *redis.Client
	fallback bool
}

// NewRedisStore dials addr (a redis:// URL or host:port) and returns a
// RedisStore. If the initial ping fails, the store is still returned but
// starts in fallback mode — the caller decides whether that's fatal (key
// validation, admin invalidation) or tolerable (cache lookups).
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	var opts *redis.Options
	if parsed, err := redis.ParseURL(addr); err == nil {
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)
	store := &RedisStore{client: client}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		store.fallback = true
		return store, err
	}

	return store, nil
}

func (s *RedisStore) Fallback() bool { return s.fallback }

func (s *RedisStore) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	err := s.client.Ping(pingCtx).Err()
	s.fallback = err != nil
	return err
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SAdd(ctx, key, args...).Err()
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SRem(ctx, key, args...).Err()
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

// Scan performs cursor-based SCAN/MATCH/COUNT iteration — never the
// blocking KEYS *.
func (s *RedisStore) Scan(ctx context.Context, pattern string, count int64, fn func(key string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, count).Result()
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := fn(k); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }
