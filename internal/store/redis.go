package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatchSize = 200

// incrementScript bumps the counter and arms its expiry in one round trip.
// A counter left without expiry (ttl < 0) is re-armed so it cannot live forever.
var incrementScript = redis.NewScript(`
local count = redis.call("INCRBY", KEYS[1], ARGV[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	ttl = tonumber(ARGV[2])
end
return {count, ttl}
`)

// RedisStore implements Store on a Redis server
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the Redis server at redisURL and verifies the connection
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client. The caller keeps ownership of
// the client's configuration; Close closes it.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Get returns the value at key
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value at key
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Increment atomically increments the counter at key
func (s *RedisStore) Increment(ctx context.Context, key string, by int64, window time.Duration) (Counter, error) {
	if window <= 0 {
		return Counter{}, fmt.Errorf("increment %s: window must be positive", key)
	}
	res, err := incrementScript.Run(ctx, s.client, []string{key}, by, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Counter{}, fmt.Errorf("redis increment %s: %w", key, err)
	}
	if len(res) != 2 {
		return Counter{}, fmt.Errorf("redis increment %s: unexpected reply length %d", key, len(res))
	}
	return Counter{Count: res[0], TTL: time.Duration(res[1]) * time.Millisecond}, nil
}

// Peek reads the counter at key without modifying it
func (s *RedisStore) Peek(ctx context.Context, key string) (Counter, error) {
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Counter{}, fmt.Errorf("redis peek %s: %w", key, err)
	}

	count, err := get.Int64()
	if errors.Is(err, redis.Nil) {
		return Counter{}, nil
	}
	if err != nil {
		return Counter{}, fmt.Errorf("redis peek %s: %w", key, err)
	}

	ttl := pttl.Val()
	if ttl < 0 {
		ttl = 0
	}
	return Counter{Count: count, TTL: ttl}, nil
}

// Delete removes key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// Keys lists keys starting with prefix using SCAN, never KEYS
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s*: %w", prefix, err)
	}
	return keys, nil
}

// DeleteByPrefix removes all keys starting with prefix
func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	cleared := make([]string, 0, len(keys))
	for start := 0; start < len(keys); start += scanBatchSize {
		end := min(start+scanBatchSize, len(keys))
		batch := keys[start:end]
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return cleared, fmt.Errorf("redis delete by prefix %s: %w", prefix, err)
		}
		cleared = append(cleared, batch...)
	}
	return cleared, nil
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
