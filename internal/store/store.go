package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or has expired.
var ErrNotFound = errors.New("store: key not found")

const (
	// BackendRedis selects the shared Redis store
	BackendRedis = "redis"
	// BackendMemory selects the in-process store (single instance, tests, local dev)
	BackendMemory = "memory"
)

// Counter is the state of a windowed counter.
// TTL is the time left until the counter expires and its window resets.
type Counter struct {
	Count int64
	TTL   time.Duration
}

// Store is the key-value capability shared by the rate limiter and the response cache.
// Implementations must be safe for concurrent use; Increment must be atomic.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key. A ttl <= 0 stores the value without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Increment atomically adds by to the counter at key. When the counter is
	// created its expiry is set to window, so the window starts on the first hit.
	Increment(ctx context.Context, key string, by int64, window time.Duration) (Counter, error)

	// Peek returns the counter at key without modifying it. Absent keys report a zero Counter.
	Peek(ctx context.Context, key string) (Counter, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists the live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// DeleteByPrefix removes every key starting with prefix and returns the removed keys.
	DeleteByPrefix(ctx context.Context, prefix string) ([]string, error)

	// Ping checks that the backing service is reachable
	Ping(ctx context.Context) error

	// Close releases connections held by the store
	Close() error
}

// Open creates the store selected by backend.
func Open(backend, redisURL string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendRedis:
		return NewRedisStore(redisURL)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (must be 'redis' or 'memory')", backend)
	}
}
