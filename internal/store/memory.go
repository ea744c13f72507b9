package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (i *memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryStore implements Store in process memory. State is not shared between instances.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*memoryItem
	now   func() time.Time
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source, used by tests to move time forward
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		items: make(map[string]*memoryItem),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live returns the unexpired item at key, dropping it if it has expired. Caller holds mu.
func (s *MemoryStore) live(key string, now time.Time) (*memoryItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if item.expired(now) {
		delete(s.items, key)
		return nil, false
	}
	return item, true
}

// Get returns the value at key
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.live(key, s.now())
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(item.value))
	copy(out, item.value)
	return out, nil
}

// Set stores value at key
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := &memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	s.items[key] = item
	return nil
}

// Increment atomically increments the counter at key
func (s *MemoryStore) Increment(_ context.Context, key string, by int64, window time.Duration) (Counter, error) {
	if window <= 0 {
		return Counter{}, fmt.Errorf("increment %s: window must be positive", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	item, ok := s.live(key, now)
	if !ok {
		item = &memoryItem{value: []byte("0"), expiresAt: now.Add(window)}
		s.items[key] = item
	}

	count, err := strconv.ParseInt(string(item.value), 10, 64)
	if err != nil {
		return Counter{}, fmt.Errorf("increment %s: value is not an integer", key)
	}
	count += by
	item.value = []byte(strconv.FormatInt(count, 10))
	if item.expiresAt.IsZero() {
		item.expiresAt = now.Add(window)
	}

	return Counter{Count: count, TTL: item.expiresAt.Sub(now)}, nil
}

// Peek reads the counter at key without modifying it
func (s *MemoryStore) Peek(_ context.Context, key string) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	item, ok := s.live(key, now)
	if !ok {
		return Counter{}, nil
	}
	count, err := strconv.ParseInt(string(item.value), 10, 64)
	if err != nil {
		return Counter{}, fmt.Errorf("peek %s: value is not an integer", key)
	}
	var ttl time.Duration
	if !item.expiresAt.IsZero() {
		ttl = item.expiresAt.Sub(now)
	}
	return Counter{Count: count, TTL: ttl}, nil
}

// Delete removes key
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// Keys lists live keys starting with prefix, sorted
func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keysLocked(prefix, s.now()), nil
}

func (s *MemoryStore) keysLocked(prefix string, now time.Time) []string {
	var keys []string
	for k, item := range s.items {
		if item.expired(now) {
			delete(s.items, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// DeleteByPrefix removes all live keys starting with prefix
func (s *MemoryStore) DeleteByPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.keysLocked(prefix, s.now())
	for _, k := range keys {
		delete(s.items, k)
	}
	return keys, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close drops all entries
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*memoryItem)
	return nil
}

// StartJanitor evicts expired entries every interval until ctx is cancelled.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				s.keysLocked("", s.now())
				s.mu.Unlock()
			}
		}
	}()
}
