// Package cache stores rendered GET responses in the shared store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/benvon/chapters-api/internal/store"
)

// KeyPrefix namespaces every cached response in the shared store
const KeyPrefix = "cache:"

// DefaultTTL is how long a cached response is served
const DefaultTTL = time.Hour

// EpochKey counts invalidations. It sits outside KeyPrefix so prefix deletes keep it.
const EpochKey = "cache-epoch"

// epochWindow only bounds the counter's lifetime; an expired epoch reads as a
// change and costs one discarded fill
const epochWindow = 24 * time.Hour

// Entry is one stored response
type Entry struct {
	Status      int       `json:"status"`
	ContentType string    `json:"contentType"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"storedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Cache reads and writes entries through a store
type Cache struct {
	st  store.Store
	now func() time.Time
}

// Option configures a Cache
type Option func(*Cache)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache on st
func New(st store.Store, opts ...Option) *Cache {
	c := &Cache{st: st, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the entry at key. A miss is (nil, false, nil); a store failure is returned as the error.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	raw, err := c.st.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// unreadable entries are treated as absent and overwritten on the next miss
		return nil, false, nil
	}
	if !e.ExpiresAt.IsZero() && !c.now().Before(e.ExpiresAt) {
		return nil, false, nil
	}
	return &e, true, nil
}

// Set stores e at key for ttl
func (c *Cache) Set(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache set %s: ttl must be positive", key)
	}
	now := c.now()
	e.StoredAt = now
	e.ExpiresAt = now.Add(ttl)

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache set: encode entry: %w", err)
	}
	if err := c.st.Set(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Epoch returns the invalidation counter. Read it before computing a response
// and pass it to SetSince.
func (c *Cache) Epoch(ctx context.Context) (int64, error) {
	ctr, err := c.st.Peek(ctx, EpochKey)
	if err != nil {
		return 0, fmt.Errorf("cache epoch: %w", err)
	}
	return ctr.Count, nil
}

// SetSince stores e at key unless an invalidation ran after epoch was read, in
// which case the entry may predate the write and is removed again. It reports
// whether the entry was kept.
func (c *Cache) SetSince(ctx context.Context, key string, e Entry, ttl time.Duration, epoch int64) (bool, error) {
	if err := c.Set(ctx, key, e, ttl); err != nil {
		return false, err
	}
	current, err := c.Epoch(ctx)
	if err == nil && current == epoch {
		return true, nil
	}
	if delErr := c.st.Delete(ctx, key); delErr != nil {
		return false, errors.Join(err, fmt.Errorf("cache discard %s: %w", key, delErr))
	}
	return false, err
}

// Invalidate removes every entry whose key starts with prefix and returns the removed keys.
// The prefix is taken relative to KeyPrefix when it does not already carry it.
func (c *Cache) Invalidate(ctx context.Context, prefix string) ([]string, error) {
	if !strings.HasPrefix(prefix, KeyPrefix) {
		prefix = KeyPrefix + prefix
	}
	// The epoch moves before the delete so a fill racing this call either sees
	// the new epoch or has its entry removed by the delete below
	if _, err := c.st.Increment(ctx, EpochKey, 1, epochWindow); err != nil {
		return nil, fmt.Errorf("cache invalidate %s: %w", prefix, err)
	}
	keys, err := c.st.DeleteByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("cache invalidate %s: %w", prefix, err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// Key derives the cache key of r: the cleaned path plus the query sorted by
// name, then value. Two requests differing only in parameter order share a key.
func Key(r *http.Request) string {
	return KeyFor(r.URL.Path, r.URL.Query())
}

// KeyFor derives the cache key of a path and query
func KeyFor(p string, query url.Values) string {
	if p == "" {
		p = "/"
	}
	p = path.Clean(p)

	if len(query) == 0 {
		return KeyPrefix + p
	}

	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(KeyPrefix)
	b.WriteString(p)
	b.WriteByte('?')
	first := true
	for _, name := range names {
		values := append([]string(nil), query[name]...)
		sort.Strings(values)
		for _, v := range values {
			if !first {
				b.WriteByte('&')
			}
			first = false
			b.WriteString(url.QueryEscape(name))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
