// Package cache holds hub responses keyed by viewer and section.
package cache

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"opsportal/internal/domain"
)

// Sections cached by the hub client.
const (
	SectionScope      = "scope"
	SectionOrders     = "orders"
	SectionActivities = "activities"
)

const DefaultSize = 256

// Key identifies one cached response.
type Key struct {
	Role    domain.Role
	Code    string
	Section string
	Query   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Role, k.Code, k.Section, k.Query)
}

// Loader produces a fresh value for a key.
type Loader func(ctx context.Context) (any, error)

// Cache is safe for concurrent use. Values are only ever replaced whole or
// removed; callers must treat returned values as read-only.
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[Key, any]
	// inflight holds the current load per key; it is removed when the load
	// finishes.
	inflight map[Key]*flight
	group    singleflight.Group
}

type flight struct {
	stale bool
}

func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[Key, any](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries, inflight: make(map[Key]*flight)}, nil
}

// Get returns the cached value for key or runs load. Concurrent callers of
// the same key share one load. A load that started before an Invalidate
// covering key still returns its result to its callers but is not stored.
func (c *Cache) Get(ctx context.Context, key Key, load Loader) (any, error) {
	c.mu.Lock()
	if v, ok := c.entries.Get(key); ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		f := &flight{}
		c.mu.Lock()
		c.inflight[key] = f
		c.mu.Unlock()
		v, err := load(ctx)
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.inflight[key] == f {
			delete(c.inflight, key)
		}
		if err != nil {
			return nil, err
		}
		if !f.stale {
			c.entries.Add(key, v)
		}
		return v, nil
	})
	return v, err
}

// Peek returns a cached value without loading.
func (c *Cache) Peek(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Peek(key)
}

// Invalidate removes every cached key matching pred and detaches in-flight
// loads for matching keys, so the next Get re-fetches. It returns the
// number of keys affected.
func (c *Cache) Invalidate(pred func(Key) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, k := range c.entries.Keys() {
		if pred(k) {
			c.entries.Remove(k)
			n++
		}
	}
	for k, f := range c.inflight {
		if pred(k) {
			f.stale = true
			delete(c.inflight, k)
			c.group.Forget(k.String())
		}
	}
	return n
}

// Len is the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Section matches every key of one section for a role, any code when code
// is empty.
func Section(role domain.Role, code, section string) func(Key) bool {
	return func(k Key) bool {
		return k.Role == role && k.Section == section && (code == "" || k.Code == code)
	}
}
