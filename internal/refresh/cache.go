package refresh

import (
	"sort"
	"sync"
	"time"

	"github.com/okian/devpulse/pkg/metrics"
)

// Key addresses a cache entry.
type Key struct {
	Scope  string
	Family string
}

// Entry is an immutable cached value. Writers replace entries whole.
type Entry[T any] struct {
	Key        Key
	Value      T
	ComputedAt time.Time
	TTL        time.Duration
}

// Stale reports whether the entry has outlived its TTL at now.
func (e *Entry[T]) Stale(now time.Time) bool {
	return now.Sub(e.ComputedAt) > e.TTL
}

// Cache maps keys to entries. Readers see either the previous entry or
// the new one, never a partially written value.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[Key]*Entry[T]
}

// NewCache creates an empty cache.
func NewCache[T any]() *Cache[T] {
	return &Cache[T]{entries: make(map[Key]*Entry[T])}
}

// Load returns the entry for key.
func (c *Cache[T]) Load(key Key) (*Entry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Store swaps in e.
func (c *Cache[T]) Store(e *Entry[T]) {
	c.mu.Lock()
	c.entries[e.Key] = e
	n := len(c.entries)
	c.mu.Unlock()
	metrics.UpdateCacheScopes(n)
}

// DeleteScope drops every family cached for scope.
func (c *Cache[T]) DeleteScope(scope string) {
	c.mu.Lock()
	for k := range c.entries {
		if k.Scope == scope {
			delete(c.entries, k)
		}
	}
	n := len(c.entries)
	c.mu.Unlock()
	metrics.UpdateCacheScopes(n)
}

// Len returns the number of entries.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Scopes lists cached scopes in order.
func (c *Cache[T]) Scopes() []string {
	c.mu.RLock()
	seen := make(map[string]struct{}, len(c.entries))
	for k := range c.entries {
		seen[k.Scope] = struct{}{}
	}
	c.mu.RUnlock()
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
