// Package dedupe tracks provider event ids so re-ingested events are dropped.
package dedupe

import (
	"container/list"
	"context"
	"sync"
)

const defaultMaxSize = 50_000

// Deduper records seen event IDs to ensure at-most-once ingestion.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an ID so a later batch can ingest it again. Used when
	// an event was recorded but the batch carrying it was not persisted.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper keeps ids in a map backed by an insertion-ordered list.
// Bounded mode (maxSize > 0) evicts the oldest id first; unbounded mode never evicts.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	maxSize int
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		return true
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}
	d.seen[id] = d.order.PushBack(id)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, exists := d.seen[id]; exists {
		d.order.Remove(el)
		delete(d.seen, id)
	}
}

// evictOldest must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	front := d.order.Front()
	if front == nil {
		return
	}
	d.order.Remove(front)
	delete(d.seen, front.Value.(string))
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
