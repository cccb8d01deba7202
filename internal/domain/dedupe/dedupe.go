// Package dedupe tracks which comparison keys have already been claimed
// during a reconciliation pass, and serializes writes per document id.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records claimed keys so each logical evaluation is written at most
// once per pass.
type Deduper interface {
	// SeenAndRecord atomically checks whether key was claimed and claims it
	// if not. Returns true when the key was already claimed.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord releases a claim so a later record with the same key may take it.
	Unrecord(ctx context.Context, key string)

	// Seed claims every key up front, typically the keys already present remotely.
	Seed(ctx context.Context, keys ...string)

	Size() int64
}

// inMemoryDeduper keeps claims in a map. When maxSize > 0 the oldest claim is
// evicted first once the bound is reached.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates an unbounded deduper unless WithMaxSize is given.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		seen:  make(map[string]*list.Element),
		order: list.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.claim(key)
}

func (d *inMemoryDeduper) Seed(_ context.Context, keys ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		d.claim(k)
	}
}

// claim must be called with d.mu held.
func (d *inMemoryDeduper) claim(key string) bool {
	if _, ok := d.seen[key]; ok {
		return false
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		if oldest := d.order.Front(); oldest != nil {
			delete(d.seen, oldest.Value.(string))
			d.order.Remove(oldest)
			d.size.Add(-1)
		}
	}
	d.seen[key] = d.order.PushBack(key)
	d.size.Add(1)
	return true
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.seen[key]; ok {
		d.order.Remove(el)
		delete(d.seen, key)
		d.size.Add(-1)
	}
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
