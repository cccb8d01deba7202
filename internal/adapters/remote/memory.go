package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

type fault struct {
	op, id string
}

// MemoryStore is an in-process DocumentStore. Documents are kept as JSON so
// callers never share maps with the store. Faults and latency can be
// injected to exercise degraded paths.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string][]byte
	faults      map[fault]error
	calls       map[string]int
	latency     time.Duration
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string][]byte),
		faults:      make(map[fault]error),
		calls:       make(map[string]int),
	}
}

// InjectFault makes op fail with err. An empty id matches every id.
// A nil err removes the fault.
func (m *MemoryStore) InjectFault(op, id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, fault{op, id})
		return
	}
	m.faults[fault{op, id}] = err
}

// ClearFaults removes every injected fault.
func (m *MemoryStore) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = make(map[fault]error)
}

// SetLatency delays every call by d, or until the context ends.
func (m *MemoryStore) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// Calls returns how many times op was invoked.
func (m *MemoryStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Put stores data under id, replacing any existing document.
func (m *MemoryStore) Put(collection, id string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection(collection)[id] = raw
	return nil
}

// Snapshot returns a copy of every document in collection keyed by id.
func (m *MemoryStore) Snapshot(collection string) map[string]map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]map[string]any, len(m.collections[collection]))
	for id, raw := range m.collections[collection] {
		out[id] = decode(raw)
	}
	return out
}

// Len returns the number of documents in collection.
func (m *MemoryStore) Len(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.collections[collection])
}

func (m *MemoryStore) FetchAll(ctx context.Context, collection string) ([]Document, error) {
	if err := m.enter(ctx, OpFetchAll, ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := make([]Document, 0, len(m.collections[collection]))
	for id, raw := range m.collections[collection] {
		docs = append(docs, Document{ID: id, Data: decode(raw)})
	}
	sortDocuments(docs)
	return docs, nil
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Document, bool, error) {
	if err := m.enter(ctx, OpGet, id); err != nil {
		return Document{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.collections[collection][id]
	if !ok {
		return Document{}, false, nil
	}
	return Document{ID: id, Data: decode(raw)}, true, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	if err := m.enter(ctx, OpUpsert, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.collection(collection)
	doc := data
	if cur, ok := docs[id]; ok && merge {
		doc = mergeFields(decode(cur), data)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", id, err)
	}
	docs[id] = raw
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := m.enter(ctx, OpDelete, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

func (m *MemoryStore) Probe(ctx context.Context, _ string) (ProbeResult, error) {
	err := m.enter(ctx, OpProbe, "")
	switch {
	case err == nil:
		return ProbeOK, nil
	case errors.Is(err, ErrPermissionDenied):
		return ProbePermissionDenied, err
	default:
		return ProbeUnreachable, err
	}
}

func (m *MemoryStore) Close() error { return nil }

// enter counts the call, applies latency and returns any injected fault.
func (m *MemoryStore) enter(ctx context.Context, op, id string) error {
	m.mu.Lock()
	m.calls[op]++
	latency := m.latency
	err, ok := m.faults[fault{op, id}]
	if !ok {
		err = m.faults[fault{op, ""}]
	}
	m.mu.Unlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return err
}

// collection must be called with m.mu held.
func (m *MemoryStore) collection(name string) map[string][]byte {
	docs, ok := m.collections[name]
	if !ok {
		docs = make(map[string][]byte)
		m.collections[name] = docs
	}
	return docs
}

func decode(raw []byte) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}
