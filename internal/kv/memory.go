package kv

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory reference implementation of Store, used by
// unit tests and the stress harness. Batch is atomic via a single mutex
// held for the whole op list.
type MemoryStore struct {
	mu   sync.Mutex
	data map[Keyspace]map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: map[Keyspace]map[string][]byte{
			Main:    {},
			Indexes: {},
			Meta:    {},
		},
	}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, ks Keyspace, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[ks][key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

// Range implements Store, returning entries in [Start, End) lexicographic
// order.
func (m *MemoryStore) Range(_ context.Context, ks Keyspace, opts RangeOptions) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.data[ks]))
	for k := range m.data[ks] {
		if k >= opts.Start && (opts.End == "" || k < opts.End) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
	}

	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		v := m.data[ks][k]
		cp := make([]byte, len(v))
		copy(cp, v)
		out = append(out, Entry{Key: k, Value: cp})
	}
	return out, nil
}

// Batch implements Store atomically under a single mutex acquisition.
func (m *MemoryStore) Batch(_ context.Context, ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range ops {
		if op.Put {
			cp := make([]byte, len(op.Value))
			copy(cp, op.Value)
			m.data[op.Keyspace][op.Key] = cp
		} else {
			delete(m.data[op.Keyspace], op.Key)
		}
	}
	return nil
}

// Ping implements Store; the in-memory store is always reachable.
func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close implements Store; no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
