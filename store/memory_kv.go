package store

import (
	"context"
	"fmt"
	"sync"
)

// Compile-time interface check.
var _ KV = (*MemoryKV)(nil)

// MemoryKV implements KV with in-process storage.  Suitable for tests and
// callers that manage durability themselves.
type MemoryKV struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryKV creates a new in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		items: make(map[string][]byte),
	}
}

// Put stores a copy of value under key.
func (m *MemoryKV) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.items[key] = cp
	return nil
}

// Get retrieves a copy of the value stored under key.
func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "store.(MemoryKV).Get"
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.items[key]
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, key, ErrKeyNotFound)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

// Delete removes key.
func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// ListKeys returns every stored key.
func (m *MemoryKV) ListKeys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	return keys, nil
}

// Close implements KV; an in-memory KV holds no resources.
func (m *MemoryKV) Close() error {
	return nil
}
