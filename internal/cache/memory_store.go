package cache

import (
	"fmt"
	"sync"
)

// MemoryStore implements Store in process memory. It backs the session tier:
// its contents live exactly as long as the process (the "browsing session").
type MemoryStore struct {
	mu       sync.Mutex
	items    map[string][]byte
	used     int64
	maxBytes int64
}

// NewMemoryStore creates a memory store. maxBytes <= 0 disables the quota.
func NewMemoryStore(maxBytes int64) *MemoryStore {
	return &MemoryStore{
		items:    make(map[string][]byte),
		maxBytes: maxBytes,
	}
}

func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStore) Set(key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	size := int64(len(key) + len(value))
	var prev int64
	if old, ok := m.items[key]; ok {
		prev = int64(len(key) + len(old))
	}
	if m.maxBytes > 0 && m.used-prev+size > m.maxBytes {
		return fmt.Errorf("writing %s: %w", key, ErrQuotaExceeded)
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	m.items[key] = stored
	m.used += size - prev
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.items[key]; ok {
		m.used -= int64(len(key) + len(old))
		delete(m.items, key)
	}
	return nil
}

func (m *MemoryStore) Keys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make(map[string][]byte)
	m.used = 0
	return nil
}

// Init is a no-op; memory needs no preparation.
func (m *MemoryStore) Init() error {
	return nil
}

// Used returns the number of bytes currently held.
func (m *MemoryStore) Used() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}
