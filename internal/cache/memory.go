package cache

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMemoryTTL applies when Set is called with a non-positive TTL and
// Options.DefaultTTL is unset.
const DefaultMemoryTTL = 300 * time.Second

type memoryEntry[V any] struct {
	key    string
	value  V
	expiry time.Time
}

// Memory is the in-process tier: a bounded map with per-entry TTL. When full,
// the oldest inserted entry makes room for a new key.
type Memory[V any] struct {
	mu      sync.Mutex
	maxSize int
	opts    Options

	entries map[string]*list.Element
	order   *list.List // insertion order, front is oldest
}

// NewMemory creates a memory tier holding at most maxSize entries.
func NewMemory[V any](maxSize int, opts Options) *Memory[V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Memory[V]{
		maxSize: maxSize,
		opts:    opts.withDefaults(),
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get returns the value for key if present and unexpired. An expired entry is
// removed on the way out.
func (m *Memory[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	elem, ok := m.entries[key]
	if !ok {
		m.opts.Reporter.Miss(TierMemory)
		return zero, false
	}
	entry := elem.Value.(*memoryEntry[V])
	if m.opts.Clock.Now().After(entry.expiry) {
		m.remove(elem)
		m.opts.Reporter.Miss(TierMemory)
		return zero, false
	}

	m.opts.Reporter.Hit(TierMemory)
	return entry.value, true
}

// Set stores value under key for ttl (the tier default if ttl <= 0).
func (m *Memory[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.opts.ttlOr(DefaultMemoryTTL)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiry := m.opts.Clock.Now().Add(ttl)
	if elem, ok := m.entries[key]; ok {
		entry := elem.Value.(*memoryEntry[V])
		entry.value = value
		entry.expiry = expiry
		return
	}

	if len(m.entries) >= m.maxSize {
		if oldest := m.order.Front(); oldest != nil {
			m.remove(oldest)
			m.opts.Reporter.Evicted(TierMemory, 1)
		}
	}
	m.entries[key] = m.order.PushBack(&memoryEntry[V]{key: key, value: value, expiry: expiry})
}

// Delete drops key if present.
func (m *Memory[V]) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		m.remove(elem)
	}
}

// Clear drops every entry.
func (m *Memory[V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*list.Element)
	m.order.Init()
}

// Len returns the number of entries held, expired ones included.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory[V]) remove(elem *list.Element) {
	entry := m.order.Remove(elem).(*memoryEntry[V])
	delete(m.entries, entry.key)
}
