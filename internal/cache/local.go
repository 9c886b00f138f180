package cache

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultLocalTTL applies when Set is called with a non-positive TTL and
	// Options.DefaultTTL is unset.
	DefaultLocalTTL = 7 * 24 * time.Hour
	// DefaultLocalMaxSize is the entry ceiling of the local tier.
	DefaultLocalMaxSize = 50

	evictFraction = 0.2
)

// LocalCache is the durable tier. It survives restarts through its Store, holds
// at most maxSize entries, and evicts the least used fifth when full.
type LocalCache struct {
	mu      sync.Mutex
	store   Store
	prefix  string
	maxSize int
	opts    Options

	index  *lruIndex
	loaded bool
}

// NewLocal creates a local tier over store. Every key is stored under prefix.
func NewLocal(store Store, prefix string, maxSize int, opts Options) *LocalCache {
	if maxSize <= 0 {
		maxSize = DefaultLocalMaxSize
	}
	return &LocalCache{
		store:   store,
		prefix:  prefix,
		maxSize: maxSize,
		opts:    opts.withDefaults(),
		index:   newLRUIndex(),
	}
}

// Get decodes the value stored under key into out (a pointer) and reports
// whether it was found. A hit bumps the entry's access count and time.
func (l *LocalCache) Get(key string, out any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.load()

	full := l.prefix + key
	data, err := l.store.Get(full)
	if err != nil {
		l.opts.Reporter.Suppressed(TierLocal, "get", err)
		return false
	}
	if data == nil {
		l.index.remove(full)
		l.opts.Reporter.Miss(TierLocal)
		return false
	}

	now := l.opts.Clock.Now()
	env, err := decodeEnvelope(data)
	if err != nil {
		l.opts.Reporter.Suppressed(TierLocal, "get", fmt.Errorf("%s: %w", key, err))
		l.delete(full)
		return false
	}
	if env.expired(now) {
		l.delete(full)
		l.opts.Reporter.Miss(TierLocal)
		return false
	}
	// a value that does not fit out is the caller's mistake; the entry stays
	if err := env.decodeInto(out); err != nil {
		l.opts.Reporter.Suppressed(TierLocal, "get", fmt.Errorf("%s: %w", key, err))
		return false
	}

	env.AccessCount++
	env.LastAccessed = now.UnixMilli()
	l.index.upsert(full, env.AccessCount, env.LastAccessed)
	if updated, err := json.Marshal(env); err == nil {
		if err := l.store.Set(full, updated); err != nil {
			l.opts.Reporter.Suppressed(TierLocal, "touch", err)
		}
	}

	l.opts.Reporter.Hit(TierLocal)
	return true
}

// Set stores value under key for ttl (the tier default if ttl <= 0). Inserting a
// new key into a full tier evicts first. If the store rejects the write, the
// tier sweeps expired entries and falls back to storing the bare value.
func (l *LocalCache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = l.opts.ttlOr(DefaultLocalTTL)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		l.opts.Reporter.Suppressed(TierLocal, "set", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.load()

	full := l.prefix + key
	if !l.index.has(full) && l.index.Len() >= l.maxSize {
		l.evictLRU()
	}

	created := l.opts.Clock.Now()
	now := created.UnixMilli()
	env := envelope{
		Value:        raw,
		Expiry:       created.Add(ttl).UnixMilli(),
		LastAccessed: now,
		Created:      now,
	}
	data, err := json.Marshal(env)
	if err == nil {
		err = l.store.Set(full, data)
	}
	if err == nil {
		l.index.upsert(full, 0, now)
		return
	}

	l.opts.Reporter.Suppressed(TierLocal, "set", err)
	l.cleanup()

	fallback, _ := json.Marshal(envelope{Value: raw})
	if err := l.store.Set(full, fallback); err != nil {
		l.opts.Reporter.Suppressed(TierLocal, "set-fallback", err)
		// an older value may still be stored under full
		l.delete(full)
		return
	}
	l.index.upsert(full, 0, 0)
}

// Remove deletes key.
func (l *LocalCache) Remove(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.load()
	l.delete(l.prefix + key)
}

// Len returns the number of entries under the tier prefix.
func (l *LocalCache) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.load()
	return l.index.Len()
}

// Cleanup removes every expired or unparsable entry under the tier prefix,
// resynchronizes the eviction index with the store, and returns how many
// entries were removed.
func (l *LocalCache) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cleanup()
}

// Clear removes every entry under the tier prefix.
func (l *LocalCache) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, err := l.store.Keys()
	if err != nil {
		l.opts.Reporter.Suppressed(TierLocal, "clear", err)
		return
	}
	for _, k := range keys {
		if strings.HasPrefix(k, l.prefix) {
			l.delete(k)
		}
	}
	l.index.reset()
	l.loaded = true
}

// evictLRU removes the least used fifth of the entries, at least one.
func (l *LocalCache) evictLRU() {
	n := l.index.Len()
	if n == 0 {
		return
	}
	count := int(math.Ceil(float64(n) * evictFraction))
	if count < 1 {
		count = 1
	}

	removed := 0
	for i := 0; i < count; i++ {
		key, ok := l.index.popLeast()
		if !ok {
			break
		}
		if err := l.store.Delete(key); err != nil {
			l.opts.Reporter.Suppressed(TierLocal, "evict", err)
			continue
		}
		removed++
	}
	l.opts.Reporter.Evicted(TierLocal, removed)
}

// load builds the eviction index from the store the first time it is needed.
func (l *LocalCache) load() {
	if l.loaded {
		return
	}
	l.loaded = true
	l.scan(false)
}

func (l *LocalCache) cleanup() int {
	l.loaded = true
	return l.scan(true)
}

// scan rebuilds the index from the store. Unparsable entries are always
// dropped; expired ones only when sweep is set.
func (l *LocalCache) scan(sweep bool) int {
	keys, err := l.store.Keys()
	if err != nil {
		l.opts.Reporter.Suppressed(TierLocal, "scan", err)
		return 0
	}

	l.index.reset()
	now := l.opts.Clock.Now()
	removed := 0
	for _, k := range keys {
		if !strings.HasPrefix(k, l.prefix) {
			continue
		}
		data, err := l.store.Get(k)
		if err != nil || data == nil {
			continue
		}
		env, err := decodeEnvelope(data)
		if err != nil || (sweep && env.expired(now)) {
			if l.delete(k) {
				removed++
			}
			continue
		}
		l.index.upsert(k, env.AccessCount, env.LastAccessed)
	}
	return removed
}

func (l *LocalCache) delete(full string) bool {
	l.index.remove(full)
	if err := l.store.Delete(full); err != nil {
		l.opts.Reporter.Suppressed(TierLocal, "delete", err)
		return false
	}
	return true
}
