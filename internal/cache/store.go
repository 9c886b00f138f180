// Package cache implements the client-side cache tiers: an in-process memory
// cache, a session-scoped store, a durable key/value store with LRU eviction,
// a network-response cache, and the API facade composing them.
package cache

// Store is the byte store a cache tier is layered on. It stands in for the
// host's storage capabilities (session storage, durable storage, response store).
type Store interface {
	// retrieves the value stored under key.
	// returns nil, nil when not found
	Get(key string) ([]byte, error)
	// stores value under key, replacing any previous value
	Set(key string, value []byte) error
	// removes key. Removing a missing key is not an error
	Delete(key string) error
	// lists every key currently held, in no particular order
	Keys() ([]string, error)
	// drops every key
	Clear() error
	// initializes the store (e.g., creates necessary directories)
	Init() error
}
