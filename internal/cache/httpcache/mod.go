// Package httpcache stores HTTP responses keyed by request identity.
package httpcache

// Store is the byte store responses are serialized into.
type Store interface {
	// returns nil, nil when not found
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Clear() error
	Init() error
}

func New(store Store) *HTTPCache {
	return &HTTPCache{
		store: store,
	}
}
