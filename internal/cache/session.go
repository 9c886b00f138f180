package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultSessionTTL applies when Set is called with a non-positive TTL and
// Options.DefaultTTL is unset.
const DefaultSessionTTL = 30 * time.Minute

// SessionCache keeps short-lived state for the lifetime of one session. It has
// no eviction policy beyond expiry; the backing store's quota bounds it.
type SessionCache struct {
	mu     sync.Mutex
	store  Store
	prefix string
	opts   Options
}

// NewSession creates a session tier over store. Every key is stored under prefix.
func NewSession(store Store, prefix string, opts Options) *SessionCache {
	return &SessionCache{
		store:  store,
		prefix: prefix,
		opts:   opts.withDefaults(),
	}
}

// Get decodes the value stored under key into out (a pointer) and reports
// whether it was found. Expired or malformed entries are deleted and reported
// as a miss.
func (s *SessionCache) Get(key string, out any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	full := s.prefix + key
	data, err := s.store.Get(full)
	if err != nil {
		s.opts.Reporter.Suppressed(TierSession, "get", err)
		return false
	}
	if data == nil {
		s.opts.Reporter.Miss(TierSession)
		return false
	}

	env, err := decodeEnvelope(data)
	if err != nil {
		s.opts.Reporter.Suppressed(TierSession, "get", fmt.Errorf("%s: %w", key, err))
		s.delete(full)
		return false
	}
	if env.expired(s.opts.Clock.Now()) {
		s.delete(full)
		s.opts.Reporter.Miss(TierSession)
		return false
	}
	// a value that does not fit out is the caller's mistake; the entry stays
	if err := env.decodeInto(out); err != nil {
		s.opts.Reporter.Suppressed(TierSession, "get", fmt.Errorf("%s: %w", key, err))
		return false
	}

	s.opts.Reporter.Hit(TierSession)
	return true
}

// Set stores value under key for ttl (the tier default if ttl <= 0). A write
// rejected for quota triggers a cleanup sweep; the write is not retried.
func (s *SessionCache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.opts.ttlOr(DefaultSessionTTL)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		s.opts.Reporter.Suppressed(TierSession, "set", err)
		return
	}
	data, err := json.Marshal(envelope{
		Value:  raw,
		Expiry: s.opts.Clock.Now().Add(ttl).UnixMilli(),
	})
	if err != nil {
		s.opts.Reporter.Suppressed(TierSession, "set", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Set(s.prefix+key, data); err != nil {
		s.opts.Reporter.Suppressed(TierSession, "set", err)
		if errors.Is(err, ErrQuotaExceeded) {
			s.cleanup()
		}
	}
}

// Remove deletes key.
func (s *SessionCache) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delete(s.prefix + key)
}

// Cleanup removes every expired or unparsable entry under the tier prefix and
// returns how many were removed.
func (s *SessionCache) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanup()
}

func (s *SessionCache) cleanup() int {
	keys, err := s.store.Keys()
	if err != nil {
		s.opts.Reporter.Suppressed(TierSession, "cleanup", err)
		return 0
	}

	now := s.opts.Clock.Now()
	removed := 0
	for _, k := range keys {
		if !strings.HasPrefix(k, s.prefix) {
			continue
		}
		data, err := s.store.Get(k)
		if err != nil || data == nil {
			continue
		}
		if env, err := decodeEnvelope(data); err == nil && !env.expired(now) {
			continue
		}
		if s.delete(k) {
			removed++
		}
	}
	return removed
}

func (s *SessionCache) delete(full string) bool {
	if err := s.store.Delete(full); err != nil {
		s.opts.Reporter.Suppressed(TierSession, "delete", err)
		return false
	}
	return true
}
