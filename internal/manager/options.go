package manager

import (
	"net/http"

	"github.com/benbjohnson/clock"

	"github.com/iTrooz/tiercache/internal/cache"
	"github.com/iTrooz/tiercache/internal/cache/httpcache"
	"github.com/iTrooz/tiercache/internal/observe"
	"github.com/iTrooz/tiercache/internal/prefetch"
)

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for expiry and maintenance.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithReporter routes suppressed failures and cache events to r.
func WithReporter(r observe.Reporter) Option {
	return func(m *Manager) { m.reporter = r }
}

// WithSessionStore replaces the session tier's backing store.
func WithSessionStore(s cache.Store) Option {
	return func(m *Manager) { m.sessionStore = s }
}

// WithLocalStore replaces the durable tier's backing store.
func WithLocalStore(s cache.Store) Option {
	return func(m *Manager) { m.localStore = s }
}

// WithResponseStore replaces the response tier's backing store. A nil store
// leaves the tier without a capability.
func WithResponseStore(s httpcache.Store) Option {
	return func(m *Manager) {
		m.responseStore = s
		m.responseStoreSet = true
	}
}

// WithSinks adds hint sinks next to the built-in Link recorder.
func WithSinks(sinks ...prefetch.Sink) Option {
	return func(m *Manager) { m.sinks = append(m.sinks, sinks...) }
}

// WithHTTPClient sets the client used for asset and prefetch fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}
