// Package prefetch issues resource hints (prefetch, preconnect, dns-prefetch)
// ahead of navigation.
package prefetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/iTrooz/tiercache/internal/observe"
)

// Rel is the kind of a resource hint.
type Rel string

const (
	Prefetch    Rel = "prefetch"
	Preconnect  Rel = "preconnect"
	DNSPrefetch Rel = "dns-prefetch"
)

const tier = "prefetch"

// Hint is one resource hint. As is the destination type of a prefetch
// ("script", "style", "fetch", ...), empty for the other rels.
type Hint struct {
	Rel  Rel
	Href string
	As   string
}

// String renders the hint as an RFC 8288 Link header value.
func (h Hint) String() string {
	s := fmt.Sprintf("<%s>; rel=%s", h.Href, h.Rel)
	if h.As != "" {
		s += "; as=" + h.As
	}
	return s
}

// Sink consumes hints. Errors are reported, never returned to hint callers.
type Sink interface {
	Hint(ctx context.Context, h Hint) error
}

// Manager deduplicates prefetch and preconnect hints by target and hands them
// to its sinks.
type Manager struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	sinks    []Sink
	reporter observe.Reporter
}

// New creates a manager fanning hints out to sinks.
func New(reporter observe.Reporter, sinks ...Sink) *Manager {
	if reporter == nil {
		reporter = observe.Nop{}
	}
	return &Manager{
		seen:     make(map[string]struct{}),
		sinks:    sinks,
		reporter: reporter,
	}
}

// PrefetchLink hints that url will be needed as a resource of type as.
// Repeated calls for the same url are ignored.
func (m *Manager) PrefetchLink(ctx context.Context, url, as string) {
	if !m.register(url) {
		return
	}
	m.emit(ctx, Hint{Rel: Prefetch, Href: url, As: as})
}

// Preconnect hints that a connection to origin will be needed. It shares the
// prefetch registry, so each origin is hinted once.
func (m *Manager) Preconnect(ctx context.Context, origin string) {
	if !m.register(origin) {
		return
	}
	m.emit(ctx, Hint{Rel: Preconnect, Href: origin})
}

// DNSPrefetch hints that hostname will be resolved. It is not deduplicated.
func (m *Manager) DNSPrefetch(ctx context.Context, hostname string) {
	m.emit(ctx, Hint{Rel: DNSPrefetch, Href: "//" + hostname})
}

// Registered reports whether target has already been hinted.
func (m *Manager) Registered(target string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[target]
	return ok
}

func (m *Manager) register(target string) bool {
	if target == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[target]; ok {
		return false
	}
	m.seen[target] = struct{}{}
	return true
}

func (m *Manager) emit(ctx context.Context, h Hint) {
	for _, sink := range m.sinks {
		if err := sink.Hint(ctx, h); err != nil {
			m.reporter.Suppressed(tier, string(h.Rel), fmt.Errorf("%s: %w", h.Href, err))
		}
	}
}
