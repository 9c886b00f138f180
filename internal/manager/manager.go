// Package manager owns one instance of every cache tier and drives their
// lifecycle: initialization, critical-resource prefetch and periodic sweeps.
package manager

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"github.com/iTrooz/tiercache/internal/cache"
	"github.com/iTrooz/tiercache/internal/cache/httpcache"
	"github.com/iTrooz/tiercache/internal/config"
	"github.com/iTrooz/tiercache/internal/observe"
	"github.com/iTrooz/tiercache/internal/prefetch"
)

// State is the lifecycle stage of a Manager.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Manager is the single entry point to the cache tiers. Callers use the
// exported tiers directly; they never build tiers of their own.
type Manager struct {
	Memory   *cache.Memory[[]byte]
	Session  *cache.SessionCache
	Local    *cache.LocalCache
	Browser  *cache.ResponseCache
	API      *cache.APICache
	Prefetch *prefetch.Manager
	// Links records every hint emitted, for rendering as Link headers.
	Links *prefetch.LinkSink

	SessionID uuid.UUID

	cfg      *config.Config
	clock    clock.Clock
	reporter observe.Reporter
	client   *http.Client
	sinks    []prefetch.Sink

	sessionStore     cache.Store
	localStore       cache.Store
	responseStore    httpcache.Store
	responseStoreSet bool

	state       *atomic.Int32
	initOnce    sync.Once
	maintenance *Maintenance
	assets      singleflight.Group
}

// New builds every tier from cfg. Stores not supplied through options are
// created from the configuration: the session tier lives in memory, the
// durable and response tiers on disk.
func New(cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		SessionID: uuid.New(),
		state:     atomic.NewInt32(int32(Uninitialized)),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.reporter == nil {
		m.reporter = observe.NewHook(nil, cache.ErrQuotaExceeded, nil)
	}
	if m.client == nil {
		m.client = &http.Client{Timeout: cfg.PrefetchTimeout()}
	}
	if m.sessionStore == nil {
		m.sessionStore = cache.NewMemoryStore(cfg.SessionQuota())
	}
	if m.localStore == nil {
		m.localStore = cache.NewDisk(cfg.Local.Folder, cfg.LocalQuota())
	}
	if !m.responseStoreSet && cfg.Browser.Enabled {
		m.responseStore = cache.NewDisk(filepath.Join(cfg.Browser.Folder, cfg.Browser.Name), cfg.BrowserQuota())
	}

	tierOpts := cache.Options{Clock: m.clock, Reporter: m.reporter}
	withTTL := func(ttl time.Duration) cache.Options {
		o := tierOpts
		o.DefaultTTL = ttl
		return o
	}
	m.Memory = cache.NewMemory[[]byte](cfg.Memory.MaxSize, withTTL(cfg.MemoryTTL()))
	m.Session = cache.NewSession(m.sessionStore, cfg.Session.Prefix+m.SessionID.String()+"_", withTTL(cfg.SessionTTL()))
	m.Local = cache.NewLocal(m.localStore, cfg.Local.Prefix, cfg.Local.MaxSize, withTTL(cfg.LocalTTL()))
	m.Browser = cache.NewResponseCache(m.responseStore, cfg.ResponseMaxAge(), tierOpts)
	m.API = cache.NewAPI(m.Memory, m.Browser, cfg.PromoteTTL(), cfg.WriteTTL(), tierOpts)

	m.Links = prefetch.NewLinkSink()
	sinks := []prefetch.Sink{m.Links}
	if cfg.Prefetch.Warm {
		if warm := m.warmSink(); warm != nil {
			sinks = append(sinks, warm)
		}
	}
	m.Prefetch = prefetch.New(m.reporter, append(sinks, m.sinks...)...)

	return m
}

func (m *Manager) warmSink() *prefetch.WarmSink {
	var base *url.URL
	if m.cfg.Prefetch.BaseURL != "" {
		var err error
		base, err = url.Parse(m.cfg.Prefetch.BaseURL)
		if err != nil {
			m.reporter.Suppressed("prefetch", "init", err)
			return nil
		}
	}
	store := func(ctx context.Context, target string, resp *http.Response) {
		m.Browser.Set(ctx, target, resp)
	}
	return prefetch.NewWarmSink(m.client, base, store, m.cfg.PrefetchTimeout(), m.reporter)
}

// Init opens the response tier, sweeps expired entries, hints the critical
// resources and starts the maintenance schedule. Only the first call does
// anything; every call returns the same Maintenance handle.
func (m *Manager) Init(ctx context.Context) *Maintenance {
	m.initOnce.Do(func() {
		m.state.Store(int32(Initializing))

		m.Browser.Init(ctx)
		if err := m.sessionStore.Init(); err != nil {
			m.reporter.Suppressed(cache.TierSession, "init", err)
		}
		if err := m.localStore.Init(); err != nil {
			m.reporter.Suppressed(cache.TierLocal, "init", err)
		}
		m.Sweep()
		m.prefetchCritical(ctx)

		m.maintenance = m.schedule(m.cfg.MaintenanceInterval())
		m.state.Store(int32(Ready))
		logrus.Infof("Cache manager ready (session %s)", m.SessionID)
	})
	return m.maintenance
}

// State reports where the manager is in its lifecycle.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Sweep removes expired entries from the session and durable tiers.
func (m *Manager) Sweep() (session, local int) {
	session = m.Session.Cleanup()
	local = m.Local.Cleanup()
	if session > 0 || local > 0 {
		logrus.Debugf("Swept %d session and %d local entries", session, local)
	}
	return session, local
}

// Close stops the maintenance schedule. Init called after Close does nothing.
func (m *Manager) Close() {
	// waits for an Init in flight; a manager closed first never starts one
	m.initOnce.Do(func() {})
	m.maintenance.Stop()
}

func (m *Manager) prefetchCritical(ctx context.Context) {
	p := m.cfg.Prefetch
	for _, link := range p.Links {
		m.Prefetch.PrefetchLink(ctx, link.URL, link.As)
	}
	for _, origin := range p.Preconnect {
		m.Prefetch.Preconnect(ctx, origin)
	}
	for _, host := range p.DNSPrefetch {
		m.Prefetch.DNSPrefetch(ctx, host)
	}
}
