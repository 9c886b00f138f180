package manager

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/iTrooz/tiercache/internal/cache"
	"github.com/iTrooz/tiercache/internal/config"
	"github.com/iTrooz/tiercache/internal/observe"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Local.Folder = filepath.Join(t.TempDir(), "local")
	cfg.Browser.Folder = filepath.Join(t.TempDir(), "responses")
	return &cfg
}

func newMock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return mock
}

func keyCount(t *testing.T, s cache.Store) int {
	t.Helper()
	keys, err := s.Keys()
	require.NoError(t, err)
	return len(keys)
}

func TestInitIsIdempotent(t *testing.T) {
	m := New(testConfig(t), WithClock(newMock()))
	assert.Equal(t, Uninitialized, m.State())

	first := m.Init(context.Background())
	second := m.Init(context.Background())
	defer m.Close()

	require.NotNil(t, first)
	assert.Same(t, first, second)
	assert.Equal(t, Ready, m.State())
	assert.Equal(t, "ready", m.State().String())
	assert.True(t, m.Browser.Available())
}

func TestCloseWithoutInit(t *testing.T) {
	m := New(testConfig(t))
	m.Close()
	assert.Equal(t, Uninitialized, m.State())
}

func TestInitSweepsExpiredEntries(t *testing.T) {
	mock := newMock()
	sessionStore := cache.NewMemoryStore(0)
	localStore := cache.NewMemoryStore(0)
	m := New(testConfig(t), WithClock(mock), WithSessionStore(sessionStore), WithLocalStore(localStore))

	m.Session.Set("wizard", "step-2", time.Minute)
	m.Local.Set("theme", "dark", time.Minute)
	m.Local.Set("lang", "fr", 0)
	mock.Add(2 * time.Minute)

	m.Init(context.Background())
	defer m.Close()

	assert.Equal(t, 0, keyCount(t, sessionStore))
	assert.Equal(t, 1, keyCount(t, localStore))

	var lang string
	assert.True(t, m.Local.Get("lang", &lang))
	assert.Equal(t, "fr", lang)
}

func TestMaintenanceSweepsEveryInterval(t *testing.T) {
	mock := newMock()
	sessionStore := cache.NewMemoryStore(0)
	m := New(testConfig(t), WithClock(mock), WithSessionStore(sessionStore), WithLocalStore(cache.NewMemoryStore(0)))
	m.Init(context.Background())
	defer m.Close()

	m.Session.Set("draft", "hello", 10*time.Minute)
	require.Equal(t, 1, keyCount(t, sessionStore))

	mock.Add(time.Hour)
	require.Eventually(t, func() bool {
		return keyCount(t, sessionStore) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMaintenanceStop(t *testing.T) {
	mock := newMock()
	sessionStore := cache.NewMemoryStore(0)
	m := New(testConfig(t), WithClock(mock), WithSessionStore(sessionStore), WithLocalStore(cache.NewMemoryStore(0)))
	mt := m.Init(context.Background())

	m.Session.Set("draft", "hello", 10*time.Minute)
	mt.Stop()
	mt.Stop()

	mock.Add(2 * time.Hour)
	require.Never(t, func() bool {
		return keyCount(t, sessionStore) == 0
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSessionKeysAreScopedToTheManager(t *testing.T) {
	shared := cache.NewMemoryStore(0)
	cfg := testConfig(t)
	first := New(cfg, WithSessionStore(shared))
	second := New(cfg, WithSessionStore(shared))
	require.NotEqual(t, first.SessionID, second.SessionID)

	first.Session.Set("filters", []string{"open"}, 0)

	var filters []string
	assert.True(t, first.Session.Get("filters", &filters))
	assert.Equal(t, []string{"open"}, filters)
	assert.False(t, second.Session.Get("filters", &filters))

	keys, err := shared.Keys()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "session_"))
}

func TestLocalSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)

	first := New(cfg)
	first.Init(context.Background())
	first.Local.Set("theme", "dark", 0)
	first.Close()

	second := New(cfg)
	second.Init(context.Background())
	defer second.Close()

	var theme string
	assert.True(t, second.Local.Get("theme", &theme))
	assert.Equal(t, "dark", theme)
	assert.Equal(t, 1, second.Local.Len())
}

func TestInitHintsCriticalResources(t *testing.T) {
	cfg := testConfig(t)
	cfg.Prefetch.Links = []config.PrefetchLink{{URL: "/api/user/profile", As: "fetch"}}
	cfg.Prefetch.Preconnect = []string{"https://fonts.gstatic.com"}
	cfg.Prefetch.DNSPrefetch = []string{"fonts.googleapis.com"}

	m := New(cfg, WithLocalStore(cache.NewMemoryStore(0)))
	m.Init(context.Background())
	m.Init(context.Background())
	defer m.Close()

	assert.True(t, m.Prefetch.Registered("/api/user/profile"))
	assert.True(t, m.Prefetch.Registered("https://fonts.gstatic.com"))

	header := http.Header{}
	m.Links.Apply(header)
	assert.Equal(t, []string{
		"</api/user/profile>; rel=prefetch; as=fetch",
		"<https://fonts.gstatic.com>; rel=preconnect",
		"<//fonts.googleapis.com>; rel=dns-prefetch",
	}, header.Values("Link"))
}

func TestWarmPrefetchFillsResponseTier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Ada"}`))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Prefetch.Warm = true
	cfg.Prefetch.BaseURL = srv.URL
	cfg.Prefetch.Links = []config.PrefetchLink{{URL: "/api/user/profile", As: "fetch"}}

	m := New(cfg, WithResponseStore(cache.NewMemoryStore(0)), WithLocalStore(cache.NewMemoryStore(0)))
	m.Init(context.Background())
	defer m.Close()

	require.Eventually(t, func() bool {
		resp, ok := m.Browser.Get(context.Background(), srv.URL+"/api/user/profile")
		if ok {
			resp.Body.Close()
		}
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	profile, ok := cache.GetJSON[struct{ Name string }](context.Background(), m.API, srv.URL+"/api/user/profile")
	require.True(t, ok)
	assert.Equal(t, "Ada", profile.Name)
}

type assetServer struct {
	mu   sync.Mutex
	hits map[string]int
}

func (s *assetServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	s.mu.Unlock()

	switch r.URL.Path {
	case "/logo.png":
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	case "/style.css":
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte("body{}"))
	default:
		http.NotFound(w, r)
	}
}

func (s *assetServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

const page = `<!doctype html>
<html>
<head>
  <link rel="stylesheet" href="/style.css">
  <link rel="icon" href="/favicon.ico">
  <link rel="preload stylesheet" href="/missing.css">
</head>
<body>
  <img src="logo.png">
  <img src="/logo.png#top">
  <img src="data:image/gif;base64,R0lGODlhAQABAAAAACw=">
</body>
</html>`

func TestCacheStaticAssets(t *testing.T) {
	assets := &assetServer{hits: make(map[string]int)}
	srv := httptest.NewServer(assets)
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := New(testConfig(t),
		WithResponseStore(cache.NewMemoryStore(0)),
		WithReporter(observe.NewHook(reg, cache.ErrQuotaExceeded, nil)),
	)
	base, err := url.Parse(srv.URL + "/index.html")
	require.NoError(t, err)

	m.CacheStaticAssets(context.Background(), strings.NewReader(page), base)

	assert.Equal(t, 1, assets.count("/logo.png"))
	assert.Equal(t, 1, assets.count("/style.css"))
	assert.Equal(t, 1, assets.count("/missing.css"))
	assert.Equal(t, 0, assets.count("/favicon.ico"))

	resp, ok := m.Browser.Get(context.Background(), srv.URL+"/logo.png")
	require.True(t, ok)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "png", string(body))

	_, ok = m.Browser.Get(context.Background(), srv.URL+"/missing.css")
	assert.False(t, ok)

	count, err := testutil.GatherAndCount(reg, "tiercache_suppressed_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCacheStaticAssetsWithoutResponseTier(t *testing.T) {
	assets := &assetServer{hits: make(map[string]int)}
	srv := httptest.NewServer(assets)
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Browser.Enabled = false
	m := New(cfg)
	require.False(t, m.Browser.Available())

	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	m.CacheStaticAssets(context.Background(), strings.NewReader(page), base)

	assert.Equal(t, 0, assets.count("/logo.png"))
}

func TestStaticAssets(t *testing.T) {
	base, err := url.Parse("https://app.example.com/intake/")
	require.NoError(t, err)

	root, err := html.Parse(strings.NewReader(page))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://app.example.com/style.css",
		"https://app.example.com/missing.css",
		"https://app.example.com/intake/logo.png",
		"https://app.example.com/logo.png",
	}, staticAssets(root, base))
}

func TestConfiguredTierTTLs(t *testing.T) {
	mock := newMock()
	cfg := testConfig(t)
	cfg.Memory.TTL = "1m"
	cfg.Session.TTL = "10m"
	cfg.Local.TTL = "1h"
	m := New(cfg, WithClock(mock), WithSessionStore(cache.NewMemoryStore(0)), WithLocalStore(cache.NewMemoryStore(0)))

	m.Memory.Set("m", []byte("v"), 0)
	m.Session.Set("s", "v", 0)
	m.Local.Set("l", "v", 0)

	mock.Add(2 * time.Minute)
	_, ok := m.Memory.Get("m")
	assert.False(t, ok)
	assert.True(t, m.Session.Get("s", new(string)))

	mock.Add(9 * time.Minute)
	assert.False(t, m.Session.Get("s", new(string)))
	assert.True(t, m.Local.Get("l", new(string)))

	mock.Add(time.Hour)
	assert.False(t, m.Local.Get("l", new(string)))
}

func TestInitAfterCloseDoesNothing(t *testing.T) {
	m := New(testConfig(t), WithClock(newMock()), WithSessionStore(cache.NewMemoryStore(0)), WithLocalStore(cache.NewMemoryStore(0)))
	m.Close()

	assert.Nil(t, m.Init(context.Background()))
	assert.Equal(t, Uninitialized, m.State())
}

func TestCloseRacingInit(t *testing.T) {
	for i := 0; i < 20; i++ {
		m := New(testConfig(t), WithClock(newMock()), WithSessionStore(cache.NewMemoryStore(0)), WithLocalStore(cache.NewMemoryStore(0)))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Init(context.Background())
		}()
		go func() {
			defer wg.Done()
			m.Close()
		}()
		wg.Wait()

		mt := m.Init(context.Background())
		switch m.State() {
		case Uninitialized:
			assert.Nil(t, mt)
		case Ready:
			require.NotNil(t, mt)
			select {
			case <-mt.done:
			default:
				t.Fatal("maintenance still running after Close")
			}
		default:
			t.Fatalf("unexpected state %s", m.State())
		}
	}
}
