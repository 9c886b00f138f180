package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/iTrooz/tiercache/internal/config"
	"github.com/iTrooz/tiercache/internal/manager"
)

const page = `<html><head><link rel="stylesheet" href="/app.css"></head>
<body><img src="/logo.png"></body></html>`

// fixture_upstream creates a test upstream server
func fixture_upstream() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		switch requ.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(page))
		case "/app.css":
			w.Header().Set("Content-Type", "text/css")
			_, _ = w.Write([]byte("body{}"))
		case "/logo.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png"))
		case "/missing":
			http.NotFound(w, requ)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"message": "Hello from upstream", "path": "` + requ.URL.Path + `"}`))
		}
	}))
}

// fixture_config creates a test config with optional rules
func fixture_config(t *testing.T, rules *config.RulesConfig) *config.Config {
	tempDir := t.TempDir()
	cfg := config.Default()
	cfg.Local.Folder = filepath.Join(tempDir, "local")
	cfg.Browser.Folder = filepath.Join(tempDir, "responses")

	if rules != nil {
		cfg.Rules = *rules
	}
	return &cfg
}

// fixture_proxy creates a proxy server with the given config and returns the
// manager, the test server and an HTTP client going through it
func fixture_proxy(t *testing.T, cfg *config.Config) (*manager.Manager, *httptest.Server, *http.Client) {
	m := manager.New(cfg)
	m.Init(context.Background())
	t.Cleanup(m.Close)

	proxyServer, err := New(cfg, m)
	if err != nil {
		t.Fatalf("Failed to create proxy server: %v", err)
	}

	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())
	t.Cleanup(proxyTestServer.Close)

	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
		Timeout: 10 * time.Second,
	}
	return m, proxyTestServer, client
}
