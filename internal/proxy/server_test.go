package proxy

import (
	"crypto/tls"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/iTrooz/tiercache/internal/config"
	"github.com/iTrooz/tiercache/internal/manager"
)

func TestNew(t *testing.T) {
	cfg := fixture_config(t, &config.RulesConfig{Mode: "whitelist"})

	s, err := New(cfg, manager.New(cfg))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.GetProxy() == nil {
		t.Fatalf("GetProxy() returned nil")
	}
}

func TestNewWithMissingCA(t *testing.T) {
	cfg := fixture_config(t, nil)
	cfg.Server.HTTPS = config.HTTPSConfig{
		Intercept:  true,
		CACertFile: "/nonexistent/ca.pem",
		CAKeyFile:  "/nonexistent/ca.key",
	}

	if _, err := New(cfg, manager.New(cfg)); err == nil {
		t.Errorf("Expected an error for a missing CA")
	}
}

func TestConfigRuleMatch(t *testing.T) {
	rule := &ConfigRule{
		CacheRule: config.CacheRule{
			BaseURI: "https://api.example.com",
			Methods: []string{"GET", "post"},
		},
	}

	tests := []struct {
		name      string
		targetURL string
		method    string
		want      bool
	}{
		{
			name:      "matching URL and method",
			targetURL: "https://api.example.com/users",
			method:    "GET",
			want:      true,
		},
		{
			name:      "method is case insensitive",
			targetURL: "https://api.example.com/users",
			method:    "POST",
			want:      true,
		},
		{
			name:      "non-matching method",
			targetURL: "https://api.example.com/users",
			method:    "DELETE",
			want:      false,
		},
		{
			name:      "non-matching URL",
			targetURL: "https://cdn.example.com/app.js",
			method:    "GET",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.targetURL)
			if err != nil {
				t.Fatalf("Failed to parse URL %s: %v", tt.targetURL, err)
			}

			requ := &http.Request{
				URL:    u,
				Method: tt.method,
			}

			got := rule.Match(requ)
			if got != tt.want {
				t.Errorf("ConfigRule.Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigRuleWithoutMethods(t *testing.T) {
	rule := &ConfigRule{CacheRule: config.CacheRule{BaseURI: "http://static.local"}}
	requ := &http.Request{Method: http.MethodPut, Host: "static.local", URL: &url.URL{Path: "/a.js"}}

	if !rule.Match(requ) {
		t.Errorf("Expected a rule without methods to match every method")
	}
}

func TestCertStore(t *testing.T) {
	store := newCertStore()
	calls := 0
	gen := func() (*tls.Certificate, error) {
		calls++
		return &tls.Certificate{}, nil
	}

	first, err := store.Fetch("example.com", gen)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	second, _ := store.Fetch("example.com", gen)
	if first != second || calls != 1 {
		t.Errorf("Expected one generated certificate, got %d generations", calls)
	}

	_, err = store.Fetch("broken.example.com", func() (*tls.Certificate, error) {
		return nil, errors.New("no key")
	})
	if err == nil {
		t.Errorf("Expected generation error to be returned")
	}
}
