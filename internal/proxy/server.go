// Package proxy hosts the cache tiers behind an HTTP(S) forward proxy: cached
// responses are served from the response tier, cacheable upstream responses
// are stored, and HTML documents get their static assets cached and the
// recorded resource hints declared as Link headers.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/tiercache/internal/config"
	"github.com/iTrooz/tiercache/internal/manager"
)

// Server represents the caching proxy server
type Server struct {
	config  *config.Config
	manager *manager.Manager
	proxy   *goproxy.ProxyHttpServer
	rules   []Rule
}

// New creates a new proxy server serving from m's tiers
func New(cfg *config.Config, m *manager.Manager) (*Server, error) {
	rules := make([]Rule, 0, len(cfg.Rules.Rules))
	for _, rule := range cfg.Rules.Rules {
		rules = append(rules, &ConfigRule{CacheRule: rule})
	}

	s := &Server{
		config:  cfg,
		manager: m,
		proxy:   goproxy.NewProxyHttpServer(),
		rules:   rules,
	}
	s.proxy.Verbose = cfg.Log.Level == "debug" || cfg.Log.Level == "trace"
	s.proxy.Logger = logrus.StandardLogger()

	if cfg.Server.HTTPS.Intercept {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			return nil, err
		}
	}

	s.proxy.OnRequest().DoFunc(s.onRequest)
	s.proxy.OnResponse().DoFunc(s.onResponse)

	return s, nil
}

// GetProxy returns the goproxy handler (exported for testing)
func (s *Server) GetProxy() *goproxy.ProxyHttpServer {
	return s.proxy
}

// Start serves the proxy until ctx is done
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.proxy,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("Failed to shut down proxy: %v", err)
		}
	}()

	logrus.Infof("Starting caching proxy on port %d", s.config.Server.Port)
	logrus.Infof("Local folder: %s", s.config.Local.Folder)
	logrus.Infof("Response tier available: %t", s.manager.Browser.Available())
	logrus.Infof("Rules mode: %s", s.config.Rules.Mode)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
