package manager

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/iTrooz/tiercache/internal/cache"
)

// CacheStaticAssets stores the images and stylesheets referenced by a loaded
// HTML document in the response tier. It is best-effort: every failure is
// reported and the remaining assets are still fetched.
func (m *Manager) CacheStaticAssets(ctx context.Context, doc io.Reader, base *url.URL) {
	if !m.Browser.Available() {
		return
	}

	root, err := html.Parse(doc)
	if err != nil {
		m.reporter.Suppressed(cache.TierBrowser, "assets", fmt.Errorf("parsing document: %w", err))
		return
	}
	refs := staticAssets(root, base)
	if len(refs) == 0 {
		return
	}

	limit := m.cfg.Prefetch.AssetConcurrency
	if limit <= 0 {
		limit = 4
	}
	var g errgroup.Group
	g.SetLimit(limit)
	cached := atomic.NewInt32(0)
	for _, ref := range refs {
		g.Go(func() error {
			if err := m.fetchAsset(ctx, ref); err != nil {
				m.reporter.Suppressed(cache.TierBrowser, "assets", fmt.Errorf("%s: %w", ref, err))
				return nil
			}
			cached.Inc()
			return nil
		})
	}
	_ = g.Wait()

	logrus.Debugf("Cached %d/%d static assets", cached.Load(), len(refs))
}

func (m *Manager) fetchAsset(ctx context.Context, target string) error {
	_, err, _ := m.assets.Do(target, func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		resp, err := m.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		m.Browser.Set(ctx, target, resp)
		return nil, nil
	})
	return err
}

// staticAssets returns the absolute http(s) URLs of <img src> and
// <link rel=stylesheet href> elements, without duplicates, in document order.
func staticAssets(root *html.Node, base *url.URL) []string {
	var refs []string
	seen := make(map[string]bool)

	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		u, err := url.Parse(raw)
		if err != nil {
			return
		}
		if base != nil {
			u = base.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		u.Fragment = ""
		s := u.String()
		if !seen[s] {
			seen[s] = true
			refs = append(refs, s)
		}
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "img":
				add(attr(n, "src"))
			case "link":
				if hasToken(attr(n, "rel"), "stylesheet") {
					add(attr(n, "href"))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return refs
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if strings.EqualFold(f, token) {
			return true
		}
	}
	return false
}
