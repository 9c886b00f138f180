package prefetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/iTrooz/tiercache/internal/observe"
)

// StoreFunc receives a successfully prefetched response. It must not retain
// resp.Body past its return.
type StoreFunc func(ctx context.Context, url string, resp *http.Response)

// WarmSink acts on hints in the background: prefetches are fetched and handed
// to a StoreFunc, preconnects open and close a TCP connection, dns-prefetches
// resolve the host.
type WarmSink struct {
	client   *http.Client
	dialer   *net.Dialer
	resolver *net.Resolver
	store    StoreFunc
	timeout  time.Duration
	reporter observe.Reporter
	group    singleflight.Group

	// base resolves relative prefetch URLs; nil leaves them unresolved.
	base *url.URL
}

// NewWarmSink creates a warming sink. Each action is bounded by timeout.
func NewWarmSink(client *http.Client, base *url.URL, store StoreFunc, timeout time.Duration, reporter observe.Reporter) *WarmSink {
	if client == nil {
		client = http.DefaultClient
	}
	if reporter == nil {
		reporter = observe.Nop{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WarmSink{
		client:   client,
		dialer:   &net.Dialer{},
		resolver: net.DefaultResolver,
		store:    store,
		timeout:  timeout,
		reporter: reporter,
		base:     base,
	}
}

// Hint schedules the warm action and returns immediately.
func (w *WarmSink) Hint(ctx context.Context, h Hint) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
		defer cancel()
		if err := w.Warm(ctx, h); err != nil {
			w.reporter.Suppressed(tier, string(h.Rel), fmt.Errorf("%s: %w", h.Href, err))
		}
	}()
	return nil
}

// Warm performs the action for h synchronously.
func (w *WarmSink) Warm(ctx context.Context, h Hint) error {
	switch h.Rel {
	case Prefetch:
		return w.prefetch(ctx, h.Href)
	case Preconnect:
		return w.preconnect(ctx, h.Href)
	case DNSPrefetch:
		_, err := w.resolver.LookupHost(ctx, strings.TrimPrefix(h.Href, "//"))
		return err
	default:
		return fmt.Errorf("unknown hint rel %q", h.Rel)
	}
}

func (w *WarmSink) prefetch(ctx context.Context, href string) error {
	target, err := w.resolve(href)
	if err != nil {
		return err
	}

	_, err, _ = w.group.Do(target, func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		if w.store != nil {
			w.store(ctx, target, resp)
		}
		logrus.Debugf("Prefetched %s", target)
		return nil, nil
	})
	return err
}

func (w *WarmSink) preconnect(ctx context.Context, origin string) error {
	u, err := url.Parse(origin)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("origin %q has no host", origin)
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}

	conn, err := w.dialer.DialContext(ctx, "tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return err
	}
	return conn.Close()
}

func (w *WarmSink) resolve(href string) (string, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	if !u.IsAbs() {
		if w.base == nil {
			return "", fmt.Errorf("relative URL %q without a base", href)
		}
		u = w.base.ResolveReference(u)
	}
	return u.String(), nil
}
