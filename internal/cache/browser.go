package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/tiercache/internal/cache/httpcache"
)

const (
	// DefaultResponseMaxAge is how long a stored response stays fresh.
	DefaultResponseMaxAge = 7 * 24 * time.Hour
	// DateHeader carries the capture time of a stored response, in unix milliseconds.
	DateHeader = "X-Tiercache-Date"
)

// ResponseCache is the network-response tier: a durable request/response store
// where entries go stale after a fixed max age. A ResponseCache built over a nil
// store has no backing capability and every operation is a no-op.
type ResponseCache struct {
	mu        sync.RWMutex
	responses *httpcache.HTTPCache
	available bool
	maxAge    time.Duration
	opts      Options
}

// NewResponseCache creates the response tier over store. A nil store means the
// host has no response store.
func NewResponseCache(store httpcache.Store, maxAge time.Duration, opts Options) *ResponseCache {
	if maxAge <= 0 {
		maxAge = DefaultResponseMaxAge
	}
	r := &ResponseCache{
		available: store != nil,
		maxAge:    maxAge,
		opts:      opts.withDefaults(),
	}
	if r.available {
		r.responses = httpcache.New(store)
	}
	return r
}

// Init opens the underlying store. If that fails the tier disables itself.
func (r *ResponseCache) Init(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.available {
		logrus.Debugf("Response store unavailable, %s tier disabled", TierBrowser)
		return
	}
	if err := ctx.Err(); err != nil {
		r.opts.Reporter.Suppressed(TierBrowser, "init", err)
		return
	}
	if err := r.responses.Init(); err != nil {
		r.available = false
		r.opts.Reporter.Suppressed(TierBrowser, "init", fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
}

// Available reports whether the tier has a working backing store.
func (r *ResponseCache) Available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available
}

// Get returns the fresh response stored for a GET of requestKey (a URL).
func (r *ResponseCache) Get(ctx context.Context, requestKey string) (*http.Response, bool) {
	if !r.Available() {
		return nil, false
	}
	key, err := r.responses.KeyFor(requestKey)
	if err != nil {
		r.opts.Reporter.Suppressed(TierBrowser, "get", err)
		return nil, false
	}
	return r.match(ctx, key, nil)
}

// GetRequest returns the fresh response stored for req.
func (r *ResponseCache) GetRequest(req *http.Request) (*http.Response, bool) {
	if !r.Available() {
		return nil, false
	}
	key, err := r.responses.GenerateKey(req)
	if err != nil {
		r.opts.Reporter.Suppressed(TierBrowser, "get", err)
		return nil, false
	}
	return r.match(req.Context(), key, req)
}

// Set stores a copy of resp for a GET of requestKey. resp stays consumable.
func (r *ResponseCache) Set(ctx context.Context, requestKey string, resp *http.Response) {
	if !r.Available() {
		return
	}
	key, err := r.responses.KeyFor(requestKey)
	if err != nil {
		r.opts.Reporter.Suppressed(TierBrowser, "set", err)
		return
	}
	r.put(ctx, key, resp)
}

// SetRequest stores a copy of resp for req. resp stays consumable.
func (r *ResponseCache) SetRequest(req *http.Request, resp *http.Response) {
	if !r.Available() {
		return
	}
	key, err := r.responses.GenerateKey(req)
	if err != nil {
		r.opts.Reporter.Suppressed(TierBrowser, "set", err)
		return
	}
	r.put(req.Context(), key, resp)
}

// Clear deletes the whole response store.
func (r *ResponseCache) Clear(ctx context.Context) {
	if !r.Available() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.responses.Clear(); err != nil {
		r.opts.Reporter.Suppressed(TierBrowser, "clear", err)
	}
}

func (r *ResponseCache) match(ctx context.Context, key string, req *http.Request) (*http.Response, bool) {
	if err := ctx.Err(); err != nil {
		return nil, false
	}

	r.mu.RLock()
	resp, err := r.responses.Match(key)
	r.mu.RUnlock()
	if err != nil {
		r.opts.Reporter.Suppressed(TierBrowser, "get", err)
		r.remove(key)
		return nil, false
	}
	if resp == nil {
		r.opts.Reporter.Miss(TierBrowser)
		return nil, false
	}

	if r.stale(resp) {
		_ = resp.Body.Close()
		r.remove(key)
		r.opts.Reporter.Miss(TierBrowser)
		return nil, false
	}

	resp.Request = req
	r.opts.Reporter.Hit(TierBrowser)
	return resp, true
}

// stale reports whether resp was captured more than maxAge ago. Responses
// without a capture date are fresh; an unreadable date is stale.
func (r *ResponseCache) stale(resp *http.Response) bool {
	raw := resp.Header.Get(DateHeader)
	if raw == "" {
		return false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return true
	}
	return r.opts.Clock.Now().Sub(time.UnixMilli(ms)) > r.maxAge
}

func (r *ResponseCache) put(ctx context.Context, key string, resp *http.Response) {
	if err := ctx.Err(); err != nil {
		return
	}
	stored, err := r.snapshot(resp)
	if err != nil {
		r.opts.Reporter.Suppressed(TierBrowser, "set", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.responses.Put(key, stored); err != nil {
		r.opts.Reporter.Suppressed(TierBrowser, "set", err)
	}
}

// snapshot buffers resp's body, restores it for the caller, and returns a
// stamped copy to store.
func (r *ResponseCache) snapshot(resp *http.Response) (*http.Response, error) {
	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			resp.Body = io.NopCloser(bytes.NewReader(body))
			return nil, fmt.Errorf("reading response body: %w", err)
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))
	}

	clone := &http.Response{
		Status:        resp.Status,
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        resp.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
	if clone.Header == nil {
		clone.Header = make(http.Header)
	}
	if clone.StatusCode == 0 {
		clone.StatusCode = http.StatusOK
	}
	clone.Header.Del("Transfer-Encoding")
	clone.Header.Del("Content-Length")
	clone.Header.Set(DateHeader, strconv.FormatInt(r.opts.Clock.Now().UnixMilli(), 10))
	return clone, nil
}

func (r *ResponseCache) remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.responses.Delete(key); err != nil {
		r.opts.Reporter.Suppressed(TierBrowser, "delete", err)
	}
}
