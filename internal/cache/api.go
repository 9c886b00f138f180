package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultPromoteTTL is how long a value found in the response tier stays in memory.
	DefaultPromoteTTL = 60 * time.Second
	// DefaultWriteTTL is how long a value written through the facade stays in memory.
	DefaultWriteTTL = 300 * time.Second
)

// APICache is the read-through/write-through facade over the memory and
// response tiers. Payloads are JSON documents keyed by URL.
type APICache struct {
	memory     *Memory[[]byte]
	responses  *ResponseCache
	promoteTTL time.Duration
	writeTTL   time.Duration
	opts       Options
}

// NewAPI composes memory and responses. Non-positive TTLs select the defaults.
func NewAPI(memory *Memory[[]byte], responses *ResponseCache, promoteTTL, writeTTL time.Duration, opts Options) *APICache {
	if promoteTTL <= 0 {
		promoteTTL = DefaultPromoteTTL
	}
	if writeTTL <= 0 {
		writeTTL = DefaultWriteTTL
	}
	return &APICache{
		memory:     memory,
		responses:  responses,
		promoteTTL: promoteTTL,
		writeTTL:   writeTTL,
		opts:       opts.withDefaults(),
	}
}

// Get returns the JSON payload cached for url. Memory is consulted first; a
// response-tier hit is promoted into memory. A miss in both means the caller
// must fetch.
func (a *APICache) Get(ctx context.Context, url string) ([]byte, bool) {
	if data, ok := a.memory.Get(url); ok {
		return bytes.Clone(data), true
	}

	resp, ok := a.responses.Get(ctx, url)
	if !ok {
		a.opts.Reporter.Miss(TierAPI)
		return nil, false
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err == nil && !json.Valid(data) {
		err = fmt.Errorf("%w: response for %s is not JSON", ErrCorrupted, url)
	}
	if err != nil {
		a.opts.Reporter.Suppressed(TierAPI, "get", err)
		return nil, false
	}

	a.memory.Set(url, bytes.Clone(data), a.promoteTTL)
	return data, true
}

// Set writes data through to memory and the response tier.
func (a *APICache) Set(ctx context.Context, url string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		a.opts.Reporter.Suppressed(TierAPI, "set", err)
		return
	}

	a.memory.Set(url, payload, a.writeTTL)
	a.responses.Set(ctx, url, &http.Response{
		StatusCode:    http.StatusOK,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"application/json"}},
		Body:          io.NopCloser(bytes.NewReader(payload)),
		ContentLength: int64(len(payload)),
	})
}

// GetJSON reads url through c and decodes it into a T.
func GetJSON[T any](ctx context.Context, c *APICache, url string) (T, bool) {
	var out T
	data, ok := c.Get(ctx, url)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		c.opts.Reporter.Suppressed(TierAPI, "decode", fmt.Errorf("%w: %v", ErrCorrupted, err))
		return out, false
	}
	return out, true
}
