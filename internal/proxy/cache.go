package proxy

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"
)

// exchange follows a request from OnRequest to OnResponse
type exchange struct {
	// key is an untouched copy of the request, since goproxy strips
	// headers and drains the body before forwarding the original
	key       *http.Request
	cacheable bool
	hit       bool
}

func (s *Server) onRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	ex := &exchange{cacheable: s.shouldBeCached(requ)}
	ctx.UserData = ex
	if !ex.cacheable {
		logrus.Debugf("Not caching %s %s (excluded by rules)", requ.Method, requ.URL)
		return requ, nil
	}

	key, err := snapshotRequest(requ)
	if err != nil {
		logrus.Errorf("Failed to read request body for %s: %v", requ.URL, err)
		ex.cacheable = false
		return requ, nil
	}
	ex.key = key

	if resp := s.getCachedResponse(key); resp != nil {
		ex.hit = true
		resp.Request = requ
		return requ, resp
	}
	return requ, nil
}

func (s *Server) onResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil {
		return nil
	}
	ex, _ := ctx.UserData.(*exchange)
	if ex == nil {
		return resp
	}

	html := resp.StatusCode == http.StatusOK && isHTML(resp)
	if !ex.hit {
		if ex.cacheable && resp.StatusCode == http.StatusOK {
			s.cacheResponse(ex.key, resp)
			if html {
				s.cacheDocumentAssets(ctx.Req, resp)
			}
		}
		resp.Header.Set("X-Cache", "MISS")
	}
	if html {
		s.manager.Links.Apply(resp.Header)
	}

	logrus.Infof("%s %s -> %d (%s)", ctx.Req.Method, getTargetURL(ctx.Req), resp.StatusCode, resp.Header.Get("X-Cache"))
	return resp
}

// getCachedResponse returns a cached HTTP response if available
func (s *Server) getCachedResponse(requ *http.Request) *http.Response {
	resp, ok := s.manager.Browser.GetRequest(requ)
	if !ok {
		logrus.Debugf("No cached data found for %s", requ.URL)
		return nil
	}
	resp.Header.Set("X-Cache", "HIT")
	return resp
}

// shouldBeCached determines if a request should be cached based on rules
func (s *Server) shouldBeCached(requ *http.Request) bool {
	matched := false
	for _, rule := range s.rules {
		if rule.Match(requ) {
			matched = true
			break
		}
	}

	if s.config.Rules.Mode == "whitelist" {
		return matched
	}
	return !matched
}

// cacheResponse stores a response in the response tier; resp stays readable
func (s *Server) cacheResponse(key *http.Request, resp *http.Response) {
	s.manager.Browser.SetRequest(key, resp)
}

// cacheDocumentAssets caches the assets of a loaded document in the background
func (s *Server) cacheDocumentAssets(requ *http.Request, resp *http.Response) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		logrus.Errorf("Failed to read document %s: %v", requ.URL, err)
		return
	}

	ctx := context.WithoutCancel(requ.Context())
	base := *requ.URL
	go s.manager.CacheStaticAssets(ctx, bytes.NewReader(body), &base)
}

func isHTML(resp *http.Response) bool {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mediaType == "text/html"
}

// snapshotRequest copies requ with its body, leaving requ readable
func snapshotRequest(requ *http.Request) (*http.Request, error) {
	clone := requ.Clone(requ.Context())
	if requ.Body == nil || requ.Body == http.NoBody {
		return clone, nil
	}

	body, err := io.ReadAll(requ.Body)
	_ = requ.Body.Close()
	requ.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	clone.Body = io.NopCloser(bytes.NewReader(body))
	return clone, nil
}
