package httpcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
)

type HTTPCache struct {
	store Store
}

// Generates a unique key to store a value, based on URL, method, selected headers, and body
func (d *HTTPCache) GenerateKey(request *http.Request) (string, error) {
	// Hash query parameters
	hash := sha256.Sum256([]byte(request.URL.RawQuery))
	queryHash := hex.EncodeToString(hash[:])[:8]

	// Hash selected headers
	headersToHash := []string{"Accept", "Accept-Encoding", "Accept-Language", "Content-Type"}
	headersStr := ""
	for _, k := range headersToHash {
		if v, ok := request.Header[k]; ok {
			headersStr += k + ":" + strings.Join(v, ",") + "\n"
		}
	}
	headersHash := sha256.Sum256([]byte(headersStr))
	headersHashStr := hex.EncodeToString(headersHash[:])[:8]

	// Hash body (read and restore)
	var bodyHashStr string
	if request.Body != nil && request.Body != http.NoBody {
		bodyBytes, err := io.ReadAll(request.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read request body: %w", err)
		}
		if err := request.Body.Close(); err != nil {
			return "", fmt.Errorf("failed to close request body: %w", err)
		}
		request.Body = io.NopCloser(bytes.NewReader(bodyBytes)) // restore
		if len(bodyBytes) > 0 {
			bodyHash := sha256.Sum256(bodyBytes)
			bodyHashStr = hex.EncodeToString(bodyHash[:])[:8]
		}
	}

	// Build path: host/path/METHOD[_queryhash][_headershash][_bodyhash].bin
	host := strings.TrimSuffix(strings.TrimSuffix(request.URL.Host, ":80"), ":443")
	if host == "" {
		host = "_"
	}
	pathParts := []string{host}

	if request.URL.Path != "" && request.URL.Path != "/" {
		pathParts = append(pathParts, strings.Trim(path.Clean(request.URL.Path), "/"))
	}

	filename := request.Method
	if request.URL.RawQuery != "" {
		filename += "_q" + queryHash
	}
	if headersStr != "" {
		filename += "_h" + headersHashStr
	}
	if bodyHashStr != "" {
		filename += "_b" + bodyHashStr
	}
	filename += ".bin"

	pathParts = append(pathParts, filename)

	return path.Join(pathParts...), nil
}

// KeyFor returns the key a plain GET of rawURL is stored under.
func (d *HTTPCache) KeyFor(rawURL string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}
	return d.GenerateKey(req)
}

func (d *HTTPCache) PutRequest(request *http.Request, resp *http.Response) error {
	cacheKey, err := d.GenerateKey(request)
	if err != nil {
		return fmt.Errorf("failed to generate cache key: %w", err)
	}

	return d.Put(cacheKey, resp)
}

// Put serializes resp under requestKey. The response body stays readable.
func (d *HTTPCache) Put(requestKey string, resp *http.Response) error {
	data, err := Serialize(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := d.store.Set(requestKey, data); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	logrus.Debugf("Stored response under %s", requestKey)
	return nil
}

func (d *HTTPCache) MatchRequest(req *http.Request) (*http.Response, error) {
	requestKey, err := d.GenerateKey(req)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cache key: %w", err)
	}

	resp, err := d.Match(requestKey)
	if err != nil {
		return nil, err
	}
	// Handle no cache hit
	if resp == nil {
		return nil, nil
	}

	// Associate the original request with the response
	resp.Request = req
	return resp, nil
}

// Match returns the response stored under requestKey, or nil, nil on a miss.
func (d *HTTPCache) Match(requestKey string) (*http.Response, error) {
	data, err := d.store.Get(requestKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	if data == nil {
		return nil, nil // Cache miss
	}

	resp, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	return resp, nil
}

func (d *HTTPCache) Delete(requestKey string) error {
	return d.store.Delete(requestKey)
}

// Clear drops every stored response.
func (d *HTTPCache) Clear() error {
	return d.store.Clear()
}

func (d *HTTPCache) Init() error {
	return d.store.Init()
}
