package httpcache

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httputil"
)

const PREFIX = "---HTTP-RESPONSE---\n"

// Serialize dumps the response, body included, behind PREFIX.
// The response body stays readable afterwards.
func Serialize(resp *http.Response) ([]byte, error) {
	b, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return nil, err
	}

	return append([]byte(PREFIX), b...), nil
}

func Deserialize(b []byte) (*http.Response, error) {
	if len(b) < len(PREFIX) {
		return nil, fmt.Errorf("invalid prefix: entry is only %d bytes", len(b))
	}
	gotPrefix := string(b[0:len(PREFIX)])
	if gotPrefix != PREFIX {
		return nil, fmt.Errorf("invalid prefix: expected '%s', got '%s'", PREFIX, gotPrefix)
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b[len(PREFIX):])), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}

	return resp, nil
}
