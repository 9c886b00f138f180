package prefetch

import (
	"context"
	"net/http"
	"sync"
)

// LinkSink records hints so they can be declared to clients as Link headers.
type LinkSink struct {
	mu    sync.Mutex
	hints []Hint
}

func NewLinkSink() *LinkSink {
	return &LinkSink{}
}

func (s *LinkSink) Hint(_ context.Context, h Hint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hints = append(s.hints, h)
	return nil
}

// Hints returns a copy of the recorded hints, in emission order.
func (s *LinkSink) Hints() []Hint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Hint, len(s.hints))
	copy(out, s.hints)
	return out
}

// Apply adds one Link header per recorded hint to h.
func (s *LinkSink) Apply(h http.Header) {
	for _, hint := range s.Hints() {
		h.Add("Link", hint.String())
	}
}
