package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockClock() *clock.Mock {
	c := clock.NewMock()
	c.Set(epoch)
	return c
}

// recorder is a Reporter keeping every suppressed error.
type recorder struct {
	mu         sync.Mutex
	suppressed []error
	ops        []string
	hits       map[string]int
	misses     map[string]int
	evicted    map[string]int
}

func newRecorder() *recorder {
	return &recorder{hits: map[string]int{}, misses: map[string]int{}, evicted: map[string]int{}}
}

func (r *recorder) Suppressed(tier, op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suppressed = append(r.suppressed, err)
	r.ops = append(r.ops, tier+"/"+op)
}

func (r *recorder) Hit(tier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits[tier]++
}

func (r *recorder) Miss(tier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses[tier]++
}

func (r *recorder) Evicted(tier string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted[tier] += n
}

func (r *recorder) sawQuota() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, err := range r.suppressed {
		if errors.Is(err, ErrQuotaExceeded) {
			return true
		}
	}
	return false
}

// flakyStore fails the next failSets writes with ErrQuotaExceeded.
type flakyStore struct {
	*MemoryStore
	failSets int
}

func (f *flakyStore) Set(key string, value []byte) error {
	if f.failSets > 0 {
		f.failSets--
		return ErrQuotaExceeded
	}
	return f.MemoryStore.Set(key, value)
}

func testOptions(t *testing.T) (Options, *clock.Mock, *recorder) {
	t.Helper()
	c := newMockClock()
	r := newRecorder()
	return Options{Clock: c, Reporter: r}, c, r
}
