// Package observe funnels every failure the cache tiers swallow, plus their
// hit/miss/eviction events, through one hook.
package observe

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Reporter receives cache events. Implementations must be safe for concurrent use
// and must never panic: they run inside best-effort code paths.
type Reporter interface {
	// Suppressed is called for every error a tier swallowed instead of returning.
	Suppressed(tier, op string, err error)
	Hit(tier string)
	Miss(tier string)
	Evicted(tier string, n int)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Suppressed(string, string, error) {}
func (Nop) Hit(string)                       {}
func (Nop) Miss(string)                      {}
func (Nop) Evicted(string, int)              {}

// Classifier maps a suppressed error to a short reason label.
type Classifier func(err error) string

// Hook logs suppressed failures with logrus and counts events in Prometheus.
type Hook struct {
	classify Classifier

	suppressed *prometheus.CounterVec
	hits       *prometheus.CounterVec
	misses     *prometheus.CounterVec
	evictions  *prometheus.CounterVec

	quotaPressure *atomic.Int64
}

// NewHook creates a hook and registers its metrics with reg.
// quotaErr is the error treated as quota pressure; classify may be nil.
func NewHook(reg prometheus.Registerer, quotaErr error, classify Classifier) *Hook {
	if classify == nil {
		classify = func(err error) string {
			if quotaErr != nil && errors.Is(err, quotaErr) {
				return "quota"
			}
			return "error"
		}
	}

	h := &Hook{
		classify: classify,
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tiercache_suppressed_errors_total",
			Help: "Errors swallowed by cache tiers instead of being returned to callers",
		}, []string{"tier", "op", "reason"}),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tiercache_hits_total",
			Help: "Reads served by a cache tier",
		}, []string{"tier"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tiercache_misses_total",
			Help: "Reads a cache tier could not serve",
		}, []string{"tier"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tiercache_evictions_total",
			Help: "Entries removed to make room",
		}, []string{"tier"}),
		quotaPressure: atomic.NewInt64(0),
	}

	if reg != nil {
		reg.MustRegister(h.suppressed, h.hits, h.misses, h.evictions)
	}
	return h
}

func (h *Hook) Suppressed(tier, op string, err error) {
	reason := h.classify(err)
	h.suppressed.WithLabelValues(tier, op, reason).Inc()
	if reason == "quota" {
		h.quotaPressure.Inc()
	}

	logrus.WithFields(logrus.Fields{
		"tier":   tier,
		"op":     op,
		"reason": reason,
	}).WithError(err).Warn("cache operation failed, continuing without it")
}

func (h *Hook) Hit(tier string) {
	h.hits.WithLabelValues(tier).Inc()
}

func (h *Hook) Miss(tier string) {
	h.misses.WithLabelValues(tier).Inc()
}

func (h *Hook) Evicted(tier string, n int) {
	h.evictions.WithLabelValues(tier).Add(float64(n))
	logrus.WithField("tier", tier).Debugf("Evicted %d entries", n)
}

// QuotaPressure returns how many writes have been rejected for quota since start.
func (h *Hook) QuotaPressure() int64 {
	return h.quotaPressure.Load()
}
