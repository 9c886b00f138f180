package cache

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/iTrooz/tiercache/internal/observe"
)

// Tier names used in logs and metrics.
const (
	TierMemory  = "memory"
	TierSession = "session"
	TierLocal   = "local"
	TierBrowser = "browser"
	TierAPI     = "api"
)

// Options carries the collaborators shared by every tier.
type Options struct {
	Clock    clock.Clock
	Reporter observe.Reporter
	// DefaultTTL applies when Set is given a non-positive TTL. Zero selects
	// the tier's built-in default.
	DefaultTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Reporter == nil {
		o.Reporter = observe.Nop{}
	}
	return o
}

func (o Options) ttlOr(fallback time.Duration) time.Duration {
	if o.DefaultTTL > 0 {
		return o.DefaultTTL
	}
	return fallback
}
