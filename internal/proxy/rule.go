package proxy

import (
	"net/http"
	"strings"

	"github.com/iTrooz/tiercache/internal/config"
)

// Rule interface for matching requests against caching rules
type Rule interface {
	Match(requ *http.Request) bool
}

// ConfigRule implements Rule interface for config-based rules
type ConfigRule struct {
	config.CacheRule
}

// Match checks if a request matches this rule. A rule without methods
// matches every method.
func (r *ConfigRule) Match(requ *http.Request) bool {
	if !strings.HasPrefix(getTargetURL(requ), r.BaseURI) {
		return false
	}
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if strings.EqualFold(m, requ.Method) {
			return true
		}
	}
	return false
}
