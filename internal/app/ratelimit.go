package app

import (
	"context"
	"net/http"
	"sync"

	"github.com/bridevmx/nanodb/internal/obs/config"
	"github.com/bridevmx/nanodb/internal/obs/logging"
	"github.com/bridevmx/nanodb/internal/obs/middleware"
)

// defaultRateLimitKey names the rule applied to every route when no more
// specific rule matches. Per-route tiers can be added to the config file
// later; only "default" is consulted today.
const defaultRateLimitKey = "default"

const (
	fallbackRequestsPerSecond = 50
	fallbackBurst             = 100
)

// DynamicRateLimiter satisfies httpapi.RateLimiter while sourcing its
// requests-per-second and burst from a config.RateLimitWatcher. Watcher
// reloads are observed by pointer identity: middleware.RateLimiter has no
// in-place setter for rate/burst, so a changed config triggers a full
// rebuild of the wrapped limiter rather than a mutation.
type DynamicRateLimiter struct {
	watcher *config.RateLimitWatcher
	logger  *logging.Logger

	mu      sync.Mutex
	lastCfg *config.RateLimitConfig
	active  *middleware.RateLimiter
}

// NewDynamicRateLimiter builds the wrapper and constructs the first
// underlying limiter from the watcher's already-loaded configuration.
func NewDynamicRateLimiter(watcher *config.RateLimitWatcher, logger *logging.Logger) *DynamicRateLimiter {
	d := &DynamicRateLimiter{watcher: watcher, logger: logger}
	cfg := watcher.Current()
	d.active = d.build(cfg)
	d.lastCfg = cfg
	return d
}

func (d *DynamicRateLimiter) build(cfg *config.RateLimitConfig) *middleware.RateLimiter {
	rps, burst := fallbackRequestsPerSecond, fallbackBurst
	for _, rule := range cfg.Rules {
		if rule.Key == defaultRateLimitKey {
			rps, burst = rule.RequestsPerSecond, rule.Burst
			break
		}
	}
	return middleware.NewRateLimiter(rps, burst, d.logger)
}

// currentLimiter returns the limiter for the watcher's current revision,
// rebuilding it first if the revision has changed since the last request.
func (d *DynamicRateLimiter) currentLimiter() *middleware.RateLimiter {
	cfg := d.watcher.Current()

	d.mu.Lock()
	defer d.mu.Unlock()
	if cfg != d.lastCfg {
		d.active = d.build(cfg)
		d.lastCfg = cfg
		if d.logger != nil {
			d.logger.Info(context.Background(), "rate limiter rebuilt from reloaded config", map[string]interface{}{
				"rules": len(cfg.Rules),
			})
		}
	}
	return d.active
}

// Handler implements httpapi.RateLimiter.
func (d *DynamicRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.currentLimiter().Handler(next).ServeHTTP(w, r)
	})
}
