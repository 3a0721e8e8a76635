// Package httpapi is the REST glue over the engine: request parsing,
// auth/authorization wiring, and response framing. No business logic lives
// here.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/bridevmx/nanodb/internal/auth"
	"github.com/bridevmx/nanodb/internal/authz"
	"github.com/bridevmx/nanodb/internal/cache"
	"github.com/bridevmx/nanodb/internal/engine"
	"github.com/bridevmx/nanodb/internal/kv"
	"github.com/bridevmx/nanodb/internal/obs/logging"
	"github.com/bridevmx/nanodb/internal/obs/metrics"
	"github.com/bridevmx/nanodb/internal/obs/middleware"
	"github.com/bridevmx/nanodb/internal/realtime"
	"github.com/bridevmx/nanodb/internal/writebuffer"
)

// RateLimiter is the narrow dependency the router chains into its
// middleware stack. *middleware.RateLimiter satisfies it directly;
// internal/app's DynamicRateLimiter wraps one and swaps it out underneath
// on config reload without the router knowing.
type RateLimiter interface {
	Handler(next http.Handler) http.Handler
}

// Service exposes the HTTP API and fits into a start/stop process
// lifecycle.
type Service struct {
	engine       *engine.Engine
	auth         *auth.Manager
	authzChecker *authz.Checker
	store        kv.Store
	recordCache  *cache.CoalescingCache
	buffer       *writebuffer.Buffer
	broadcaster  *realtime.Broadcaster
	limiter      RateLimiter
	logger       *logging.Logger
	metrics      *metrics.Metrics
	health       *middleware.HealthChecker

	addr   string
	router *mux.Router
	server *http.Server
}

// Config bundles Service's collaborators, constructed explicitly by the
// caller at start-up rather than resolved from globals.
type Config struct {
	Addr         string
	Engine       *engine.Engine
	Auth         *auth.Manager
	AuthzChecker *authz.Checker
	Store        kv.Store
	RecordCache  *cache.CoalescingCache
	Buffer       *writebuffer.Buffer
	Broadcaster  *realtime.Broadcaster
	Limiter      RateLimiter
	Logger       *logging.Logger
	Metrics      *metrics.Metrics
}

// NewService builds the Service and its router. Start still needs to be
// called to begin serving.
func NewService(cfg Config) *Service {
	s := &Service{
		engine:       cfg.Engine,
		auth:         cfg.Auth,
		authzChecker: cfg.AuthzChecker,
		store:        cfg.Store,
		recordCache:  cfg.RecordCache,
		buffer:       cfg.Buffer,
		broadcaster:  cfg.Broadcaster,
		limiter:      cfg.Limiter,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		addr:         cfg.Addr,
	}

	s.health = middleware.NewHealthChecker("1.0.0")
	s.health.RegisterCheck("substrate", func() error {
		return s.store.Ping(context.Background())
	})

	s.router = s.newRouter()
	return s
}

// ServeHTTP lets Service be used directly as an http.Handler, e.g. from
// httptest without going through Start/Stop.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start begins serving HTTP traffic on a background goroutine.
func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections on /api/realtime are long-lived
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error(ctx, "http server error", err, nil)
			}
		}
	}()
	return nil
}

// Stop gracefully shuts the HTTP server down, then drains the write
// buffer.
func (s *Service) Stop(ctx context.Context) error {
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	return s.buffer.Shutdown(ctx)
}
