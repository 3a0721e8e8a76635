// Package app wires every collaborator into a runnable Application: the
// substrate, the engine stack on top of it, auth/authz, and the HTTP
// service. Nothing here is a singleton; cmd/nanodbctl constructs one
// Application per process.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bridevmx/nanodb/internal/auth"
	"github.com/bridevmx/nanodb/internal/authz"
	"github.com/bridevmx/nanodb/internal/cache"
	"github.com/bridevmx/nanodb/internal/engine"
	"github.com/bridevmx/nanodb/internal/httpapi"
	"github.com/bridevmx/nanodb/internal/kv"
	"github.com/bridevmx/nanodb/internal/model"
	"github.com/bridevmx/nanodb/internal/obs/config"
	"github.com/bridevmx/nanodb/internal/obs/logging"
	"github.com/bridevmx/nanodb/internal/obs/metrics"
	"github.com/bridevmx/nanodb/internal/realtime"
	"github.com/bridevmx/nanodb/internal/schema"
	"github.com/bridevmx/nanodb/internal/writebuffer"
)

// Config collects everything needed to stand up an Application. Zero
// values pick sensible defaults: an in-memory store, no rate-limit
// watcher, and a logrus-backed logger at info level.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8090".
	Addr string

	// SQLitePath selects the on-disk substrate. Empty means an in-memory
	// store, useful for tests and the bootstrap CLI's dry runs.
	SQLitePath string

	// SigningKey signs and verifies login tokens. Required for Login to
	// mean anything; an empty key still runs but every token it issues
	// is worthless against any other process.
	SigningKey []byte

	// RateLimitConfigPath, if set, is watched for hot-reloadable
	// requests-per-second/burst rules. Empty disables rate limiting.
	RateLimitConfigPath string

	// CacheSize bounds the record cache's entry count.
	CacheSize int

	// LogLevel and LogFormat configure the logger (e.g. "info"/"json").
	LogLevel  string
	LogFormat string

	// ServiceName labels metrics and log lines.
	ServiceName string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8090"
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 10_000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.ServiceName == "" {
		c.ServiceName = "nanodb"
	}
	return c
}

// Application bundles every long-lived collaborator so cmd/nanodbctl can
// start and stop them as a unit.
type Application struct {
	Store       kv.Store
	Schemas     *schema.Registry
	RecordCache *cache.CoalescingCache
	Buffer      *writebuffer.Buffer
	Broadcaster *realtime.Broadcaster
	Engine      *engine.Engine
	Auth        *auth.Manager
	Authz       *authz.Checker
	HTTP        *httpapi.Service
	Logger      *logging.Logger
	Metrics     *metrics.Metrics

	rateLimitWatcher *config.RateLimitWatcher
}

// New constructs every collaborator and wires them together. It does not
// start the HTTP listener; call Start for that.
func New(cfg Config) (*Application, error) {
	cfg = cfg.withDefaults()
	logger := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)

	store, err := openStore(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open substrate: %w", err)
	}

	schemas := schema.New(store)

	recCache, err := cache.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("build record cache: %w", err)
	}
	coalescing := cache.NewCoalescing(recCache)

	buffer := writebuffer.New(store, coalescing, writebuffer.Config{}, logger)
	broadcaster := realtime.New(logger)
	eng := engine.New(store, schemas, coalescing, buffer, broadcaster, logger)
	authMgr := auth.New(eng, cfg.SigningKey)
	authzChecker := authz.New()

	// A private registry, not prometheus.DefaultRegisterer, so that more
	// than one Application can be constructed in the same process (tests,
	// multi-tenant hosting) without a duplicate-collector panic.
	metricsRegistry := metrics.NewWithRegistry(cfg.ServiceName, prometheus.NewRegistry())
	metricsRegistry.UpdateUptime(time.Now())

	app := &Application{
		Store:       store,
		Schemas:     schemas,
		RecordCache: coalescing,
		Buffer:      buffer,
		Broadcaster: broadcaster,
		Engine:      eng,
		Auth:        authMgr,
		Authz:       authzChecker,
		Logger:      logger,
		Metrics:     metricsRegistry,
	}

	var limiter httpapi.RateLimiter
	if cfg.RateLimitConfigPath != "" {
		watcher, err := config.NewRateLimitWatcher(cfg.RateLimitConfigPath, logger)
		if err != nil {
			return nil, fmt.Errorf("start rate limit watcher: %w", err)
		}
		app.rateLimitWatcher = watcher
		limiter = NewDynamicRateLimiter(watcher, logger)
	}

	app.HTTP = httpapi.NewService(httpapi.Config{
		Addr:         cfg.Addr,
		Engine:       eng,
		Auth:         authMgr,
		AuthzChecker: authzChecker,
		Store:        store,
		RecordCache:  coalescing,
		Buffer:       buffer,
		Broadcaster:  broadcaster,
		Limiter:      limiter,
		Logger:       logger,
		Metrics:      metricsRegistry,
	})

	return app, nil
}

// PutSchema persists a collection schema and registers its row-level rule
// with the authorization checker in the same call, so the two never drift
// out of sync the way a bare a.Schemas.Put would risk.
func (a *Application) PutSchema(ctx context.Context, s *model.Schema) (*model.Schema, error) {
	full, err := a.Schemas.Put(ctx, s)
	if err != nil {
		return nil, err
	}
	a.Authz.Register(full.Collection, full.Rule)
	return full, nil
}

func openStore(path string) (kv.Store, error) {
	if path == "" {
		return kv.NewMemoryStore(), nil
	}
	return kv.OpenSQLite(path)
}

// Start begins serving HTTP traffic. The caller is responsible for
// eventually calling Stop.
func (a *Application) Start(ctx context.Context) error {
	return a.HTTP.Start(ctx)
}

// Stop shuts every collaborator down in reverse order: HTTP listener (and
// its write-buffer drain, handled by httpapi.Service.Stop), then the
// realtime broadcaster, the rate-limit watcher, and finally the substrate.
func (a *Application) Stop(ctx context.Context) error {
	if err := a.HTTP.Stop(ctx); err != nil {
		return fmt.Errorf("stop http service: %w", err)
	}
	a.Broadcaster.Close()
	if a.rateLimitWatcher != nil {
		if err := a.rateLimitWatcher.Close(); err != nil {
			a.Logger.Warn(ctx, "rate limit watcher close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return a.Store.Close()
}
