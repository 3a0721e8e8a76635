package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/bridevmx/nanodb/internal/obs/middleware"
)

// newRouter registers the exact REST surface from spec.md §6 and chains
// the ambient middleware in order: recovery -> metrics -> logging ->
// security headers -> CORS -> body-limit -> request validation ->
// rate-limit -> JWT auth -> (row-level authz is evaluated per-handler,
// since it needs the specific record) -> handler. A per-route request
// timeout wraps every handler except /health and /api/realtime, whose
// long-lived SSE stream must not be cut off.
func (s *Service) newRouter() *mux.Router {
	r := mux.NewRouter()
	timeout := middleware.NewTimeoutMiddleware(0)
	bounded := func(h http.HandlerFunc) http.Handler { return timeout.Handler(h) }

	r.HandleFunc("/health", s.health.Handler()).Methods(http.MethodGet)
	r.Handle("/api/auth/login", bounded(s.handleLogin)).Methods(http.MethodPost)
	r.Handle("/api/stats", bounded(s.handleStats)).Methods(http.MethodGet)
	r.Handle("/api/stats/buffer", bounded(s.handleBufferStats)).Methods(http.MethodGet)
	r.Handle("/api/batch", bounded(s.handleBatch)).Methods(http.MethodPost)
	r.HandleFunc("/api/realtime", s.handleRealtime).Methods(http.MethodGet)

	r.Handle("/api/collections/{collection}/records", bounded(s.handleListRecords)).Methods(http.MethodGet)
	r.Handle("/api/collections/{collection}/records", bounded(s.handleCreateRecord)).Methods(http.MethodPost)
	r.Handle("/api/collections/{collection}/records/{id}", bounded(s.handleGetRecord)).Methods(http.MethodGet)
	r.Handle("/api/collections/{collection}/records/{id}", bounded(s.handleUpdateRecord)).Methods(http.MethodPatch)
	r.Handle("/api/collections/{collection}/records/{id}", bounded(s.handleDeleteRecord)).Methods(http.MethodDelete)

	recovery := middleware.NewRecoveryMiddleware(s.logger)
	cors := middleware.NewCORSMiddleware(nil)
	bodyLimit := middleware.NewBodyLimitMiddleware(0)
	securityHeaders := middleware.NewSecurityHeadersMiddleware(nil)
	validation := middleware.NewValidationMiddleware(middleware.DefaultValidationConfig())

	r.Use(recovery.Handler)
	if s.metrics != nil {
		r.Use(middleware.MetricsMiddleware(serviceName, s.metrics))
	}
	r.Use(middleware.LoggingMiddleware(s.logger))
	r.Use(securityHeaders.Handler)
	r.Use(cors.Handler)
	r.Use(bodyLimit.Handler)
	r.Use(validation.Handler)
	if s.limiter != nil {
		r.Use(s.limiter.Handler)
	}
	r.Use(s.jwtAuthMiddleware)

	return r
}

// serviceName labels HTTP metrics recorded by this service.
const serviceName = "nanodb"
