package app

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bridevmx/nanodb/internal/obs/config"
)

func writeRateLimitConfig(t *testing.T, rps, burst int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ratelimit.yaml")
	body := fmt.Sprintf("rules:\n  - key: default\n    requestsPerSecond: %d\n    burst: %d\n", rps, burst)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDynamicRateLimiter_AllowsRequestsWithinBurst(t *testing.T) {
	path := writeRateLimitConfig(t, 1000, 1000)
	watcher, err := config.NewRateLimitWatcher(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = watcher.Close() })

	limiter := NewDynamicRateLimiter(watcher, nil)

	handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDynamicRateLimiter_FallsBackWithoutConfigFile(t *testing.T) {
	watcher, err := config.NewRateLimitWatcher("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = watcher.Close() })

	limiter := NewDynamicRateLimiter(watcher, nil)
	require.NotNil(t, limiter.active)
}
