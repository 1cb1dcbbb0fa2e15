package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(handler http.Handler, remoteAddr string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	defer rl.Shutdown()
	handler := rl.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.1:1234"))
	}
	assert.Equal(t, http.StatusTooManyRequests, doRequest(handler, "10.0.0.1:1234"))
}

func TestRateLimiterIsPerClient(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Shutdown()
	handler := rl.Middleware(okHandler())

	assert.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, doRequest(handler, "10.0.0.1:5678"))

	// A different IP has its own budget.
	assert.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.2:1234"))
}

func TestRateLimiterCleanupEvictsStaleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Shutdown()
	handler := rl.Middleware(okHandler())

	doRequest(handler, "10.0.0.1:1234")
	assert.Len(t, rl.limiters, 1)

	// Force the cleanup cutoff into the future relative to the entry.
	rl.mu.Lock()
	for _, lim := range rl.limiters {
		lim.lastAccess = lim.lastAccess.Add(-2 * rl.cleanupInterval)
	}
	rl.mu.Unlock()

	rl.cleanup()
	assert.Empty(t, rl.limiters)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.7:55123"
	assert.Equal(t, "192.168.1.7", clientIP(req))

	req.RemoteAddr = "unparseable"
	assert.Equal(t, "unparseable", clientIP(req))
}
