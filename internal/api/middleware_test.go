package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Tailgate/internal/metrics"
	"github.com/MikeSquared-Agency/Tailgate/internal/store"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_AllowsBurst(t *testing.T) {
	handler := RateLimitMiddleware(60, 5)(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(HeaderUserID, "user-a")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}
}

func TestRateLimitMiddleware_BlocksOverBurst(t *testing.T) {
	handler := RateLimitMiddleware(1, 3)(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(HeaderUserID, "user-a")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderUserID, "user-a")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitMiddleware_KeysPerUser(t *testing.T) {
	handler := RateLimitMiddleware(1, 1)(okHandler())

	for _, user := range []string{"user-a", "user-b"} {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(HeaderUserID, user)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, user)
	}

	// anonymous requests fall back to the client address
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(60, 2)
	rl.now = func() time.Time { return clock }
	rl.lastSweep = clock
	require.Equal(t, time.Minute, rl.idle)

	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))

	clock = clock.Add(30 * time.Second)
	assert.True(t, rl.allow("b"))
	assert.Len(t, rl.visitors, 2)

	clock = clock.Add(45 * time.Second)
	assert.True(t, rl.allow("c"))
	assert.Len(t, rl.visitors, 2)
	assert.NotContains(t, rl.visitors, "a")
	assert.Contains(t, rl.visitors, "b")

	// an evicted key starts again from a full bucket
	assert.True(t, rl.allow("a"))
}

func TestRateLimiterIdleCoversRefill(t *testing.T) {
	rl := newRateLimiter(1, 5)
	assert.Equal(t, 5*time.Minute, rl.idle)
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first entry", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, "10.0.0.2:1234", "198.51.100.1"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.2:1234", "198.51.100.7"},
		{"remote addr", nil, "192.0.2.4:5555", "192.0.2.4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, clientIP(req))
		})
	}
}

func TestIdentityMiddlewareOptional(t *testing.T) {
	ms := store.NewMemoryStore()
	var seen *store.User
	handler := IdentityMiddleware(ms, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.Nil(t, seen)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderUserID, "whop_9")
	req.Header.Set(HeaderDisplayName, "Nine")
	req.Header.Set(HeaderAvatarURL, "https://cdn.example.com/9.png")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)
	assert.Equal(t, "whop_9", seen.ExternalID)
	assert.Equal(t, "Nine", seen.DisplayName)
	assert.Equal(t, "unknown", seen.Username)
	assert.Equal(t, "https://cdn.example.com/9.png", seen.AvatarURL)
}

func TestAdminAuthMiddleware_BearerToken(t *testing.T) {
	handler := AdminAuthMiddleware("secret")(okHandler())

	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("POST", "/", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuthMiddleware_NoTokenConfigured(t *testing.T) {
	handler := AdminAuthMiddleware("")(okHandler())

	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestLoggerObservesDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := RequestLogger(logger, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))

	n, err := testutil.GatherAndCount(reg, "tailgate_http_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
