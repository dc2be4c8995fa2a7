package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/MikeSquared-Agency/Tailgate/internal/apperr"
	"github.com/MikeSquared-Agency/Tailgate/internal/metrics"
	"github.com/MikeSquared-Agency/Tailgate/internal/store"
)

const (
	HeaderUserID      = "X-Whop-User-Id"
	HeaderUsername    = "X-Whop-Username"
	HeaderDisplayName = "X-Whop-Display-Name"
	HeaderAvatarURL   = "X-Whop-Avatar-Url"
)

type ctxKey int

const userKey ctxKey = iota

// UserFromContext returns the user resolved by IdentityMiddleware, if any.
func UserFromContext(ctx context.Context) *store.User {
	u, _ := ctx.Value(userKey).(*store.User)
	return u
}

func identityFromRequest(r *http.Request) (store.ExternalIdentity, bool) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return store.ExternalIdentity{}, false
	}
	ident := store.ExternalIdentity{
		ExternalID:  id,
		Username:    r.Header.Get(HeaderUsername),
		DisplayName: r.Header.Get(HeaderDisplayName),
		AvatarURL:   r.Header.Get(HeaderAvatarURL),
	}
	if ident.Username == "" {
		ident.Username = "unknown"
	}
	if ident.DisplayName == "" {
		ident.DisplayName = "Unknown User"
	}
	return ident, true
}

// IdentityMiddleware resolves the platform user headers to a stored user.
// With required set, requests without X-Whop-User-Id get a 401.
func IdentityMiddleware(s store.Store, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := identityFromRequest(r)
			if !ok {
				if required {
					writeError(w, apperr.Unauthorized("Unauthorized"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			u, err := s.GetOrCreateUser(r.Context(), ident)
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
		})
	}
}

// AdminAuthMiddleware admits a matching bearer token or an authenticated
// admin user. With no token configured only admin users pass.
func AdminAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") == "Bearer "+token {
				next.ServeHTTP(w, r)
				return
			}
			u := UserFromContext(r.Context())
			if u == nil {
				writeError(w, apperr.Unauthorized("Unauthorized"))
				return
			}
			if !u.IsAdmin {
				writeError(w, apperr.Forbidden("Admin access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func RequestLogger(logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			d := time.Since(start)
			m.ObserveRequest(r.Method, route, status, d)

			user := ""
			if u := UserFromContext(r.Context()); u != nil {
				user = u.ExternalID
			} else {
				user = r.Header.Get(HeaderUserID)
			}
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", d.Milliseconds(),
				"user", user,
			)
		})
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per key. A key idle for longer than its
// bucket's full refill time is dropped; a fresh bucket is equivalent.
type rateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(requestsPerMinute, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	idle := time.Minute
	if requestsPerMinute > 0 {
		if refill := time.Duration(burst) * time.Minute / time.Duration(requestsPerMinute); refill > idle {
			idle = refill
		}
	}
	return &rateLimiter{
		visitors:  make(map[string]*visitor),
		limit:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:     burst,
		idle:      idle,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.idle {
		rl.evict(now)
	}
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (rl *rateLimiter) evict(now time.Time) {
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) >= rl.idle {
			delete(rl.visitors, key)
		}
	}
	rl.lastSweep = now
}

// RateLimitMiddleware applies a token bucket per platform user, falling back
// to the client address for anonymous requests.
func RateLimitMiddleware(requestsPerMinute, burst int) func(http.Handler) http.Handler {
	rl := newRateLimiter(requestsPerMinute, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderUserID)
			if key == "" {
				key = clientIP(r)
			}
			if !rl.allow(key) {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded", "code": "rate_limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first X-Forwarded-For entry, then X-Real-IP, then the
// connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
