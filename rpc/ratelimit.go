package rpc

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// principalLimiter rate-limits mutating requests per caller principal,
// layered in front of the guard table so an abusive caller is shed before a
// guard slot is even attempted — grounded on the teacher's
// gateway/middleware RateLimiter, narrowed to a single limit (no per-route
// token table) since every vaultd mutating route carries the same cost.
type principalLimiter struct {
	ratePerSecond float64
	burst         int

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

func newPrincipalLimiter(ratePerSecond float64, burst int) *principalLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &principalLimiter{
		ratePerSecond: ratePerSecond,
		burst:         burst,
		visitors:      make(map[string]*rate.Limiter),
	}
}

func (l *principalLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.visitors[key]
	if ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Limit(l.ratePerSecond), l.burst)
	l.visitors[key] = lim
	return lim
}

// middleware must run after requireAuth, since it keys on the principal that
// middleware stores in the request context.
func (l *principalLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFromContext(r.Context())
		if !ok {
			writeModuleError(w, &ModuleError{HTTPStatus: http.StatusUnauthorized, Code: codeUnauthorized, Message: "missing authenticated principal"})
			return
		}
		if !l.limiterFor(principal.String()).AllowN(time.Now(), 1) {
			writeModuleError(w, &ModuleError{HTTPStatus: http.StatusTooManyRequests, Code: codeRateLimited, Message: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
