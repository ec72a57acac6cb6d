package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/adimian/kabuto/internal/store"

	"golang.org/x/time/rate"
)

// RateLimit throttles authenticated requests per user according to the
// user's own stored limits. It must run after Auth.
func RateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limiters := sync.Map{} // user ID -> *cachedLimiter

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				unauthorized(w, "Unauthorized")
				return
			}

			// RateLimit=0 means unlimited
			if user.RateLimit > 0 {
				limiter := getOrCreateLimiter(&limiters, user, 5*time.Minute)
				if !limiter.Allow() {
					w.Header().Set("Retry-After", "1")
					http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

// getOrCreateLimiter caches limiters with a TTL so updated user limits
// take effect without a restart.
func getOrCreateLimiter(limiters *sync.Map, user *store.User, ttl time.Duration) *rate.Limiter {
	if cached, ok := limiters.Load(user.ID); ok {
		c := cached.(*cachedLimiter)
		if time.Now().Before(c.expiresAt) {
			return c.limiter
		}
	}

	limiter := rate.NewLimiter(rate.Limit(user.RateLimit), user.RateLimitBurst)
	limiters.Store(user.ID, &cachedLimiter{
		limiter:   limiter,
		expiresAt: time.Now().Add(ttl),
	})
	return limiter
}
