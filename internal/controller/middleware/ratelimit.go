package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"crewflow/internal/store"
	"crewflow/pkg/api"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware throttles requests per user using the user's
// configured rate limit. Must run after AuthMiddleware.
func RateLimitMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limiters := sync.Map{} // user ID -> *cachedLimiter

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(api.ErrorResponse{Error: "unauthorized", Code: "401"})
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

func getOrCreateLimiter(limiters *sync.Map, user *store.User, ttl time.Duration) *rate.Limiter {
	if limiter, ok := limiters.Load(user.ID); ok {
		cached := limiter.(*cachedLimiter)
		if time.Now().Before(cached.expiresAt) {
			return cached.limiter
		}
		// expired, need to create new
	}

	limiter := rate.NewLimiter(
		rate.Limit(user.RateLimit),
		user.RateLimitBurst,
	)
	limiters.Store(user.ID, &cachedLimiter{
		limiter:   limiter,
		expiresAt: time.Now().Add(ttl),
	})
	return limiter
}
