package middleware

import (
	"net/http"
	"strconv"

	"github.com/rankwatch/authcore/ratelimit"
)

// KeyFunc derives the limiter identifier for a request. Returning "" exempts
// the request, mirroring how the engine skips budgets for absent identifiers.
type KeyFunc func(r *http.Request) string

// KeyByIP keys the budget on the resolved client address.
func KeyByIP(cfg MetadataConfig) KeyFunc {
	return func(r *http.Request) string {
		return clientIP(r, cfg.TrustProxyHeaders)
	}
}

// RateLimit consumes one point of the scope's budget per request and
// decorates every response with the standard limit headers. Denied requests
// get 429 plus Retry-After; limiter backend failures fail closed with 503.
func RateLimit(limiter *ratelimit.Limiter, scope ratelimit.Scope, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || keyFn == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.Consume(r.Context(), scope, key)
			if err != nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			if budget, ok := limiter.Budget(scope); ok {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(budget.Points))
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				retryAfter := int(decision.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
