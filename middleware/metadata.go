package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/rankwatch/authcore"
)

// MetadataConfig controls how RequestMetadata derives the client IP.
// TrustProxyHeaders must only be set when the service sits behind a proxy
// that overwrites X-Forwarded-For; otherwise any client can spoof its way
// past per-IP budgets.
type MetadataConfig struct {
	TrustProxyHeaders bool
}

// RequestMetadata captures the request attributes the engine consumes —
// client IP, User-Agent, Accept, Accept-Language — into the request context.
// Mount it outermost: every engine call downstream (login rate limiting,
// device fingerprinting, risk scoring, audit records) reads these values.
func RequestMetadata(cfg MetadataConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			ctx = authcore.WithClientIP(ctx, clientIP(r, cfg.TrustProxyHeaders))
			if ua := r.UserAgent(); ua != "" {
				ctx = authcore.WithUserAgent(ctx, ua)
			}
			if accept := r.Header.Get("Accept"); accept != "" {
				ctx = authcore.WithAccept(ctx, accept)
			}
			if lang := r.Header.Get("Accept-Language"); lang != "" {
				ctx = authcore.WithAcceptLanguage(ctx, lang)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// clientIP resolves the caller's address. Forwarded headers are consulted
// only when trusted; values that do not parse as IPs are ignored rather than
// propagated into limiter keys.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// First hop is the original client.
			first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
			if net.ParseIP(first) != nil {
				return first
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xri != "" {
			if net.ParseIP(xri) != nil {
				return xri
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
