package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rankwatch/authcore"
)

type authContextKey struct{}

func withAuth(ctx context.Context, auth *authcore.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFromContext returns the AuthContext injected by Guard, or false when
// the request did not pass through it.
func AuthFromContext(ctx context.Context) (*authcore.AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(*authcore.AuthContext)
	return auth, ok
}

// Guard authenticates the bearer token on every request and injects the
// resulting AuthContext before the handler runs.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if engine == nil {
			// Nothing can be verified without an engine; refuse everything.
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				reject(w)
			})
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				reject(w)
				return
			}

			auth, err := engine.Authenticate(r.Context(), token)
			if err != nil {
				reject(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(withAuth(r.Context(), auth)))
		})
	}
}

// reject sends a uniform 401. The body never says why, so probing reveals
// nothing about token state.
func reject(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// bearerToken extracts the credentials from an Authorization header value.
// The scheme match is case-insensitive per RFC 6750.
func bearerToken(header string) string {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return token
}
