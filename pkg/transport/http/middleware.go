package httptransport

import (
	"context"
	"net/http"
	"strings"

	"github.com/porthorian/opengrant/pkg/introspection"
)

type MiddlewareConfig struct {
	// TokenHeader is inspected for a "Bearer <token>" value.
	TokenHeader string
	// CookieName optionally names a cookie carrying the raw token when the
	// header is absent.
	CookieName        string
	FailureStatusCode int
}

func DefaultConfig() MiddlewareConfig {
	return MiddlewareConfig{
		TokenHeader:       "Authorization",
		CookieName:        "",
		FailureStatusCode: http.StatusUnauthorized,
	}
}

type contextKey struct{}

// ResultFromContext returns the introspection result stashed by Middleware.
func ResultFromContext(ctx context.Context) (introspection.Result, bool) {
	result, ok := ctx.Value(contextKey{}).(introspection.Result)
	return result, ok
}

// Middleware guards downstream handlers with bearer-token validation. The
// request proceeds only when the validator reports the token active; the
// result is stashed on the request context for handlers needing the token's
// subject or scopes.
func Middleware(validator introspection.Validator, config MiddlewareConfig) func(http.Handler) http.Handler {
	if config.TokenHeader == "" {
		config.TokenHeader = "Authorization"
	}
	if config.FailureStatusCode == 0 {
		config.FailureStatusCode = http.StatusUnauthorized
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r, config)
			if token == "" {
				w.WriteHeader(config.FailureStatusCode)
				return
			}

			result, err := validator.Validate(r.Context(), token)
			if err != nil || !result.Active {
				w.WriteHeader(config.FailureStatusCode)
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, result)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request, config MiddlewareConfig) string {
	header := r.Header.Get(config.TokenHeader)
	if header != "" {
		if strings.HasPrefix(header, "Bearer ") || strings.HasPrefix(header, "bearer ") {
			return strings.TrimSpace(header[len("Bearer "):])
		}
		if config.TokenHeader != "Authorization" {
			return strings.TrimSpace(header)
		}
	}

	if config.CookieName != "" {
		if cookie, err := r.Cookie(config.CookieName); err == nil {
			return cookie.Value
		}
	}

	return ""
}
