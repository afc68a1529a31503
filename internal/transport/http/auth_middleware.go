package http

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"intralink/internal/domain"
	"intralink/internal/observability/middleware"
	"intralink/internal/service"
)

type claimsKey struct{}

func withClaims(ctx context.Context, c *service.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func claimsFrom(ctx context.Context) (*service.AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*service.AccessClaims)
	return c, ok && c != nil
}

func bearerToken(r *http.Request) string {
	raw := r.Header.Get("Authorization")
	if len(raw) < 7 || !strings.EqualFold(raw[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(raw[7:])
}

// Authenticate requires a valid bearer access token and stores its claims in
// the request context.
func Authenticate(tokens service.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="intralink"`)
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token"})
				return
			}
			claims, err := tokens.Validate(r.Context(), raw)
			if err != nil {
				slog.Info("access token rejected", append([]any{"err", err}, middleware.LogAttrs(r.Context())...)...)
				w.Header().Set("WWW-Authenticate", `Bearer realm="intralink", error="invalid_token"`)
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// OptionalAuthenticate attaches claims when a valid bearer token is present
// and otherwise lets the request through anonymously.
func OptionalAuthenticate(tokens service.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := bearerToken(r); raw != "" {
				if claims, err := tokens.Validate(r.Context(), raw); err == nil {
					r = r.WithContext(withClaims(r.Context(), claims))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole admits only callers holding one of roles. It must run after
// Authenticate.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := claimsFrom(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing bearer token"})
				return
			}
			if !slices.Contains(roles, claims.Role) {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
