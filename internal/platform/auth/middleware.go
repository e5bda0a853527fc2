package auth

import (
	"net/http"
	"strings"

	"github.com/gouravdev246/anonymous-comment/internal/platform/api"
	"github.com/gouravdev246/anonymous-comment/internal/platform/httpserver"
)

// RequireModerator lets a request through only with a valid bearer token
// whose role is admin or moderator. The verified principal is put in the
// request context.
func RequireModerator(v Verifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := httpserver.RequestIDFromContext(r.Context())
			tok, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				api.Unauthorized(w, "UNAUTHORIZED", "moderator token required", rid)
				return
			}
			claims, err := v.Parse(tok)
			if err != nil || strings.TrimSpace(claims.Subject) == "" {
				api.Unauthorized(w, "UNAUTHORIZED", "invalid token", rid)
				return
			}
			if !canModerate(claims.Role) {
				api.Forbidden(w, "FORBIDDEN", "moderator role required", rid)
				return
			}
			ctx := WithPrincipal(r.Context(), Principal{Subject: claims.Subject, Role: claims.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
