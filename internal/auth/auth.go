// Package auth resolves the caller of an API request to a local user.
//
// An Authenticator turns the request into a core.Identity; the middleware
// then provisions (or loads) the matching user and stores it in the
// request context.
package auth

import (
	"context"
	"net/http"
	"strings"

	"fintrack/internal/core"
	"fintrack/internal/log"
)

type contextKey string

const userKey contextKey = "user"

// Authenticator extracts the verified caller identity from a request.
type Authenticator interface {
	Authenticate(r *http.Request) (core.Identity, error)
}

// Provisioner is satisfied by *services.ProvisioningService.
type Provisioner interface {
	EnsureUser(ctx context.Context, id core.Identity) (core.User, error)
}

// ErrorWriter renders an error response.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u core.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromContext returns the user stored by Middleware.
func UserFromContext(ctx context.Context) (core.User, bool) {
	u, ok := ctx.Value(userKey).(core.User)
	return u, ok
}

// Middleware authenticates every request except CORS preflights and makes
// sure the caller has a provisioned user.
func Middleware(authn Authenticator, prov Provisioner, logger *log.Logger, onError ErrorWriter) func(http.Handler) http.Handler {
	logger = logger.WithComponent(log.ComponentAuth)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			id, err := authn.Authenticate(r)
			if err != nil {
				logger.DebugContext(r.Context(), "Authentication failed",
					log.FieldPath, r.URL.Path, log.FieldError, err.Error())
				onError(w, r, err)
				return
			}

			u, err := prov.EnsureUser(r.Context(), id)
			if err != nil {
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// bearerToken returns the token of an "Authorization: Bearer <token>"
// header, or "".
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
