package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hedgeco/opskernel/internal/domain"
)

// Header names are part of the compatibility contract.
const (
	HeaderRole = "X-Agent-Role"
)

// ctx key type avoids collisions with other packages.
type ctxKey string

const roleKey ctxKey = "agent_role"

// Authenticator is what the middleware needs from the key table.
type Authenticator interface {
	Authenticate(roleName, key string) (domain.Role, error)
}

// NewMiddleware rejects any request without a valid (role header, bearer
// key) pair before a single line of policy logic runs. 401 responses stay
// generic on purpose; the specific failure goes to the log only.
func NewMiddleware(a Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			roleName := r.Header.Get(HeaderRole)
			key := bearerToken(r.Header.Get("Authorization"))

			if roleName == "" || key == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			role, err := a.Authenticate(roleName, key)
			if err != nil {
				logger.Warn("auth failure",
					zap.String("claimed_role", roleName),
					zap.Error(err),
				)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), roleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole guards the privileged routes (/audit, /queues). Must run
// after NewMiddleware.
func RequireRole(roleName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := RoleFrom(r.Context())
			if !ok || role.Name != roleName {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RoleFrom extracts the authenticated role anywhere downstream.
func RoleFrom(ctx context.Context) (domain.Role, bool) {
	role, ok := ctx.Value(roleKey).(domain.Role)
	return role, ok
}

// WithRole is for tests that exercise handlers without the middleware.
func WithRole(ctx context.Context, role domain.Role) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

func bearerToken(header string) string {
	token := strings.TrimPrefix(header, "Bearer ")
	return strings.TrimSpace(token)
}
