package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hedgeco/opskernel/internal/domain"
)

type fakeAuthenticator struct {
	role domain.Role
	err  error
}

func (f fakeAuthenticator) Authenticate(string, string) (domain.Role, error) {
	return f.role, f.err
}

func protected(t *testing.T, a Authenticator) http.Handler {
	t.Helper()
	mw := NewMiddleware(a, zap.NewNop())
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, ok := RoleFrom(r.Context())
		require.True(t, ok)
		w.Write([]byte(role.Name))
	}))
}

func TestMiddlewareRejectsMissingCredentials(t *testing.T) {
	h := protected(t, fakeAuthenticator{role: domain.Role{Name: "operator"}})

	cases := []struct {
		name   string
		role   string
		bearer string
	}{
		{"no headers", "", ""},
		{"role only", "operator", ""},
		{"key only", "", "Bearer k"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.role != "" {
				req.Header.Set(HeaderRole, tc.role)
			}
			if tc.bearer != "" {
				req.Header.Set("Authorization", tc.bearer)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestMiddlewareRejectsFailedAuth(t *testing.T) {
	h := protected(t, fakeAuthenticator{err: ErrUnknownKey})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRole, "operator")
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewarePassesRoleDownstream(t *testing.T) {
	h := protected(t, fakeAuthenticator{role: domain.Role{Name: "crm_agent"}})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRole, "crm_agent")
	req.Header.Set("Authorization", "Bearer valid-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "crm_agent", rec.Body.String())
}

func TestRequireRole(t *testing.T) {
	guard := RequireRole("operator")
	h := guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(WithRole(req.Context(), domain.Role{Name: "operator"})))
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(WithRole(req.Context(), domain.Role{Name: "crm_agent"})))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// No role in context at all (middleware skipped).
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
