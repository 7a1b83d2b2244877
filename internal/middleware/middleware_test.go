package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/swarmmarket/internal/domain"
	"github.com/mtlprog/swarmmarket/internal/middleware"
)

type stubAuthenticator struct {
	user *domain.User
	err  error
}

func (a stubAuthenticator) Authenticate(_ context.Context, token string) (*domain.User, error) {
	if a.err != nil {
		return nil, a.err
	}
	if token != "good-token" {
		return nil, domain.ErrInvalidToken
	}
	return a.user, nil
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(user.ID))
}

func serveWithAuth(authenticator middleware.Authenticator, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	middleware.NewAuthMiddleware(authenticator).Authenticate(http.HandlerFunc(echoUser)).ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	authenticator := stubAuthenticator{user: &domain.User{ID: "user-1"}}

	w := serveWithAuth(authenticator, "Bearer good-token")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", w.Body.String())

	for _, header := range []string{"", "Bearer", "Basic dXNlcjpwYXNz", "Bearer bad-token"} {
		w := serveWithAuth(authenticator, header)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
		assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"), header)
		assert.Contains(t, w.Body.String(), "INVALID_TOKEN", header)
	}
}

func TestAuthenticate_BackendFailure(t *testing.T) {
	w := serveWithAuth(stubAuthenticator{err: errors.New("connection refused")}, "Bearer good-token")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestGetUserFromContext_Missing(t *testing.T) {
	_, err := middleware.GetUserFromContext(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := middleware.CORS([]string{"http://localhost:3000"})(next)

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantOrigin string
	}{
		{"allowed preflight", http.MethodOptions, "http://localhost:3000", true, http.StatusNoContent, "http://localhost:3000"},
		{"allowed request", http.MethodGet, "http://localhost:3000", false, http.StatusOK, "http://localhost:3000"},
		{"foreign origin", http.MethodGet, "https://evil.example.com", false, http.StatusOK, ""},
		{"no origin", http.MethodGet, "", false, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/listings", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantOrigin != "" {
				assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Swarm-Signature")
			}
		})
	}
}
