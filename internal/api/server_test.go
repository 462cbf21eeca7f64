package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ragflow/internal/config"
)

func TestRouter_Healthz_NoAuthRequired(t *testing.T) {
	auth := newHMACAuthenticator(t, "secret")
	server := NewServer(Deps{Auth: auth})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestRouter_APIRoutes_RequireAuth(t *testing.T) {
	auth := newHMACAuthenticator(t, "secret")
	server := NewServer(Deps{Auth: auth})

	paths := []string{
		"/api/v1/documents/",
		"/api/v1/llm/operations",
		"/api/v1/settings/embedding-provider",
		"/api/v1/workflows/sessions",
		"/api/v1/hitl/approvals",
	}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, p, nil)
			rr := httptest.NewRecorder()
			server.Router().ServeHTTP(rr, req)
			require.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}

func TestNewAuthenticator_JWKSMissingFile(t *testing.T) {
	_, err := NewAuthenticator(config.AuthConfig{JWKSPath: "/nonexistent/jwks.json"}, "")
	require.Error(t, err)
}
