package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/ragflow/internal/config"
)

func newHMACAuthenticator(t *testing.T, secret string) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(config.AuthConfig{}, secret)
	require.NoError(t, err)
	return a
}

func signHMACToken(t *testing.T, secret, subject, tenantID, role string, expiry time.Duration) string {
	t.Helper()
	token := jwt.New()
	require.NoError(t, token.Set(jwt.SubjectKey, subject))
	require.NoError(t, token.Set(jwt.ExpirationKey, time.Now().Add(expiry)))
	if tenantID != "" {
		require.NoError(t, token.Set("tenant_id", tenantID))
	}
	if role != "" {
		require.NoError(t, token.Set("role", role))
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(secret)))
	require.NoError(t, err)
	return string(signed)
}

func TestNewAuthenticator_RequiresJWKSOrHMAC(t *testing.T) {
	_, err := NewAuthenticator(config.AuthConfig{}, "")
	require.Error(t, err)
}

func TestAuthenticator_ValidateToken(t *testing.T) {
	secret := "test-hmac-secret"
	a := newHMACAuthenticator(t, secret)

	tests := []struct {
		name     string
		token    func() string
		wantErr  bool
		tenantID string
	}{
		{
			name:     "valid token",
			token:    func() string { return signHMACToken(t, secret, "user-1", "tenant-1", "admin", time.Hour) },
			tenantID: "tenant-1",
		},
		{
			name:    "expired token",
			token:   func() string { return signHMACToken(t, secret, "user-1", "tenant-1", "admin", -time.Hour) },
			wantErr: true,
		},
		{
			name:    "missing tenant_id claim",
			token:   func() string { return signHMACToken(t, secret, "user-1", "", "admin", time.Hour) },
			wantErr: true,
		},
		{
			name:    "garbage token",
			token:   func() string { return "not-a-jwt" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := a.ValidateToken(t.Context(), tt.token())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.tenantID, claims.TenantID)
		})
	}
}

func TestAuthenticator_Middleware(t *testing.T) {
	secret := "test-hmac-secret"
	a := newHMACAuthenticator(t, secret)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r)
		require.NotNil(t, claims)
		w.WriteHeader(http.StatusOK)
	})
	handler := a.Middleware(next)

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{
			name:       "valid bearer token",
			authHeader: "Bearer " + signHMACToken(t, secret, "user-1", "tenant-1", "admin", time.Hour),
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing header",
			authHeader: "",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "malformed header",
			authHeader: "Token abc",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid token",
			authHeader: "Bearer garbage",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			require.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus != http.StatusOK {
				require.True(t, strings.Contains(rr.Body.String(), "detail"))
			}
		})
	}
}
