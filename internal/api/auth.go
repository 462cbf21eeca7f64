// Package api exposes ragflow's HTTP surface: documents, LLM operations,
// provider settings, workflow sessions and execution, session context, and
// HITL approvals, behind bearer-JWT tenant authentication.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/kadirpekel/ragflow/internal/apperr"
	"github.com/kadirpekel/ragflow/internal/config"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// Claims carries the tenant-scoping identity extracted from a bearer token.
type Claims struct {
	Subject  string
	TenantID string
	Role     string
}

// Authenticator validates bearer tokens and extracts Claims, either against
// a JWKS file or an HMAC shared secret, per AuthConfig.
type Authenticator struct {
	keySet    jwk.Set
	hmacKey   []byte
	jwksPath  string
	refreshAt time.Time
}

// NewAuthenticator builds an Authenticator from cfg. Exactly one of
// JWKSPath or HMACSecretEnv should be set; JWKSPath is re-read on an
// interval so key rotation doesn't require a restart.
func NewAuthenticator(cfg config.AuthConfig, hmacSecret string) (*Authenticator, error) {
	a := &Authenticator{jwksPath: cfg.JWKSPath}
	if cfg.JWKSPath != "" {
		set, err := jwk.ReadFile(cfg.JWKSPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWKS %s: %w", cfg.JWKSPath, err)
		}
		a.keySet = set
		a.refreshAt = time.Now().Add(15 * time.Minute)
		return a, nil
	}
	if hmacSecret == "" {
		return nil, fmt.Errorf("auth: neither jwks_path nor an HMAC secret was configured")
	}
	a.hmacKey = []byte(hmacSecret)
	return a, nil
}

// ValidateToken parses and verifies tokenString, returning the tenant
// claims it carries.
func (a *Authenticator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	a.maybeRefreshJWKS()

	var opts []jwt.ParseOption
	if a.keySet != nil {
		opts = append(opts, jwt.WithKeySet(a.keySet))
	} else {
		opts = append(opts, jwt.WithKey(jwa.HS256, a.hmacKey))
	}
	opts = append(opts, jwt.WithValidate(true))

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	tenantID, _ := token.Get("tenant_id")
	role, _ := token.Get("role")
	claims := &Claims{Subject: token.Subject(), TenantID: asString(tenantID), Role: asString(role)}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("token is missing tenant_id claim")
	}
	return claims, nil
}

func (a *Authenticator) maybeRefreshJWKS() {
	if a.jwksPath == "" || time.Now().Before(a.refreshAt) {
		return
	}
	if set, err := jwk.ReadFile(a.jwksPath); err == nil {
		a.keySet = set
	}
	a.refreshAt = time.Now().Add(15 * time.Minute)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// Middleware authenticates every request, rejecting a missing/invalid
// bearer token with 401 before the handler ever sees the request.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if authHeader == "" || tokenString == authHeader {
			writeError(w, &apperr.AuthError{Msg: "missing or malformed Authorization header, expected: Bearer <token>"})
			return
		}

		claims, err := a.ValidateToken(r.Context(), tokenString)
		if err != nil {
			writeError(w, &apperr.AuthError{Msg: err.Error()})
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// claimsFromContext extracts the Claims a prior Middleware call attached.
func claimsFromContext(r *http.Request) *Claims {
	c, _ := r.Context().Value(claimsContextKey).(*Claims)
	return c
}
