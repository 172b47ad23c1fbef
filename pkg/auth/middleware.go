package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hossam-create/mnbara-trustplane/pkg/api"
	"github.com/hossam-create/mnbara-trustplane/pkg/rbac"
)

// JWTValidator validates bearer tokens and extracts claims.
type JWTValidator struct {
	secret []byte
}

// Claims are the JWT claims expected on control-plane tokens.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// NewJWTValidator creates a validator over an HS256 shared secret. An
// empty secret yields a nil validator, which fails closed downstream.
func NewJWTValidator(secret string) *JWTValidator {
	if secret == "" {
		return nil
	}
	return &JWTValidator{secret: []byte(secret)}
}

// Validate parses and validates a token string.
func (v *JWTValidator) Validate(tokenStr string) (*Claims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, fmt.Errorf("validator uninitialized")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Sign issues a token for the given claims. Exists for tests and the
// local dev token command; production tokens come from the identity
// provider.
func (v *JWTValidator) Sign(claims Claims) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", fmt.Errorf("validator uninitialized")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// publicPaths are endpoints that do not require authentication. Webhooks
// authenticate via HMAC signatures instead of bearer tokens.
var publicPaths = []string{
	"/health",
	"/readiness",
	"/api/v1/webhooks/gateway",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware creates JWT auth middleware.
// If validator is nil, all non-public requests are rejected (fail closed).
func NewMiddleware(validator *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteUnauthorized(w, "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				api.WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			if validator == nil {
				api.WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := validator.Validate(parts[1])
			if err != nil {
				api.WriteUnauthorized(w, "Invalid or expired token")
				return
			}
			if claims.Subject == "" {
				api.WriteUnauthorized(w, "Token subject is required")
				return
			}
			if len(claims.Roles) == 0 {
				api.WriteUnauthorized(w, "Token carries no roles")
				return
			}

			roles := make([]rbac.Role, len(claims.Roles))
			for i, r := range claims.Roles {
				roles[i] = rbac.Role(r)
			}
			principal := &BasePrincipal{
				ID:    claims.Subject,
				Roles: roles,
			}

			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
