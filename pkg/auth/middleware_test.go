package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hossam-create/mnbara-trustplane/pkg/auth"
	"github.com/hossam-create/mnbara-trustplane/pkg/rbac"
)

func createTestToken(t *testing.T, v *auth.JWTValidator, sub string, roles []string, expiry time.Time) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "trustplane-test",
		},
		Roles: roles,
	}
	token, err := v.Sign(claims)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestMiddleware_ValidJWT(t *testing.T) {
	validator := auth.NewJWTValidator("test-secret")
	middleware := auth.NewMiddleware(validator)

	var capturedPrincipal auth.Principal
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.GetPrincipal(r.Context())
		if err != nil {
			t.Errorf("expected principal in context: %v", err)
		}
		capturedPrincipal = p
		w.WriteHeader(http.StatusOK)
	}))

	token := createTestToken(t, validator, "admin_1", []string{"FINANCE_CONTROLLER"}, time.Now().Add(1*time.Hour))

	req := httptest.NewRequest("GET", "/api/v1/intents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if capturedPrincipal == nil {
		t.Fatal("principal was not set in context")
	}
	if capturedPrincipal.GetID() != "admin_1" {
		t.Errorf("expected subject 'admin_1', got %q", capturedPrincipal.GetID())
	}
	roles := capturedPrincipal.GetRoles()
	if len(roles) != 1 || roles[0] != rbac.RoleFinanceController {
		t.Errorf("expected roles [FINANCE_CONTROLLER], got %v", roles)
	}
}

func TestMiddleware_ExpiredJWT(t *testing.T) {
	validator := auth.NewJWTValidator("test-secret")
	middleware := auth.NewMiddleware(validator)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for expired token")
	}))

	token := createTestToken(t, validator, "admin_1", []string{"SRE"}, time.Now().Add(-1*time.Hour))

	req := httptest.NewRequest("GET", "/api/v1/intents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_MissingHeader(t *testing.T) {
	middleware := auth.NewMiddleware(auth.NewJWTValidator("test-secret"))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called without auth header")
	}))

	req := httptest.NewRequest("GET", "/api/v1/intents", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_InvalidSignature(t *testing.T) {
	signer := auth.NewJWTValidator("secret-one")
	middleware := auth.NewMiddleware(auth.NewJWTValidator("secret-two"))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for invalid signature")
	}))

	token := createTestToken(t, signer, "admin_1", []string{"SRE"}, time.Now().Add(1*time.Hour))

	req := httptest.NewRequest("GET", "/api/v1/intents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_PublicPathsBypass(t *testing.T) {
	middleware := auth.NewMiddleware(auth.NewJWTValidator("test-secret"))

	called := false
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/health", "/api/v1/webhooks/gateway"} {
		called = false
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if !called {
			t.Errorf("%s: handler should be called without auth", path)
		}
	}
}

func TestMiddleware_NilValidator_FailClosed(t *testing.T) {
	middleware := auth.NewMiddleware(nil)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called when validator is nil")
	}))

	req := httptest.NewRequest("GET", "/api/v1/intents", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_EmptySecretFailsClosed(t *testing.T) {
	if auth.NewJWTValidator("") != nil {
		t.Fatal("empty secret must yield a nil validator")
	}
}

func TestMiddleware_MissingRolesClaim(t *testing.T) {
	validator := auth.NewJWTValidator("test-secret")
	middleware := auth.NewMiddleware(validator)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for a roleless token")
	}))

	token := createTestToken(t, validator, "admin_1", nil, time.Now().Add(1*time.Hour))
	req := httptest.NewRequest("GET", "/api/v1/intents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestGetRequestID_ExtractsFromContext(t *testing.T) {
	var got string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/intents", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got == "" {
		t.Fatal("expected non-empty request id from context")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header to be set")
	}
}
