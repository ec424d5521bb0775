package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zhouzirui/flyerdeck/backend/internal/auth"
)

func protectedEcho(t *testing.T) http.Handler {
	t.Helper()
	return auth.Middleware(auth.InsecureVerifier{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			t.Error("identity missing from context behind middleware")
		}
		w.Write([]byte(identity.UserID))
	}))
}

func TestMiddlewarePassesIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer alice")
	rec := httptest.NewRecorder()

	protectedEcho(t).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "alice" {
		t.Fatalf("user id = %q", rec.Body.String())
	}
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	protectedEcho(t).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("missing WWW-Authenticate challenge")
	}
}

func TestMiddlewareRejectsMalformedHeader(t *testing.T) {
	for _, header := range []string{"Basic abc123", "Bearer", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()

		protectedEcho(t).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}
