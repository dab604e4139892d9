package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keystonegw/gateway/internal/testutil"
)

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()
	h := New(Deps{Auth: testutil.RejectAuth{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options: nosniff")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options: DENY")
	}
}

func TestRequestID_GeneratedWhenAbsent(t *testing.T) {
	t.Parallel()
	h := New(Deps{Auth: testutil.RejectAuth{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("expected a generated request ID")
	}
}

func TestRequestID_EchoesValidClientID(t *testing.T) {
	t.Parallel()
	h := New(Deps{Auth: testutil.RejectAuth{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "client-supplied-id.123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(requestIDHeader); got != "client-supplied-id.123" {
		t.Errorf("request id = %q, want echoed client id", got)
	}
}

func TestRequestID_RejectsInvalidClientID(t *testing.T) {
	t.Parallel()
	h := New(Deps{Auth: testutil.RejectAuth{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "has a space")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(requestIDHeader); got == "has a space" {
		t.Error("invalid client-supplied request id should not be echoed back")
	}
}

func TestRequireAdmin_RejectsWrongToken(t *testing.T) {
	t.Parallel()
	h := New(Deps{Auth: testutil.RejectAuth{}, Store: testutil.NewFakeStore(), AdminKey: "correct-secret"})

	req := httptest.NewRequest(http.MethodGet, "/admin/accounts", nil)
	req.Header.Set("Authorization", "Bearer wrong-secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	tok, ok := bearerToken(req)
	if !ok || tok != "abc123" {
		t.Errorf("bearerToken = (%q, %v), want (\"abc123\", true)", tok, ok)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("Authorization", "Basic xyz")
	if _, ok := bearerToken(req2); ok {
		t.Error("expected bearerToken to reject non-Bearer scheme")
	}
}
