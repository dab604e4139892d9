package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/keystonegw/gateway/internal"
	"github.com/keystonegw/gateway/internal/provider"
	"github.com/keystonegw/gateway/internal/testutil"
)

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(Deps{Auth: testutil.RejectAuth{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestReadyz_UsesReadyCheck(t *testing.T) {
	t.Parallel()
	h := New(Deps{
		Auth: testutil.RejectAuth{},
		ReadyCheck: func(context.Context) error {
			return gateway.ErrUpstreamUnavailable
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestCompletion_RejectsUnauthenticated(t *testing.T) {
	t.Parallel()
	chat := &testutil.FakeDriver{EndpointFamily: gateway.FamilyOpenAIChat}
	h := New(Deps{
		Auth:      testutil.RejectAuth{},
		Providers: provider.NewRegistry(chat, nil, nil),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"gpt-4o"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCompletion_ForwardsToDriver(t *testing.T) {
	t.Parallel()
	chat := &testutil.FakeDriver{EndpointFamily: gateway.FamilyOpenAIChat}
	h := New(Deps{
		Auth:      testutil.FakeAuth{},
		Providers: provider.NewRegistry(chat, nil, nil),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"gpt-4o"}`))
	req.Header.Set("Authorization", "Bearer gw-test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "fake-resp") {
		t.Errorf("body = %s, want fake driver response", rec.Body.String())
	}
}

func TestCompletion_ModelNotAllowed(t *testing.T) {
	t.Parallel()
	chat := &testutil.FakeDriver{EndpointFamily: gateway.FamilyOpenAIChat}
	auth := testutil.FakeAuth{}
	h := New(Deps{Auth: customAuth{func(ctx context.Context, r *http.Request) (*gateway.Identity, error) {
		id, _ := auth.Authenticate(ctx, r)
		id.Key.AllowedModels = []string{"gpt-3.5-turbo"}
		return id, nil
	}}, Providers: provider.NewRegistry(chat, nil, nil)})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"gpt-4o"}`))
	req.Header.Set("Authorization", "Bearer gw-test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403, body = %s", rec.Code, rec.Body.String())
	}
}

func TestCompletion_StreamsSSE(t *testing.T) {
	t.Parallel()
	chat := &testutil.FakeDriver{EndpointFamily: gateway.FamilyOpenAIChat}
	h := New(Deps{
		Auth:      testutil.FakeAuth{},
		Providers: provider.NewRegistry(chat, nil, nil),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"gpt-4o","stream":true}`))
	req.Header.Set("Authorization", "Bearer gw-test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %q, want text/event-stream", ct)
	}
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	found := false
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data:") {
			found = true
		}
	}
	if !found {
		t.Error("expected at least one data: line in SSE body")
	}
}

func TestGetSelfAccount(t *testing.T) {
	t.Parallel()
	h := New(Deps{Auth: testutil.FakeAuth{}})

	req := httptest.NewRequest(http.MethodGet, "/v1/account", nil)
	req.Header.Set("Authorization", "Bearer gw-test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"remaining"`) {
		t.Errorf("body = %s, want remaining field", rec.Body.String())
	}
}

func TestAdminRoutesAbsentWithoutStore(t *testing.T) {
	t.Parallel()
	h := New(Deps{Auth: testutil.RejectAuth{}, AdminKey: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/admin/accounts", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (no admin routes mounted without a Store)", rec.Code)
	}
}

// customAuth lets tests adapt testutil.FakeAuth's identity per-request.
type customAuth struct {
	fn func(ctx context.Context, r *http.Request) (*gateway.Identity, error)
}

func (c customAuth) Authenticate(ctx context.Context, r *http.Request) (*gateway.Identity, error) {
	return c.fn(ctx, r)
}
