package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/keystonegw/gateway/internal"
	"github.com/keystonegw/gateway/internal/testutil"
)

func newAdminServer(store *testutil.FakeStore) http.Handler {
	return New(Deps{
		Auth:     testutil.RejectAuth{},
		Store:    store,
		AdminKey: "test-admin-secret",
	})
}

func adminRequest(method, path string, body any) *http.Request {
	var r *http.Request
	if body != nil {
		data, _ := json.Marshal(body)
		r = httptest.NewRequest(method, path, bytes.NewReader(data))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	r.Header.Set("Authorization", "Bearer test-admin-secret")
	return r
}

func TestAdmin_RequiresBearerToken(t *testing.T) {
	t.Parallel()
	h := newAdminServer(testutil.NewFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/admin/accounts", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAdmin_CreateAndGetAccount(t *testing.T) {
	t.Parallel()
	h := newAdminServer(testutil.NewFakeStore())

	create := adminRequest(http.MethodPost, "/admin/accounts", map[string]any{
		"user_id":    "acme",
		"budget_usd": 50.0,
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, create)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	get := adminRequest(http.MethodGet, "/admin/accounts/acme", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, get)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got gateway.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.UserID != "acme" || got.BudgetUSD != 50.0 {
		t.Errorf("got = %+v", got)
	}
	if got.BudgetPeriod != gateway.BudgetPeriodTotal {
		t.Errorf("budget period = %q, want default %q", got.BudgetPeriod, gateway.BudgetPeriodTotal)
	}
}

func TestAdmin_GetUnknownAccount(t *testing.T) {
	t.Parallel()
	h := newAdminServer(testutil.NewFakeStore())

	req := adminRequest(http.MethodGet, "/admin/accounts/nope", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAdmin_UpdateAccountPatchesOnlyGivenFields(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	store.Accounts["acme"] = &gateway.Account{UserID: "acme", DisplayName: "Acme", BudgetUSD: 10, IsActive: true}
	h := newAdminServer(store)

	patch := adminRequest(http.MethodPatch, "/admin/accounts/acme", map[string]any{"budget_usd": 99.5})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, patch)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got gateway.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.BudgetUSD != 99.5 {
		t.Errorf("budget_usd = %v, want 99.5", got.BudgetUSD)
	}
	if got.DisplayName != "Acme" {
		t.Errorf("display_name = %q, want unchanged %q", got.DisplayName, "Acme")
	}
}

func TestAdmin_CreateKeyIssuesRawKeyOnce(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	store.Accounts["acme"] = &gateway.Account{UserID: "acme", IsActive: true}
	h := newAdminServer(store)

	req := adminRequest(http.MethodPost, "/admin/keys", map[string]any{
		"user_id":  "acme",
		"key_name": "ci key",
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got.Key, gateway.APIKeyPrefix) {
		t.Errorf("key = %q, want gw- prefix", got.Key)
	}
	if len(got.Key) < 32 {
		t.Errorf("key length = %d, want >= 32", len(got.Key))
	}
}

func TestAdmin_CreateKeyUnknownAccount(t *testing.T) {
	t.Parallel()
	h := newAdminServer(testutil.NewFakeStore())

	req := adminRequest(http.MethodPost, "/admin/keys", map[string]any{"user_id": "ghost"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAdmin_BulkCreateKeys(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	store.Accounts["acme"] = &gateway.Account{UserID: "acme", IsActive: true}
	h := newAdminServer(store)

	req := adminRequest(http.MethodPost, "/admin/keys/bulk", map[string]any{
		"user_id":     "acme",
		"count":       3,
		"name_prefix": "batch",
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got struct {
		Data []struct {
			Key string `json:"key"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Data) != 3 {
		t.Fatalf("created %d keys, want 3", len(got.Data))
	}
}

func TestAdmin_UpdateKeyDeactivates(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	rawKey := "gw-testkeyplaintext"
	hash := gateway.HashKey(rawKey)
	store.Keys[hash] = &gateway.APIKey{KeyHash: hash, UserID: "acme", IsActive: true}
	h := newAdminServer(store)

	req := adminRequest(http.MethodPatch, "/admin/keys/"+rawKey, map[string]any{"is_active": false})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if store.Keys[hash].IsActive {
		t.Error("key should be deactivated")
	}
}

func TestAdmin_UpsertAndGetPrice(t *testing.T) {
	t.Parallel()
	h := newAdminServer(testutil.NewFakeStore())

	req := adminRequest(http.MethodPost, "/admin/costs", map[string]any{
		"model_name":  "gpt-4o",
		"provider":    "openai",
		"input_rate":  2.5,
		"output_rate": 10.0,
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upsert: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	get := adminRequest(http.MethodGet, "/admin/costs/gpt-4o", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, get)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAdmin_DeletePrice(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	store.Prices["gpt-4o"] = &gateway.ModelPrice{ModelName: "gpt-4o"}
	h := newAdminServer(store)

	req := adminRequest(http.MethodDelete, "/admin/costs/gpt-4o", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if _, ok := store.Prices["gpt-4o"]; ok {
		t.Error("price should be deleted")
	}
}

func TestAdmin_UsageWindow(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	h := newAdminServer(store)

	req := adminRequest(http.MethodGet, "/admin/usage/acme", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
