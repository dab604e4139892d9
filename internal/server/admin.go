package server

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/keystonegw/gateway/internal"
)

// maxAdminBody is the maximum allowed admin request body size (1 MB).
const maxAdminBody = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid_request_error", "invalid request body"))
		return false
	}
	return true
}

// writeAdminError logs the full error server-side and returns a sanitized
// message to the client to avoid leaking internal details (e.g. SQLite errors).
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	status, errType := errorStatus(err)
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		writeJSON(w, status, errorResponse(errType, "not found"))
	case errors.Is(err, gateway.ErrConflict):
		writeJSON(w, status, errorResponse(errType, "conflict"))
	default:
		slog.LogAttrs(r.Context(), slog.LevelError, "admin error", slog.String("error", err.Error()))
		writeJSON(w, status, errorResponse("internal_error", "internal error"))
	}
}

type pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

type listResponse struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

func parseWindow(w http.ResponseWriter, r *http.Request) (start, end time.Time, ok bool) {
	q := r.URL.Query()
	startStr, endStr := q.Get("start_date"), q.Get("end_date")
	end = time.Now()
	start = end.AddDate(0, 0, -30)

	var err error
	if startStr != "" {
		if start, err = time.Parse(time.RFC3339, startStr); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid_request_error", "invalid start_date, use RFC3339"))
			return start, end, false
		}
	}
	if endStr != "" {
		if end, err = time.Parse(time.RFC3339, endStr); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid_request_error", "invalid end_date, use RFC3339"))
			return start, end, false
		}
	}
	return start, end, true
}

// --- Accounts ---

func (s *server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var a gateway.Account
	if !decodeJSON(w, r, &a) {
		return
	}
	if a.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid_request_error", "user_id is required"))
		return
	}
	if a.BudgetPeriod == "" {
		a.BudgetPeriod = gateway.BudgetPeriodTotal
	}
	a.IsActive = true
	if err := s.deps.Store.CreateAccount(r.Context(), &a); err != nil {
		writeAdminError(w, r, err)
		return
	}
	w.Header().Set("Location", "/admin/accounts/"+a.UserID)
	writeJSON(w, http.StatusCreated, a)
}

func (s *server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePagination(r)
	accounts, total, err := s.deps.Store.ListAccounts(r.Context(), offset, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal_error", "failed to list accounts"))
		return
	}
	if accounts == nil {
		accounts = []*gateway.Account{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       accounts,
		Pagination: pagination{Offset: offset, Limit: limit, Total: total},
	})
}

func (s *server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	a, err := s.deps.Store.GetAccount(r.Context(), userID)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	existing, err := s.deps.Store.GetAccount(r.Context(), userID)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}

	var patch struct {
		DisplayName  *string  `json:"display_name,omitempty"`
		BudgetUSD    *float64 `json:"budget_usd,omitempty"`
		BudgetPeriod *string  `json:"budget_period,omitempty"`
		IsActive     *bool    `json:"is_active,omitempty"`
	}
	if !decodeJSON(w, r, &patch) {
		return
	}
	if patch.DisplayName != nil {
		existing.DisplayName = *patch.DisplayName
	}
	if patch.BudgetUSD != nil {
		existing.BudgetUSD = *patch.BudgetUSD
	}
	if patch.BudgetPeriod != nil {
		existing.BudgetPeriod = gateway.BudgetPeriod(*patch.BudgetPeriod)
	}
	if patch.IsActive != nil {
		existing.IsActive = *patch.IsActive
	}

	if err := s.deps.Store.UpdateAccount(r.Context(), existing); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if s.deps.Cache != nil {
		s.deps.Cache.InvalidateAccount(r.Context(), userID)
	}
	writeJSON(w, http.StatusOK, existing)
}

// --- Keys ---

// generateKey returns a gw-prefixed bearer key with >=32 cryptographically
// random base32 characters, per spec.
func generateKey() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return gateway.APIKeyPrefix + base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

type keyCreateRequest struct {
	UserID        string   `json:"user_id"`
	Name          string   `json:"key_name"`
	AllowedModels []string `json:"allowed_models,omitempty"`
}

type keyCreateResponse struct {
	*gateway.APIKey
	Key string `json:"key"`
}

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req keyCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid_request_error", "user_id is required"))
		return
	}
	if _, err := s.deps.Store.GetAccount(r.Context(), req.UserID); err != nil {
		writeAdminError(w, r, err)
		return
	}

	raw, err := generateKey()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal_error", "failed to generate key"))
		return
	}
	key := &gateway.APIKey{
		KeyHash:       gateway.HashKey(raw),
		KeyPrefix:     raw[:len(gateway.APIKeyPrefix)+8],
		UserID:        req.UserID,
		Name:          req.Name,
		IsActive:      true,
		AllowedModels: req.AllowedModels,
		CreatedAt:     time.Now(),
	}
	if err := s.deps.Store.CreateKey(r.Context(), key); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, keyCreateResponse{APIKey: key, Key: raw})
}

type bulkKeyRequest struct {
	UserID     string `json:"user_id"`
	Count      int    `json:"count"`
	NamePrefix string `json:"name_prefix"`
}

func (s *server) handleBulkCreateKeys(w http.ResponseWriter, r *http.Request) {
	var req bulkKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Count <= 0 || req.Count > 1000 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid_request_error", "user_id and count (1-1000) are required"))
		return
	}
	if _, err := s.deps.Store.GetAccount(r.Context(), req.UserID); err != nil {
		writeAdminError(w, r, err)
		return
	}

	out := make([]keyCreateResponse, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		raw, err := generateKey()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse("internal_error", "failed to generate key"))
			return
		}
		key := &gateway.APIKey{
			KeyHash:   gateway.HashKey(raw),
			KeyPrefix: raw[:len(gateway.APIKeyPrefix)+8],
			UserID:    req.UserID,
			Name:      req.NamePrefix + "-" + strconv.Itoa(i+1),
			IsActive:  true,
			CreatedAt: time.Now(),
		}
		if err := s.deps.Store.CreateKey(r.Context(), key); err != nil {
			writeAdminError(w, r, err)
			return
		}
		out = append(out, keyCreateResponse{APIKey: key, Key: raw})
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": out})
}

func (s *server) handleListKeysByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	keys, err := s.deps.Store.ListKeysByUser(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal_error", "failed to list keys"))
		return
	}
	if keys == nil {
		keys = []*gateway.APIKey{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": keys})
}

func (s *server) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	rawKey := chi.URLParam(r, "key")
	hash := gateway.HashKey(rawKey)

	var patch struct {
		IsActive      *bool    `json:"is_active,omitempty"`
		Name          *string  `json:"key_name,omitempty"`
		AllowedModels []string `json:"allowed_models,omitempty"`
	}
	if !decodeJSON(w, r, &patch) {
		return
	}

	err := s.deps.Store.UpdateKeyByHash(r.Context(), hash, func(k *gateway.APIKey) {
		if patch.IsActive != nil {
			k.IsActive = *patch.IsActive
		}
		if patch.Name != nil {
			k.Name = *patch.Name
		}
		if patch.AllowedModels != nil {
			k.AllowedModels = patch.AllowedModels
		}
	})
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if s.deps.Cache != nil {
		s.deps.Cache.InvalidateKey(r.Context(), hash)
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Prices ---

func (s *server) handleUpsertPrice(w http.ResponseWriter, r *http.Request) {
	var p gateway.ModelPrice
	if !decodeJSON(w, r, &p) {
		return
	}
	if p.ModelName == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid_request_error", "model_name is required"))
		return
	}
	if err := s.deps.Store.UpsertPrice(r.Context(), &p); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if s.deps.Cache != nil {
		s.deps.Cache.InvalidatePrice(r.Context(), p.ModelName)
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *server) handleListPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.deps.Store.ListPrices(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal_error", "failed to list prices"))
		return
	}
	if prices == nil {
		prices = []*gateway.ModelPrice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": prices})
}

func (s *server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	p, err := s.deps.Store.GetPrice(r.Context(), model)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handleDeletePrice(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	if err := s.deps.Store.DeletePrice(r.Context(), model); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if s.deps.Cache != nil {
		s.deps.Cache.InvalidatePrice(r.Context(), model)
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Usage ---

func (s *server) handleUsageWindow(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	start, end, ok := parseWindow(w, r)
	if !ok {
		return
	}
	window, err := s.deps.Store.SumUsageWindow(r.Context(), userID, start, end)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal_error", "failed to query usage"))
		return
	}
	writeJSON(w, http.StatusOK, window)
}
