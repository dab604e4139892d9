package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/keystonegw/gateway/internal"
	"github.com/keystonegw/gateway/internal/billing"
)

// bodyPool reuses buffers for request body reads.
var bodyPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// maxRequestBody is the maximum allowed client request body size (4 MB).
const maxRequestBody = 4 << 20

// readRequestBody reads the full request body via bodyPool, returning the
// bytes and false (after writing a 400) on error.
func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	buf := bodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bodyPool.Put(buf)
	if _, err := buf.ReadFrom(r.Body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid_request_error", "invalid request body"))
		return nil, false
	}
	body := make([]byte, buf.Len())
	copy(body, buf.Bytes())
	return body, true
}

// handleCompletion is the shared per-request procedure for all three
// client-facing endpoints (spec §4.9): parse model/stream, check the
// model allow-list, invoke the family's driver, and bill exactly once on
// terminal disposition.
func (s *server) handleCompletion(family gateway.EndpointFamily) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := gateway.IdentityFromContext(r.Context())
		body, ok := readRequestBody(w, r)
		if !ok {
			return
		}

		if !json.Valid(body) {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid_request_error", "invalid request body"))
			return
		}

		model := gjson.GetBytes(body, "model").String()
		stream := gjson.GetBytes(body, "stream").Bool()

		if identity != nil && !identity.Key.IsModelAllowed(model) {
			writeJSON(w, http.StatusForbidden, errorResponse("authorization_error", "model not allowed"))
			return
		}

		driver, err := s.deps.Providers.Get(family)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse("service_unavailable", "no driver configured for this endpoint"))
			return
		}

		t0 := time.Now()
		if stream {
			s.handleStream(w, r, driver, family, model, body, identity, t0)
			return
		}
		s.handleUnary(w, r, driver, family, model, body, identity, t0)
	}
}

func (s *server) handleUnary(w http.ResponseWriter, r *http.Request, driver gateway.Driver, family gateway.EndpointFamily, model string, body []byte, identity *gateway.Identity, t0 time.Time) {
	status, respBody, usage, err := driver.ForwardUnary(r.Context(), body)
	elapsed := time.Since(t0)
	if s.deps.Metrics != nil {
		s.deps.Metrics.UpstreamDuration.WithLabelValues(string(family)).Observe(elapsed.Seconds())
	}
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.UpstreamErrors.WithLabelValues(string(family), "transport").Inc()
		}
		writeGatewayError(w, r.Context(), err)
		s.bill(r, family, model, identity, usage, elapsed, respErrorMessage(err), body, nil)
		return
	}

	if status >= 400 {
		if s.deps.Metrics != nil {
			s.deps.Metrics.UpstreamErrors.WithLabelValues(string(family), statusText[status]).Inc()
		}
		classified := classifyUpstreamStatus(status)
		writeGatewayError(w, r.Context(), classified)
		s.bill(r, family, model, identity, usage, elapsed, classified.Error(), body, respBody)
		return
	}

	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(respBody)

	s.bill(r, family, model, identity, usage, elapsed, "", body, respBody)
}

func (s *server) handleStream(w http.ResponseWriter, r *http.Request, driver gateway.Driver, family gateway.EndpointFamily, model string, body []byte, identity *gateway.Identity, t0 time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("response writer does not support flushing; cannot stream")
		writeGatewayError(w, r.Context(), gateway.ErrUpstreamUnavailable)
		return
	}

	// The client's response status/headers are committed only once the
	// upstream has actually agreed to stream, so a rejected request still
	// surfaces the real status and error envelope instead of a bare 200.
	accepted := false
	onAccept := func() {
		accepted = true
		writeSSEHeaders(w)
	}

	usage, err := driver.ForwardStream(r.Context(), body, w, flusher.Flush, onAccept)
	elapsed := time.Since(t0)
	if s.deps.Metrics != nil {
		s.deps.Metrics.UpstreamDuration.WithLabelValues(string(family)).Observe(elapsed.Seconds())
	}

	errMsg := ""
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.UpstreamErrors.WithLabelValues(string(family), "stream").Inc()
		}
		if !accepted {
			var he httpStatusError
			if errors.As(err, &he) {
				classified := classifyUpstreamStatus(he.HTTPStatus())
				writeGatewayError(w, r.Context(), classified)
				errMsg = classified.Error()
			} else {
				writeGatewayError(w, r.Context(), gateway.ErrUpstreamUnavailable)
				errMsg = gateway.ErrUpstreamUnavailable.Error()
			}
		} else {
			errMsg = respErrorMessage(err)
			if r.Context().Err() != nil {
				errMsg = "client_disconnect"
			}
			slog.LogAttrs(r.Context(), slog.LevelWarn, "stream terminated with error",
				slog.String("error", err.Error()), slog.String("family", string(family)))
		}
	}
	if usage.Estimated && s.deps.Metrics != nil {
		s.deps.Metrics.EstimatedUsage.Inc()
	}

	s.bill(r, family, model, identity, usage, elapsed, errMsg, body, nil)
}

// httpStatusError is implemented by driver upstream-rejection errors (e.g.
// openai/anthropic's UpstreamError) so their status can be classified into
// the gateway's own error taxonomy.
type httpStatusError interface {
	error
	HTTPStatus() int
}

// bill invokes the C8 ledger exactly once per request, detached from the
// client's (possibly already-cancelled) context.
func (s *server) bill(r *http.Request, family gateway.EndpointFamily, model string, identity *gateway.Identity, usage gateway.Usage, elapsed time.Duration, errMsg string, reqBody, respBody []byte) {
	if s.deps.Ledger == nil || identity == nil {
		return
	}
	entry := billing.Entry{
		UserID:       identity.Account.UserID,
		KeyPrefix:    identity.Key.KeyPrefix,
		Model:        model,
		Endpoint:     endpointPath(family),
		IP:           clientIP(r),
		Usage:        usage,
		ProcessingMs: elapsed.Milliseconds(),
		ErrorMessage: errMsg,
		Request:      reqBody,
		Response:     respBody,
	}
	s.deps.Ledger.Record(r.Context(), entry)

	if s.deps.Metrics != nil {
		s.deps.Metrics.TokensProcessed.WithLabelValues(model, "input").Add(float64(usage.InputTokens))
		s.deps.Metrics.TokensProcessed.WithLabelValues(model, "output").Add(float64(usage.OutputTokens))
		if usage.CacheReadTokens > 0 {
			s.deps.Metrics.TokensProcessed.WithLabelValues(model, "cache_read").Add(float64(usage.CacheReadTokens))
		}
		if usage.CacheWriteTokens > 0 {
			s.deps.Metrics.TokensProcessed.WithLabelValues(model, "cache_write").Add(float64(usage.CacheWriteTokens))
		}
	}
}

func respErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func endpointPath(family gateway.EndpointFamily) string {
	switch family {
	case gateway.FamilyOpenAIChat:
		return "/v1/chat/completions"
	case gateway.FamilyOpenAIResponses:
		return "/v1/responses"
	case gateway.FamilyAnthropicMessages:
		return "/v1/messages"
	default:
		return string(family)
	}
}

// clientIP extracts the caller's address, preferring X-Forwarded-For's
// first hop when present (set by a trusted upstream load balancer).
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleListModels returns the prices table, filtered by the caller's
// key's allow-list (spec §4.9).
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	prices, err := s.deps.Store.ListPrices(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal_error", "failed to list models"))
		return
	}
	identity := gateway.IdentityFromContext(r.Context())
	models := make([]string, 0, len(prices))
	for _, p := range prices {
		if identity == nil || identity.Key.IsModelAllowed(p.ModelName) {
			models = append(models, p.ModelName)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": models})
}

// accountView is the caller's account snapshot returned by GET /v1/account.
type accountView struct {
	UserID       string  `json:"user_id"`
	BudgetUSD    float64 `json:"budget_usd"`
	SpentUSD     float64 `json:"spent_usd"`
	Remaining    float64 `json:"remaining"`
	BudgetPeriod string  `json:"budget_period"`
	OverBudget   bool    `json:"over_budget"`
	IsActive     bool    `json:"is_active"`
}

func (s *server) handleGetSelfAccount(w http.ResponseWriter, r *http.Request) {
	identity := gateway.IdentityFromContext(r.Context())
	if identity == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse("authentication_error", "unauthorized"))
		return
	}
	a := identity.Account
	writeJSON(w, http.StatusOK, accountView{
		UserID:       a.UserID,
		BudgetUSD:    a.BudgetUSD,
		SpentUSD:     a.SpentUSD,
		Remaining:    a.Remaining(),
		BudgetPeriod: string(a.BudgetPeriod),
		OverBudget:   a.OverBudget(),
		IsActive:     a.IsActive,
	})
}

// --- SSE framing helpers ---

var sseHeaders = map[string][]string{
	"Content-Type":     {"text/event-stream"},
	"Cache-Control":     {"no-cache"},
	"Connection":        {"keep-alive"},
	"X-Accel-Buffering": {"no"},
}

func writeSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	for k, v := range sseHeaders {
		h[k] = v
	}
	w.WriteHeader(http.StatusOK)
}

// --- error taxonomy ---

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(errType, msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = errType
	return e
}

// writeGatewayError maps a gateway sentinel error to its HTTP status and
// error-taxonomy type (spec §7).
func writeGatewayError(w http.ResponseWriter, ctx context.Context, err error) {
	status, errType := errorStatus(err)
	slog.LogAttrs(ctx, slog.LevelWarn, "request error",
		slog.String("error", err.Error()), slog.String("type", errType))
	writeJSON(w, status, errorResponse(errType, err.Error()))
}

// errorStatus maps a gateway sentinel error to the HTTP status and
// caller-visible type string of the spec's error taxonomy (§7).
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, gateway.ErrUnauthorized):
		return http.StatusUnauthorized, "authentication_error"
	case errors.Is(err, gateway.ErrKeyInactive),
		errors.Is(err, gateway.ErrAccountInactive),
		errors.Is(err, gateway.ErrForbidden),
		errors.Is(err, gateway.ErrModelNotAllowed):
		return http.StatusForbidden, "authorization_error"
	case errors.Is(err, gateway.ErrBudgetExceeded):
		return http.StatusTooManyRequests, "budget_exceeded"
	case errors.Is(err, gateway.ErrUpstreamAuth):
		return http.StatusUnauthorized, "upstream_auth_error"
	case errors.Is(err, gateway.ErrUpstreamRateLimited):
		return http.StatusTooManyRequests, "rate_limit_exceeded"
	case errors.Is(err, gateway.ErrUpstreamBadRequest), errors.Is(err, gateway.ErrBadRequest):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, gateway.ErrUpstreamNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, gateway.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, gateway.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, "timeout_error"
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, gateway.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, gateway.ErrReferentialIntegrity):
		return http.StatusInternalServerError, "internal_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// classifyUpstreamStatus maps a raw upstream HTTP status code (from a
// unary ForwardUnary response, or an UpstreamError's HTTPStatus) to the
// gateway sentinel error errorStatus expects, so upstream failures surface
// the gateway's own {error:{message,type}} envelope rather than the raw
// upstream error body.
func classifyUpstreamStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return gateway.ErrUpstreamAuth
	case http.StatusTooManyRequests:
		return gateway.ErrUpstreamRateLimited
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return gateway.ErrUpstreamBadRequest
	case http.StatusNotFound:
		return gateway.ErrUpstreamNotFound
	case http.StatusGatewayTimeout:
		return gateway.ErrUpstreamTimeout
	default:
		return gateway.ErrUpstreamUnavailable
	}
}

// jsonCT is a pre-allocated header value slice.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}
