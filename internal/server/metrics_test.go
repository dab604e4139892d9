package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gateway "github.com/keystonegw/gateway/internal"
	"github.com/keystonegw/gateway/internal/provider"
	"github.com/keystonegw/gateway/internal/telemetry"
	"github.com/keystonegw/gateway/internal/testutil"
)

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	chat := &testutil.FakeDriver{EndpointFamily: gateway.FamilyOpenAIChat}
	provReg := provider.NewRegistry(chat, nil, nil)

	h := New(Deps{
		Auth:           testutil.FakeAuth{},
		Providers:      provReg,
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer gw-test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: status = %d; body = %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	metricsBody := rec.Body.String()
	if !strings.Contains(metricsBody, "gateway_requests_total") {
		t.Error("metrics should contain gateway_requests_total")
	}
	if !strings.Contains(metricsBody, "gateway_request_duration_seconds") {
		t.Error("metrics should contain gateway_request_duration_seconds")
	}
}

func TestMetricsMiddleware_IncrementsCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	chat := &testutil.FakeDriver{EndpointFamily: gateway.FamilyOpenAIChat}
	provReg := provider.NewRegistry(chat, nil, nil)

	h := New(Deps{
		Auth:           testutil.FakeAuth{},
		Providers:      provReg,
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "gateway_requests_total" {
			found = true
			for _, m := range f.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "path" && l.GetValue() == "/health" {
						if m.GetCounter().GetValue() < 3 {
							t.Errorf("requests_total for /health = %f, want >= 3", m.GetCounter().GetValue())
						}
					}
				}
			}
		}
	}
	if !found {
		t.Error("gateway_requests_total metric not found")
	}
}
