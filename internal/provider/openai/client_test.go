package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	gateway "github.com/keystonegw/gateway/internal"
)

func TestForwardUnary(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing or wrong Authorization header")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	}))
	defer srv.Close()

	client := NewChatDriver("test-key", srv.URL, nil)
	status, body, usage, err := client.ForwardUnary(context.Background(), []byte(`{"model":"gpt-4o"}`))
	if err != nil {
		t.Fatalf("ForwardUnary: %v", err)
	}
	if status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
	if !bytes.Contains(body, []byte("chatcmpl-1")) {
		t.Errorf("body = %s, missing id", body)
	}
	if usage.InputTokens != 10 || usage.OutputTokens != 5 {
		t.Errorf("usage = %+v, want input=10 output=5", usage)
	}
}

func TestForwardUnary_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	client := NewChatDriver("test-key", srv.URL, nil)
	status, _, _, err := client.ForwardUnary(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", status)
	}
}

func TestForwardStream(t *testing.T) {
	t.Parallel()

	sseBody := "data: {\"id\":\"1\",\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n" +
		"data: {\"id\":\"1\",\"choices\":[],\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":5}}\n\n" +
		"data: [DONE]\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, sseBody)
	}))
	defer srv.Close()

	client := NewChatDriver("test-key", srv.URL, nil)
	var out bytes.Buffer
	accepted := false
	usage, err := client.ForwardStream(context.Background(), []byte(`{"stream":true}`), &out, func() {}, func() { accepted = true })
	if err != nil {
		t.Fatalf("ForwardStream: %v", err)
	}
	if !accepted {
		t.Error("onAccept should be called once the upstream confirms the stream")
	}
	if out.String() != sseBody {
		t.Errorf("forwarded bytes differ:\ngot:  %q\nwant: %q", out.String(), sseBody)
	}
	if usage.InputTokens != 10 || usage.OutputTokens != 5 {
		t.Errorf("usage = %+v, want input=10 output=5", usage)
	}
}

func TestForwardStream_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid key"}}`)
	}))
	defer srv.Close()

	client := NewChatDriver("bad-key", srv.URL, nil)
	accepted := false
	_, err := client.ForwardStream(context.Background(), []byte(`{}`), &bytes.Buffer{}, func() {}, func() { accepted = true })
	if err == nil {
		t.Fatal("expected error for HTTP 401")
	}
	if accepted {
		t.Error("onAccept should not be called when the upstream rejects the request")
	}
	var upstreamErr *UpstreamError
	if ue, ok := err.(*UpstreamError); ok {
		upstreamErr = ue
	}
	if upstreamErr == nil {
		t.Fatalf("expected *UpstreamError, got %T", err)
	}
	if upstreamErr.HTTPStatus() != http.StatusUnauthorized {
		t.Errorf("HTTPStatus() = %d, want 401", upstreamErr.HTTPStatus())
	}
}

func TestResponsesDriver_Family(t *testing.T) {
	t.Parallel()

	client := NewResponsesDriver("key", "", nil)
	if client.Family() != gateway.FamilyOpenAIResponses {
		t.Errorf("Family() = %q, want %q", client.Family(), gateway.FamilyOpenAIResponses)
	}
}
