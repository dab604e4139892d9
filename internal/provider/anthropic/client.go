// Package anthropic implements the gateway.Driver adapter for Anthropic's
// Messages endpoint family. Requests and responses are forwarded byte for
// byte; only auth headers are added.
package anthropic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	gateway "github.com/keystonegw/gateway/internal"
	"github.com/keystonegw/gateway/internal/meter"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
)

// Client is the anthropic_messages Driver.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates an Anthropic Client for direct API access. If baseURL is
// empty, it defaults to "https://api.anthropic.com/v1".
func New(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// Family returns FamilyAnthropicMessages.
func (c *Client) Family() gateway.EndpointFamily { return gateway.FamilyAnthropicMessages }

// ForwardUnary sends body to /messages and returns its raw response.
func (c *Client) ForwardUnary(ctx context.Context, body []byte) (int, []byte, gateway.Usage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return 0, nil, gateway.Usage{}, fmt.Errorf("anthropic: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, gateway.Usage{}, fmt.Errorf("anthropic: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, gateway.Usage{}, fmt.Errorf("anthropic: read response: %w", err)
	}

	usage := meter.UsageFromBody(gateway.FamilyAnthropicMessages, respBody)
	return resp.StatusCode, respBody, usage, nil
}

// ForwardStream sends body to /messages with streaming enabled. onAccept is
// only called once Anthropic's response confirms the stream will proceed;
// a rejection never reaches w and is returned as an UpstreamError instead.
func (c *Client) ForwardStream(ctx context.Context, body []byte, w io.Writer, flush func(), onAccept func()) (gateway.Usage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return gateway.Usage{}, fmt.Errorf("anthropic: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return gateway.Usage{}, fmt.Errorf("anthropic: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return gateway.Usage{}, &UpstreamError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	onAccept()
	fwd := meter.NewForwarder(w, flush)
	acc := meter.NewAccumulator(gateway.FamilyAnthropicMessages)
	if err := meter.Run(ctx, resp.Body, fwd, acc); err != nil {
		return acc.Usage(), err
	}
	return acc.Usage(), nil
}

// setHeaders applies Anthropic's auth and versioning headers.
func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("content-type", "application/json")
	r.Header.Set("x-api-key", c.apiKey)
	r.Header.Set("anthropic-version", anthropicVersion)
}

// UpstreamError represents a non-200 response from the Anthropic API.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("anthropic: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the upstream HTTP status code, used for circuit-breaker
// classification and gateway error mapping.
func (e *UpstreamError) HTTPStatus() int { return e.StatusCode }

var _ gateway.Driver = (*Client)(nil)
