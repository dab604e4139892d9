// Package openai implements the gateway.Driver adapters for OpenAI's Chat
// Completions and Responses endpoint families. Both share the same
// transport and auth; only the upstream path and the usage-parsing shape
// differ, which is why one Client parametrizes both drivers.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"

	gateway "github.com/keystonegw/gateway/internal"
	"github.com/keystonegw/gateway/internal/meter"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client is an OpenAI endpoint-family driver. It forwards request bodies
// unmodified and never reformats response bytes.
type Client struct {
	family  gateway.EndpointFamily
	path    string
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewChatDriver returns the openai_chat Driver.
func NewChatDriver(apiKey, baseURL string, resolver *dnscache.Resolver) *Client {
	return newClient(gateway.FamilyOpenAIChat, "/chat/completions", apiKey, baseURL, resolver)
}

// NewResponsesDriver returns the openai_responses Driver.
func NewResponsesDriver(apiKey, baseURL string, resolver *dnscache.Resolver) *Client {
	return newClient(gateway.FamilyOpenAIResponses, "/responses", apiKey, baseURL, resolver)
}

func newClient(family gateway.EndpointFamily, path, apiKey, baseURL string, resolver *dnscache.Resolver) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}

	return &Client{
		family:  family,
		path:    path,
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Transport: t},
	}
}

// Family returns the endpoint family this Client drives.
func (c *Client) Family() gateway.EndpointFamily { return c.family }

// ForwardUnary sends body to the upstream and returns its raw response.
func (c *Client) ForwardUnary(ctx context.Context, body []byte) (int, []byte, gateway.Usage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, gateway.Usage{}, fmt.Errorf("openai: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, gateway.Usage{}, fmt.Errorf("openai: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, gateway.Usage{}, fmt.Errorf("openai: read response: %w", err)
	}

	usage := meter.UsageFromBody(c.family, respBody)
	return resp.StatusCode, respBody, usage, nil
}

// ForwardStream sends body to the upstream with streaming enabled. onAccept
// is only called once the upstream's response confirms the stream will
// proceed; a rejection never reaches w and is returned as an UpstreamError
// instead.
func (c *Client) ForwardStream(ctx context.Context, body []byte, w io.Writer, flush func(), onAccept func()) (gateway.Usage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
	if err != nil {
		return gateway.Usage{}, fmt.Errorf("openai: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return gateway.Usage{}, fmt.Errorf("openai: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return gateway.Usage{}, &UpstreamError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	onAccept()
	fwd := meter.NewForwarder(w, flush)
	acc := meter.NewAccumulator(c.family)
	if err := meter.Run(ctx, resp.Body, fwd, acc); err != nil {
		return acc.Usage(), err
	}
	return acc.Usage(), nil
}

func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+c.apiKey)
	r.Header.Set("Content-Type", "application/json")
}

// UpstreamError represents a non-200 response from the OpenAI API.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("openai: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the upstream HTTP status code, used for circuit-breaker
// classification and gateway error mapping.
func (e *UpstreamError) HTTPStatus() int { return e.StatusCode }

var _ gateway.Driver = (*Client)(nil)
