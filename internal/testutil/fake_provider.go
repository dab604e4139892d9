// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"
	"io"

	gateway "github.com/keystonegw/gateway/internal"
)

// FakeDriver is a configurable gateway.Driver for testing.
type FakeDriver struct {
	EndpointFamily gateway.EndpointFamily
	UnaryFn        func(ctx context.Context, body []byte) (int, []byte, gateway.Usage, error)
	StreamFn       func(ctx context.Context, body []byte, w io.Writer, flush func(), onAccept func()) (gateway.Usage, error)
}

// Family returns the configured endpoint family.
func (f *FakeDriver) Family() gateway.EndpointFamily { return f.EndpointFamily }

// ForwardUnary delegates to UnaryFn or returns a canned 200 response.
func (f *FakeDriver) ForwardUnary(ctx context.Context, body []byte) (int, []byte, gateway.Usage, error) {
	if f.UnaryFn != nil {
		return f.UnaryFn(ctx, body)
	}
	return 200, []byte(`{"id":"fake-resp"}`), gateway.Usage{InputTokens: 10, OutputTokens: 5}, nil
}

// ForwardStream delegates to StreamFn or calls onAccept and writes a single
// canned SSE chunk.
func (f *FakeDriver) ForwardStream(ctx context.Context, body []byte, w io.Writer, flush func(), onAccept func()) (gateway.Usage, error) {
	if f.StreamFn != nil {
		return f.StreamFn(ctx, body, w, flush, onAccept)
	}
	onAccept()
	_, err := w.Write([]byte("data: {\"fake\":true}\n\n"))
	if flush != nil {
		flush()
	}
	return gateway.Usage{InputTokens: 10, OutputTokens: 5}, err
}

var _ gateway.Driver = (*FakeDriver)(nil)
