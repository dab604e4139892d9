package provider

import (
	"context"
	"fmt"
	"io"

	gateway "github.com/keystonegw/gateway/internal"
	"github.com/keystonegw/gateway/internal/circuitbreaker"
)

// WithBreakers wraps every configured driver with a per-family circuit
// breaker from breakers, short-circuiting calls to a family whose error
// rate has tripped the breaker rather than waiting out another upstream
// timeout. Returns r for chaining.
func (r *Registry) WithBreakers(breakers *circuitbreaker.Registry) *Registry {
	if breakers == nil {
		return r
	}
	for family, d := range r.drivers {
		r.drivers[family] = &breakerDriver{inner: d, breaker: breakers.GetOrCreate(string(family))}
	}
	return r
}

// breakerDriver decorates a Driver with circuit-breaker accounting. It
// never alters request or response bytes; it only decides whether to
// attempt the call and records the outcome.
type breakerDriver struct {
	inner   gateway.Driver
	breaker *circuitbreaker.Breaker
}

func (d *breakerDriver) Family() gateway.EndpointFamily { return d.inner.Family() }

func (d *breakerDriver) ForwardUnary(ctx context.Context, body []byte) (int, []byte, gateway.Usage, error) {
	if !d.breaker.Allow() {
		return 0, nil, gateway.Usage{}, gateway.ErrUpstreamUnavailable
	}
	status, respBody, usage, err := d.inner.ForwardUnary(ctx, body)
	d.record(status, err)
	return status, respBody, usage, err
}

func (d *breakerDriver) ForwardStream(ctx context.Context, body []byte, w io.Writer, flush func(), onAccept func()) (gateway.Usage, error) {
	if !d.breaker.Allow() {
		return gateway.Usage{}, gateway.ErrUpstreamUnavailable
	}
	usage, err := d.inner.ForwardStream(ctx, body, w, flush, onAccept)
	d.record(0, err)
	return usage, err
}

// record classifies the call outcome and updates the breaker. status is
// consulted only when err is nil, since unary drivers surface non-2xx
// upstream responses as a status code rather than an error.
func (d *breakerDriver) record(status int, err error) {
	if err != nil {
		if w := circuitbreaker.ClassifyError(err); w > 0 {
			d.breaker.RecordError(w)
		} else {
			d.breaker.RecordSuccess()
		}
		return
	}
	if w := circuitbreaker.ClassifyError(statusErr(status)); status != 0 && w > 0 {
		d.breaker.RecordError(w)
		return
	}
	d.breaker.RecordSuccess()
}

// statusErr adapts a bare HTTP status code to the httpStatusError interface
// circuitbreaker.ClassifyError expects.
type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("http status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

var _ gateway.Driver = (*breakerDriver)(nil)
