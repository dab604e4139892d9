// Package provider implements the C1/C5 driver registry: a fixed,
// closed set of three endpoint families, each bound to exactly one
// gateway.Driver. Models never select a driver -- the endpoint does.
package provider

import (
	"fmt"

	gateway "github.com/keystonegw/gateway/internal"
)

// Registry binds each of the three fixed endpoint families to its driver.
// Unlike the teacher's open, name-keyed registry, this one is closed at
// construction: there is no Register/unregister surface at runtime.
type Registry struct {
	drivers map[gateway.EndpointFamily]gateway.Driver
}

// NewRegistry returns a Registry wired with the given drivers. A nil driver
// for a family is valid -- Get returns an error for it until supplied.
func NewRegistry(openAIChat, openAIResponses, anthropicMessages gateway.Driver) *Registry {
	r := &Registry{drivers: make(map[gateway.EndpointFamily]gateway.Driver, 3)}
	if openAIChat != nil {
		r.drivers[gateway.FamilyOpenAIChat] = openAIChat
	}
	if openAIResponses != nil {
		r.drivers[gateway.FamilyOpenAIResponses] = openAIResponses
	}
	if anthropicMessages != nil {
		r.drivers[gateway.FamilyAnthropicMessages] = anthropicMessages
	}
	return r
}

// Get returns the driver bound to family.
func (r *Registry) Get(family gateway.EndpointFamily) (gateway.Driver, error) {
	d, ok := r.drivers[family]
	if !ok {
		return nil, fmt.Errorf("no driver configured for endpoint family %q", family)
	}
	return d, nil
}
