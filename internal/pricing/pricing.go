// Package pricing implements the C7 pricing engine: turning a model's rate
// card and a Usage tuple into a billable USD cost.
package pricing

import (
	"context"
	"math"

	gateway "github.com/keystonegw/gateway/internal"
)

const perMillion = 1_000_000

// priceLookup is satisfied by cache.Coherent.
type priceLookup interface {
	Price(ctx context.Context, model string) (*gateway.ModelPrice, error)
}

// Engine resolves a model's rate card and prices Usage against it.
type Engine struct {
	prices priceLookup
}

// New returns a pricing Engine backed by the given price lookup.
func New(prices priceLookup) *Engine {
	return &Engine{prices: prices}
}

// Price computes the USD cost of u under model's rate card, per spec §4.7.
// warn is true when no rate card exists for model, in which case cost is 0.
func (e *Engine) Price(ctx context.Context, model string, u gateway.Usage) (cost float64, warn bool) {
	rate, err := e.prices.Price(ctx, model)
	if err != nil {
		return 0, true
	}
	return compute(rate, u), false
}

func compute(rate *gateway.ModelPrice, u gateway.Usage) float64 {
	cost := float64(u.InputTokens)/perMillion*rate.InputRate +
		float64(u.OutputTokens)/perMillion*rate.OutputRate +
		float64(u.CacheReadTokens)/perMillion*rate.CacheReadRate +
		float64(u.CacheWriteTokens)/perMillion*rate.CacheWriteRate
	return round6(cost)
}

func round6(v float64) float64 {
	const factor = 1e6
	return math.Round(v*factor) / factor
}
