// Package auth implements the C4 authentication and authorization gate:
// bearer API keys, resolved through the coherent cache, checked against
// account state and budget before a request is allowed to proceed.
package auth

import (
	"net/http"
	"strings"

	"context"

	gateway "github.com/keystonegw/gateway/internal"
	"github.com/keystonegw/gateway/internal/cache"
)

// Gate authenticates incoming requests and authorizes them against account
// budget and per-key model restrictions.
type Gate struct {
	cache *cache.Coherent
}

// NewGate returns a Gate backed by the given coherent cache.
func NewGate(c *cache.Coherent) *Gate {
	return &Gate{cache: c}
}

// Authenticate extracts a Bearer token with the "gw-" prefix, resolves it to
// an API key and its owning account, and rejects inactive keys, inactive
// accounts, and accounts that have exhausted their budget.
func (g *Gate) Authenticate(ctx context.Context, r *http.Request) (*gateway.Identity, error) {
	header := r.Header.Get("Authorization")
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == "" || raw == header {
		return nil, gateway.ErrUnauthorized
	}
	if !strings.HasPrefix(raw, gateway.APIKeyPrefix) {
		return nil, gateway.ErrUnauthorized
	}

	hash := gateway.HashKey(raw)
	key, err := g.cache.Key(ctx, hash)
	if err != nil {
		if err == gateway.ErrNotFound {
			return nil, gateway.ErrUnauthorized
		}
		return nil, err
	}
	if !key.IsActive {
		return nil, gateway.ErrKeyInactive
	}

	account, err := g.cache.Account(ctx, key.UserID)
	if err != nil {
		if err == gateway.ErrNotFound {
			return nil, gateway.ErrReferentialIntegrity
		}
		return nil, err
	}
	if !account.IsActive {
		return nil, gateway.ErrAccountInactive
	}
	if account.OverBudget() {
		return nil, gateway.ErrBudgetExceeded
	}

	return &gateway.Identity{Key: key, Account: account}, nil
}

// CheckModel rejects requests for models an Identity's key does not allow.
func CheckModel(identity *gateway.Identity, model string) error {
	if identity.Key != nil && !identity.Key.IsModelAllowed(model) {
		return gateway.ErrModelNotAllowed
	}
	return nil
}
