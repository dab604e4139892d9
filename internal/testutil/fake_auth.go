package testutil

import (
	"context"
	"net/http"

	gateway "github.com/keystonegw/gateway/internal"
)

// FakeAuth always authenticates successfully against a fixed account and key.
type FakeAuth struct {
	UserID string
}

// Authenticate returns a test identity for a well-formed, active key+account.
func (f FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*gateway.Identity, error) {
	userID := f.UserID
	if userID == "" {
		userID = "test-user"
	}
	return &gateway.Identity{
		Key: &gateway.APIKey{
			KeyPrefix: "gw-test",
			UserID:    userID,
			Name:      "test key",
			IsActive:  true,
		},
		Account: &gateway.Account{
			UserID:       userID,
			BudgetUSD:    100,
			BudgetPeriod: gateway.BudgetPeriodMonthly,
			IsActive:     true,
		},
	}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*gateway.Identity, error) {
	return nil, gateway.ErrUnauthorized
}
