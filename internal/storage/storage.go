// Package storage defines the persistence contract for the gateway (C2).
// The core only ever needs point-gets, one atomic conditional increment,
// upserts on the admin path, and an append for usage logs -- no
// cross-entity transactions.
package storage

import (
	"context"
	"time"

	gateway "github.com/keystonegw/gateway/internal"
)

// UsageWindow is a grouped total over a time range, for the admin usage
// report endpoint.
type UsageWindow struct {
	UserID           string  `json:"user_id"`
	RequestCount     int64   `json:"request_count"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	CacheReadTokens  int64   `json:"cache_read_tokens"`
	CacheWriteTokens int64   `json:"cache_write_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Store is the full persistence surface consumed by the gateway.
type Store interface {
	// Point-gets (C4 hot path, loaded through the C3 cache on miss).
	GetAccount(ctx context.Context, userID string) (*gateway.Account, error)
	GetKeyByHash(ctx context.Context, hash string) (*gateway.APIKey, error)
	GetPrice(ctx context.Context, model string) (*gateway.ModelPrice, error)

	// DebitAccount atomically applies delta to spent_usd, conditioned on
	// the account being active. matched is false if no row satisfied the
	// WHERE clause (account missing or deactivated mid-request); callers
	// must never read-modify-write spent_usd in application code.
	DebitAccount(ctx context.Context, userID string, delta float64) (matched bool, err error)

	// AppendUsageLog durably appends one immutable usage record.
	AppendUsageLog(ctx context.Context, log *gateway.UsageLog) error

	// Admin surface (C10).
	CreateAccount(ctx context.Context, a *gateway.Account) error
	ListAccounts(ctx context.Context, offset, limit int) ([]*gateway.Account, int, error)
	UpdateAccount(ctx context.Context, a *gateway.Account) error

	CreateKey(ctx context.Context, k *gateway.APIKey) error
	ListKeysByUser(ctx context.Context, userID string) ([]*gateway.APIKey, error)
	UpdateKeyByHash(ctx context.Context, hash string, mutate func(*gateway.APIKey)) error

	UpsertPrice(ctx context.Context, p *gateway.ModelPrice) error
	ListPrices(ctx context.Context) ([]*gateway.ModelPrice, error)
	DeletePrice(ctx context.Context, model string) error

	SumUsageWindow(ctx context.Context, userID string, start, end time.Time) (UsageWindow, error)

	Ping(ctx context.Context) error
	Close() error
}
