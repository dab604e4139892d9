// Package billing implements the C8 ledger: pricing, debiting, and
// logging a request's usage exactly once, on terminal disposition.
package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	gateway "github.com/keystonegw/gateway/internal"
	"github.com/keystonegw/gateway/internal/storage"
)

// pricer is satisfied by pricing.Engine.
type pricer interface {
	Price(ctx context.Context, model string, u gateway.Usage) (cost float64, warn bool)
}

// invalidator is satisfied by cache.Coherent.
type invalidator interface {
	InvalidateAccount(ctx context.Context, userID string)
}

// Ledger prices and records exactly one usage-log entry per request,
// synchronously, on the request's terminal disposition path. It runs
// after the client's response has already been fully written or
// aborted, so it never adds latency the client observes, and it writes
// with a context detached from request cancellation so a client
// disconnect never aborts the write (grounded on the teacher's own
// context.WithoutCancel use for post-response bookkeeping).
type Ledger struct {
	store        storage.Store
	price        pricer
	cache        invalidator
	writeTimeout time.Duration
}

// New returns a Ledger backed by store, price, and cache.
func New(store storage.Store, price pricer, cache invalidator) *Ledger {
	return &Ledger{store: store, price: price, cache: cache, writeTimeout: 10 * time.Second}
}

// Entry describes one request's terminal disposition, ready for billing.
type Entry struct {
	UserID       string
	KeyPrefix    string
	Model        string
	Endpoint     string
	IP           string
	Usage        gateway.Usage
	ProcessingMs int64
	ErrorMessage string
	Request      []byte
	Response     []byte
}

// Record prices e.Usage, issues the conditional debit, and appends the
// usage log. Steps are independent per spec: a debit success with a log
// failure is a silent over-charge, and vice versa a silent under-charge;
// both are logged at error level since debits commute and need no lock.
func (l *Ledger) Record(ctx context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.writeTimeout)
	defer cancel()

	cost, warn := l.price.Price(ctx, e.Model, e.Usage)
	if warn {
		slog.Warn("billing: no price record for model", "model", e.Model)
	}

	if cost > 0 {
		matched, err := l.store.DebitAccount(ctx, e.UserID, cost)
		switch {
		case err != nil:
			slog.LogAttrs(ctx, slog.LevelError, "billing: debit failed",
				slog.String("user_id", e.UserID), slog.String("error", err.Error()))
		case !matched:
			slog.Warn("billing: debit did not match an active account",
				"user_id", e.UserID, "cost_usd", cost)
		default:
			l.cache.InvalidateAccount(ctx, e.UserID)
		}
	}

	log := &gateway.UsageLog{
		ID:               uuid.Must(uuid.NewV7()).String(),
		UserID:           e.UserID,
		KeyPrefix:        e.KeyPrefix,
		Model:            e.Model,
		Endpoint:         e.Endpoint,
		IP:               e.IP,
		Timestamp:        time.Now(),
		InputTokens:      e.Usage.InputTokens,
		OutputTokens:     e.Usage.OutputTokens,
		CacheReadTokens:  e.Usage.CacheReadTokens,
		CacheWriteTokens: e.Usage.CacheWriteTokens,
		TotalTokens:      e.Usage.TotalTokens(),
		CostUSD:          cost,
		IsCacheHit:       e.Usage.CacheReadTokens > 0,
		IsEstimated:      e.Usage.Estimated,
		ProcessingMs:     e.ProcessingMs,
		ErrorMessage:     e.ErrorMessage,
		RequestSnapshot:  e.Request,
		ResponseSnapshot: e.Response,
	}
	if err := l.store.AppendUsageLog(ctx, log); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "billing: usage log append failed",
			slog.String("user_id", e.UserID), slog.String("error", err.Error()))
	}
}
