package cache

import (
	"context"
	"encoding/json"
	"time"

	gateway "github.com/keystonegw/gateway/internal"
	"github.com/keystonegw/gateway/internal/storage"
)

const (
	nsKey     = "key"
	nsAccount = "account"
	nsPrice   = "price"
)

// Coherent is the per-replica bounded-TTL cache of C3: three namespaced
// maps (key, account, price), each loaded from the store on miss and
// invalidated by namespace+id either locally (after a mutation this
// replica performed) or via the cross-replica Bus.
type Coherent struct {
	store storage.Store
	bus   *Bus

	keys     *Memory
	accounts *Memory
	prices   *Memory
	ttl      time.Duration
}

// New builds a Coherent cache with the given per-namespace capacity and TTL.
func New(store storage.Store, bus *Bus, maxEntries int, ttl time.Duration) (*Coherent, error) {
	keys, err := NewMemory(maxEntries, ttl)
	if err != nil {
		return nil, err
	}
	accounts, err := NewMemory(maxEntries, ttl)
	if err != nil {
		return nil, err
	}
	prices, err := NewMemory(maxEntries, ttl)
	if err != nil {
		return nil, err
	}
	return &Coherent{store: store, bus: bus, keys: keys, accounts: accounts, prices: prices, ttl: ttl}, nil
}

// Name identifies this worker for the runner's startup log.
func (c *Coherent) Name() string { return "cache_invalidation_bus" }

// Run subscribes to the invalidation bus until ctx is cancelled. Satisfies
// worker.Worker so it can be started alongside other background tasks.
func (c *Coherent) Run(ctx context.Context) error {
	return c.bus.Subscribe(ctx, c.evict)
}

func (c *Coherent) evict(namespace, id string) {
	switch namespace {
	case nsKey:
		c.keys.Delete(context.Background(), id)
	case nsAccount:
		c.accounts.Delete(context.Background(), id)
	case nsPrice:
		c.prices.Delete(context.Background(), id)
	}
}

// Key resolves a hashed bearer key, checking the local cache before falling
// back to the store.
func (c *Coherent) Key(ctx context.Context, hash string) (*gateway.APIKey, error) {
	if raw, ok := c.keys.Get(ctx, hash); ok {
		return decode[gateway.APIKey](raw)
	}
	k, err := c.store.GetKeyByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	c.putKey(ctx, k)
	return k, nil
}

// putKey populates the local cache for a key record, e.g. after a fresh
// store load or an admin mutation on this replica.
func (c *Coherent) putKey(ctx context.Context, k *gateway.APIKey) {
	if b, err := encode(k); err == nil {
		c.keys.Set(ctx, k.KeyHash, b, c.ttl)
	}
}

// InvalidateKey evicts locally and publishes for other replicas.
func (c *Coherent) InvalidateKey(ctx context.Context, hash string) {
	c.keys.Delete(ctx, hash)
	c.bus.Publish(ctx, nsKey, hash)
}

// Account resolves an account, checking the local cache before the store.
func (c *Coherent) Account(ctx context.Context, userID string) (*gateway.Account, error) {
	if raw, ok := c.accounts.Get(ctx, userID); ok {
		return decode[gateway.Account](raw)
	}
	a, err := c.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.putAccount(ctx, a)
	return a, nil
}

func (c *Coherent) putAccount(ctx context.Context, a *gateway.Account) {
	if b, err := encode(a); err == nil {
		c.accounts.Set(ctx, a.UserID, b, c.ttl)
	}
}

// InvalidateAccount evicts locally and publishes for other replicas.
func (c *Coherent) InvalidateAccount(ctx context.Context, userID string) {
	c.accounts.Delete(ctx, userID)
	c.bus.Publish(ctx, nsAccount, userID)
}

// Price resolves a model's price record, checking the local cache first.
func (c *Coherent) Price(ctx context.Context, model string) (*gateway.ModelPrice, error) {
	if raw, ok := c.prices.Get(ctx, model); ok {
		return decode[gateway.ModelPrice](raw)
	}
	p, err := c.store.GetPrice(ctx, model)
	if err != nil {
		return nil, err
	}
	c.putPrice(ctx, p)
	return p, nil
}

func (c *Coherent) putPrice(ctx context.Context, p *gateway.ModelPrice) {
	if b, err := encode(p); err == nil {
		c.prices.Set(ctx, p.ModelName, b, c.ttl)
	}
}

// InvalidatePrice evicts locally and publishes for other replicas.
func (c *Coherent) InvalidatePrice(ctx context.Context, model string) {
	c.prices.Delete(ctx, model)
	c.bus.Publish(ctx, nsPrice, model)
}

func encode(v any) ([]byte, error) { return json.Marshal(v) }

func decode[T any](raw []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
