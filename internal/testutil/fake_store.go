// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"
	"sync"
	"time"

	gateway "github.com/keystonegw/gateway/internal"
	"github.com/keystonegw/gateway/internal/storage"
)

// FakeStore is an in-memory storage.Store for testing.
type FakeStore struct {
	mu sync.Mutex

	Accounts map[string]*gateway.Account
	Keys     map[string]*gateway.APIKey // keyed by hash
	Prices   map[string]*gateway.ModelPrice
	Logs     []*gateway.UsageLog
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		Accounts: make(map[string]*gateway.Account),
		Keys:     make(map[string]*gateway.APIKey),
		Prices:   make(map[string]*gateway.ModelPrice),
	}
}

func (s *FakeStore) GetAccount(_ context.Context, userID string) (*gateway.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Accounts[userID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *FakeStore) GetKeyByHash(_ context.Context, hash string) (*gateway.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.Keys[hash]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *FakeStore) GetPrice(_ context.Context, model string) (*gateway.ModelPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.Prices[model]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *FakeStore) DebitAccount(_ context.Context, userID string, delta float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.Accounts[userID]
	if !ok || !a.IsActive {
		return false, nil
	}
	a.SpentUSD += delta
	return true, nil
}

func (s *FakeStore) AppendUsageLog(_ context.Context, l *gateway.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Logs = append(s.Logs, l)
	return nil
}

func (s *FakeStore) CreateAccount(_ context.Context, a *gateway.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Accounts[a.UserID] = a
	return nil
}

func (s *FakeStore) ListAccounts(_ context.Context, offset, limit int) ([]*gateway.Account, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*gateway.Account, 0, len(s.Accounts))
	for _, a := range s.Accounts {
		out = append(out, a)
	}
	return out, len(out), nil
}

func (s *FakeStore) UpdateAccount(_ context.Context, a *gateway.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Accounts[a.UserID]; !ok {
		return gateway.ErrNotFound
	}
	s.Accounts[a.UserID] = a
	return nil
}

func (s *FakeStore) CreateKey(_ context.Context, k *gateway.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Keys[k.KeyHash] = k
	return nil
}

func (s *FakeStore) ListKeysByUser(_ context.Context, userID string) ([]*gateway.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*gateway.APIKey
	for _, k := range s.Keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *FakeStore) UpdateKeyByHash(_ context.Context, hash string, mutate func(*gateway.APIKey)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.Keys[hash]
	if !ok {
		return gateway.ErrNotFound
	}
	mutate(k)
	return nil
}

func (s *FakeStore) UpsertPrice(_ context.Context, p *gateway.ModelPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Prices[p.ModelName] = p
	return nil
}

func (s *FakeStore) ListPrices(_ context.Context) ([]*gateway.ModelPrice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*gateway.ModelPrice, 0, len(s.Prices))
	for _, p := range s.Prices {
		out = append(out, p)
	}
	return out, nil
}

func (s *FakeStore) DeletePrice(_ context.Context, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Prices[model]; !ok {
		return gateway.ErrNotFound
	}
	delete(s.Prices, model)
	return nil
}

func (s *FakeStore) SumUsageWindow(_ context.Context, userID string, start, end time.Time) (storage.UsageWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var w storage.UsageWindow
	w.UserID = userID
	for _, l := range s.Logs {
		if l.UserID != userID || l.Timestamp.Before(start) || l.Timestamp.After(end) {
			continue
		}
		w.RequestCount++
		w.InputTokens += l.InputTokens
		w.OutputTokens += l.OutputTokens
		w.CacheReadTokens += l.CacheReadTokens
		w.CacheWriteTokens += l.CacheWriteTokens
		w.CostUSD += l.CostUSD
	}
	return w, nil
}

func (s *FakeStore) Ping(context.Context) error { return nil }
func (s *FakeStore) Close() error               { return nil }

var _ storage.Store = (*FakeStore)(nil)
