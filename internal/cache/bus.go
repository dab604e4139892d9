package cache

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// InvalidationChannel is the single Redis-compatible pub/sub channel every
// replica subscribes to (C3/C10 contract, spec §6).
const InvalidationChannel = "cache_invalidation"

// Invalidation names one cache entry to evict on every replica.
type Invalidation struct {
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
}

// Bus publishes and subscribes to cache invalidations. Reads never block on
// the bus; publishes do not wait for a subscriber to acknowledge -- the TTL
// on each namespace cache is the correctness backstop, the bus is only a
// latency optimization (spec §4.3).
type Bus struct {
	rdb *redis.Client
}

// NewBus connects to uri (a redis:// URI). A nil Bus is valid and Publish
// becomes a no-op -- single-replica deployments run on TTL alone.
func NewBus(uri string) (*Bus, error) {
	if uri == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, err
	}
	return &Bus{rdb: redis.NewClient(opts)}, nil
}

// Publish announces that (namespace, id) should be evicted everywhere.
func (b *Bus) Publish(ctx context.Context, namespace, id string) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(Invalidation{Namespace: namespace, ID: id})
	if err != nil {
		slog.Error("marshal cache invalidation", "error", err)
		return
	}
	if err := b.rdb.Publish(ctx, InvalidationChannel, payload).Err(); err != nil {
		slog.Warn("publish cache invalidation failed", "error", err, "namespace", namespace, "id", id)
	}
}

// Subscribe starts a blocking receive loop that calls onInvalidate for
// every message until ctx is cancelled. Intended to run as a worker.Worker.
func (b *Bus) Subscribe(ctx context.Context, onInvalidate func(namespace, id string)) error {
	if b == nil {
		<-ctx.Done()
		return nil
	}
	sub := b.rdb.Subscribe(ctx, InvalidationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var inv Invalidation
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				slog.Warn("malformed cache invalidation payload", "error", err)
				continue
			}
			onInvalidate(inv.Namespace, inv.ID)
		}
	}
}

// Close releases the underlying Redis client, if any.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	return b.rdb.Close()
}
