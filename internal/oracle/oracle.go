// Package oracle implements the symbol-keyed mark-price cache the monitor
// consults on every tick. A cached observation is served as-is while it
// remains within the freshness window; once stale, the cache fetches a new
// observation from the upstream provider and stores it with the current
// timestamp.
package oracle

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrUpstream wraps any failure returned by the upstream price provider.
var ErrUpstream = errors.New("oracle: upstream fetch failed")

// DefaultFreshness is the freshness window applied when a Cache is built
// with a zero value.
const DefaultFreshness = 200 * time.Millisecond

// Observation is a single (symbol, price, observed_at) sample.
type Observation struct {
	Symbol     string
	Price      uint64
	ObservedAt time.Time
}

// Upstream resolves a fresh price for a symbol. Implementations are external
// collaborators: a Pyth/Switchboard client, an exchange REST poller, or a
// test stub.
type Upstream interface {
	FetchPrice(ctx context.Context, symbol string) (uint64, error)
}

// UpstreamFunc adapts a plain function to the Upstream interface.
type UpstreamFunc func(ctx context.Context, symbol string) (uint64, error)

// FetchPrice implements Upstream.
func (f UpstreamFunc) FetchPrice(ctx context.Context, symbol string) (uint64, error) {
	return f(ctx, symbol)
}

// Cache is a shared, concurrency-safe symbol→observation store with a
// freshness window. Concurrent readers for the same symbol are collapsed
// into a single upstream fetch via singleflight; a brief duplicate fetch
// under contention is permitted and is not a correctness bug.
type Cache struct {
	mu         sync.RWMutex
	freshness  time.Duration
	upstream   Upstream
	group      singleflight.Group
	quotes     map[string]Observation
	nowFn      func() time.Time
}

// NewCache builds a Cache over the given upstream with the supplied
// freshness window. A zero freshness falls back to DefaultFreshness.
func NewCache(upstream Upstream, freshness time.Duration) *Cache {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &Cache{
		freshness: freshness,
		upstream:  upstream,
		quotes:    make(map[string]Observation),
		nowFn:     time.Now,
	}
}

// GetMarkPrice returns the last observation for symbol if it is still fresh;
// otherwise it fetches, stores, and returns a new one.
func (c *Cache) GetMarkPrice(ctx context.Context, symbol string) (uint64, error) {
	if obs, ok := c.fresh(symbol); ok {
		return obs.Price, nil
	}

	v, err, _ := c.group.Do(symbol, func() (interface{}, error) {
		if obs, ok := c.fresh(symbol); ok {
			return obs, nil
		}
		price, err := c.upstream.FetchPrice(ctx, symbol)
		if err != nil {
			return Observation{}, errors.Join(ErrUpstream, err)
		}
		obs := Observation{Symbol: symbol, Price: price, ObservedAt: c.now()}
		c.store(obs)
		return obs, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(Observation).Price, nil
}

func (c *Cache) fresh(symbol string) (Observation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obs, ok := c.quotes[symbol]
	if !ok {
		return Observation{}, false
	}
	if c.now().Sub(obs.ObservedAt) >= c.freshness {
		return Observation{}, false
	}
	return obs, true
}

func (c *Cache) store(obs Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[obs.Symbol] = obs
}

func (c *Cache) now() time.Time {
	if c.nowFn != nil {
		return c.nowFn()
	}
	return time.Now()
}
