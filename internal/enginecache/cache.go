// Package enginecache memoizes constructed synthesis engines keyed by model
// identifier and speed.
//
// The cache is bounded: once it holds its capacity, inserting a new engine
// synchronously evicts the least recently used one. An evicted engine is
// closed as soon as the last lease on it is released, so an in-flight
// synthesis never runs against freed native resources.
//
// At most one construction per key is in flight at any time. Concurrent
// requests for a key that is being built wait for that build instead of
// starting their own. Failed builds are never cached.
package enginecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/ttshub/internal/observe"
	"github.com/MrWong99/ttshub/pkg/engine"
)

// DefaultCapacity is the number of engines kept when no capacity is given.
const DefaultCapacity = 10

// ErrClosed is returned by Generate on an engine the cache already released.
var ErrClosed = errors.New("enginecache: engine closed")

// Key identifies one cached engine.
type Key struct {
	ID    string
	Speed float64
}

// String returns an unambiguous encoding of k.
func (k Key) String() string {
	return strconv.Quote(k.ID) + "@" + strconv.FormatFloat(k.Speed, 'g', -1, 64)
}

// BuildFunc constructs the engine for a key on a cache miss.
type BuildFunc func(ctx context.Context) (engine.Engine, error)

// Option is a functional option for [New].
type Option func(*Cache)

// WithCapacity sets the maximum number of cached engines.
func WithCapacity(n int) Option {
	return func(c *Cache) { c.capacity = n }
}

// WithMetrics overrides the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Cache is a bounded LRU of engines with a per-key build gate.
// It is safe for concurrent use.
type Cache struct {
	capacity int
	size     atomic.Int64
	metrics  *observe.Metrics
	entries  *lru.Cache[Key, *handle]
	flights  singleflight.Group
}

// New creates a Cache.
func New(opts ...Option) (*Cache, error) {
	c := &Cache{capacity: DefaultCapacity}
	for _, o := range opts {
		o(c)
	}
	if c.capacity < 1 {
		return nil, fmt.Errorf("enginecache: capacity must be at least 1, got %d", c.capacity)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	entries, err := lru.NewWithEvict(c.capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("enginecache: %w", err)
	}
	c.entries = entries
	c.size.Store(int64(c.capacity))
	return c, nil
}

// Capacity returns the maximum number of cached engines.
func (c *Cache) Capacity() int { return int(c.size.Load()) }

// Resize changes the capacity and returns the number of engines evicted to
// fit it. Leased engines that are evicted are closed on their last release.
func (c *Cache) Resize(n int) (int, error) {
	if n < 1 {
		return 0, fmt.Errorf("enginecache: capacity must be at least 1, got %d", n)
	}
	evicted := c.entries.Resize(n)
	c.size.Store(int64(n))
	return evicted, nil
}

// GetOrBuild returns the engine cached under key, running build on a miss.
// Repeated calls for a cached key return the same instance.
//
// The returned engine is not leased: if it is evicted while the caller still
// uses it, Generate fails with [ErrClosed]. Use [Cache.Acquire] to pin it.
func (c *Cache) GetOrBuild(ctx context.Context, key Key, build BuildFunc) (engine.Engine, error) {
	eng, release, err := c.Acquire(ctx, key, build)
	if err != nil {
		return nil, err
	}
	release()
	return eng, nil
}

// Acquire is like [Cache.GetOrBuild] but pins the engine until release is
// called. An engine evicted while pinned is closed on the last release.
// release is idempotent.
func (c *Cache) Acquire(ctx context.Context, key Key, build BuildFunc) (eng engine.Engine, release func(), err error) {
	for {
		if h, ok := c.entries.Get(key); ok {
			if rel, ok := h.acquire(); ok {
				c.metrics.RecordCacheLookup(ctx, true)
				return h, rel, nil
			}
			// Evicted and closed after the lookup. The LRU no longer holds it.
			continue
		}
		c.metrics.RecordCacheLookup(ctx, false)

		h, err := c.build(ctx, key, build)
		if err != nil {
			return nil, nil, err
		}
		if rel, ok := h.acquire(); ok {
			return h, rel, nil
		}
		// Evicted and closed between insertion and acquisition.
	}
}

// build runs build for key behind the per-key gate.
func (c *Cache) build(ctx context.Context, key Key, build BuildFunc) (*handle, error) {
	for {
		ch := c.flights.DoChan(key.String(), func() (any, error) {
			if h, ok := c.entries.Peek(key); ok {
				return h, nil
			}
			eng, err := build(ctx)
			if err != nil {
				return nil, err
			}
			if err := ctx.Err(); err != nil {
				// Never publish an engine built for an abandoned request.
				if cerr := eng.Close(); cerr != nil {
					slog.Warn("closing abandoned engine", "key", key.String(), "err", cerr)
				}
				return nil, err
			}
			h := newHandle(key, eng, c.metrics)
			c.metrics.ActiveEngines.Add(ctx, 1)
			c.entries.Add(key, h)
			return h, nil
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				// The build belonged to another caller whose context ended.
				if isContextErr(res.Err) && ctx.Err() == nil {
					continue
				}
				return nil, res.Err
			}
			return res.Val.(*handle), nil
		}
	}
}

// onEvict runs for every entry leaving the LRU: capacity eviction, Remove
// and Purge.
func (c *Cache) onEvict(key Key, h *handle) {
	c.metrics.RecordEviction(context.Background())
	slog.Debug("engine evicted", "key", key.String())
	h.retire()
}

// Contains reports whether key is cached without touching its recency.
func (c *Cache) Contains(key Key) bool { return c.entries.Contains(key) }

// Len returns the number of cached engines.
func (c *Cache) Len() int { return c.entries.Len() }

// Keys returns the cached keys from least to most recently used.
func (c *Cache) Keys() []Key { return c.entries.Keys() }

// Remove evicts key if present and reports whether it was cached.
func (c *Cache) Remove(key Key) bool { return c.entries.Remove(key) }

// Purge evicts every engine. Leased engines are closed on their last
// release.
func (c *Cache) Purge() { c.entries.Purge() }

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
