// Package cache holds whole-collection read-through snapshots. Each
// Collection serves every read of one entity type from memory, loading the
// full set from its Loader on first use or after invalidation. There is no
// TTL: writers must Reset the collections they touched.
package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

// loadTimeout bounds a load once it no longer follows the caller's context.
const loadTimeout = 30 * time.Second

// Loader fetches the full collection from the store.
type Loader[T any] func(ctx context.Context) ([]T, error)

// Collection is a snapshot of all entities of one type.
type Collection[T any] struct {
	name    string
	load    Loader[T]
	breaker *gobreaker.CircuitBreaker
	group   singleflight.Group

	mu     sync.RWMutex
	items  []T
	loaded bool
	// gen advances on every invalidation. A load only installs its result
	// if no invalidation happened while it ran.
	gen uint64
}

// New returns an empty collection backed by load.
func New[T any](name string, load Loader[T]) *Collection[T] {
	return &Collection[T]{
		name: name,
		load: load,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "cache." + name,
			Timeout: 10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// A cancelled or timed-out caller says nothing about the store.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("cache loader breaker changed state")
			},
		}),
	}
}

// Name identifies the collection in logs.
func (c *Collection[T]) Name() string { return c.name }

// All returns a copy of the snapshot, loading it if needed. Load failures are
// returned as is; nothing is retried.
func (c *Collection[T]) All(ctx context.Context) ([]T, error) {
	c.mu.RLock()
	if c.loaded {
		items := slices.Clone(c.items)
		c.mu.RUnlock()
		return items, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	items, err := c.fill(ctx, gen)
	if err != nil {
		return nil, err
	}
	return slices.Clone(items), nil
}

// Invalidate drops the snapshot; the next read reloads it.
func (c *Collection[T]) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.items = nil
	c.loaded = false
	c.mu.Unlock()
}

// Reset invalidates and synchronously reloads. When it returns nil, every
// later read observes at least the store state at the time of the call. On
// error the collection stays invalidated.
func (c *Collection[T]) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	c.items = nil
	c.loaded = false
	gen := c.gen
	c.mu.Unlock()

	_, err := c.fill(ctx, gen)
	return err
}

// Find returns the first entity matching pred in snapshot order.
func (c *Collection[T]) Find(ctx context.Context, pred func(T) bool) (T, bool, error) {
	var zero T
	items, err := c.snapshot(ctx)
	if err != nil {
		return zero, false, err
	}
	for _, item := range items {
		if pred(item) {
			return item, true, nil
		}
	}
	return zero, false, nil
}

// Filter returns every entity matching pred in snapshot order.
func (c *Collection[T]) Filter(ctx context.Context, pred func(T) bool) ([]T, error) {
	items, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var out []T
	for _, item := range items {
		if pred(item) {
			out = append(out, item)
		}
	}
	return out, nil
}

// snapshot returns the shared slice without copying. Callers must not
// modify it.
func (c *Collection[T]) snapshot(ctx context.Context) ([]T, error) {
	c.mu.RLock()
	if c.loaded {
		items := c.items
		c.mu.RUnlock()
		return items, nil
	}
	gen := c.gen
	c.mu.RUnlock()
	return c.fill(ctx, gen)
}

// fill joins or starts the load for generation gen. The load runs detached
// from ctx so one caller going away does not fail the others sharing it; a
// cancelled caller stops waiting and gets ctx's error.
func (c *Collection[T]) fill(ctx context.Context, gen uint64) ([]T, error) {
	ch := c.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		// A previous flight for this generation may have finished between
		// the caller's check and DoChan.
		c.mu.RLock()
		if c.loaded && c.gen == gen {
			items := c.items
			c.mu.RUnlock()
			return items, nil
		}
		c.mu.RUnlock()

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		res, err := c.breaker.Execute(func() (interface{}, error) {
			return c.load(loadCtx)
		})
		if err != nil {
			return nil, err
		}
		items := res.([]T)

		c.mu.Lock()
		if c.gen == gen {
			c.items = items
			c.loaded = true
		}
		c.mu.Unlock()
		return items, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, fmt.Errorf("load %s: %w", c.name, r.Err)
		}
		return r.Val.([]T), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("load %s: %w", c.name, ctx.Err())
	}
}
