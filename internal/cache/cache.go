// Package cache provides a small in-memory TTL cache. Instances are created
// by the server and handed to the call sites that need them.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a thread-safe map whose entries expire after a fixed duration.
type TTL[V any] struct {
	mu    sync.RWMutex
	ttl   time.Duration
	data  map[string]entry[V]
	now   func() time.Time
	group singleflight.Group
}

// New creates a cache whose entries live for ttl.
func New[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{
		ttl:  ttl,
		data: make(map[string]entry[V]),
		now:  time.Now,
	}
}

// Get returns the cached value for key if it has not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Delete removes key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Purge drops expired entries and returns how many were removed.
func (c *TTL[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.data {
		if !now.Before(e.expiresAt) {
			delete(c.data, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// GetOrLoad returns the cached value or calls load once, even under
// concurrent callers, and caches its result. Errors are not cached.
func (c *TTL[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	res, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, fmt.Errorf("loading %s: %w", key, err)
	}
	return res.(V), nil
}
