/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrInvalidConfig is returned by NewLRU for negative limits.
var ErrInvalidConfig = errors.New("invalid cache configuration")

var errNotLoaded = errors.New("loader declined key")

// EvictReason tells why an entry left the cache.
type EvictReason string

const (
	EvictExpired  EvictReason = "expired"
	EvictCapacity EvictReason = "capacity"
)

// Loader populates a missing key. Returning false leaves the cache untouched.
// Concurrent misses on one key share a single Loader call.
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, bool)

// Options configures an LRU. Zero MaxSize or MaxAge disables that limit.
type Options[K comparable, V any] struct {
	MaxSize int
	MaxAge  time.Duration

	// EvictInterval runs Evict periodically when positive.
	EvictInterval time.Duration

	Loader Loader[K, V]

	// OnEvict is called for every entry removed by eviction, outside the lock.
	OnEvict func(key K, value V, reason EvictReason)

	// Now overrides the time source.
	Now func() time.Time
}

// Entry is a key/value pair returned from Evict.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

type item[K comparable, V any] struct {
	key       K
	value     V
	createdAt time.Time
}

type evicted[K comparable, V any] struct {
	Entry[K, V]
	reason EvictReason
}

// LRU is a key/value cache bounded by entry count (least recently used goes
// first) and by entry age.
type LRU[K comparable, V any] struct {
	opts Options[K, V]
	now  func() time.Time

	mu    sync.Mutex
	order *list.List // front = most recently touched
	items map[K]*list.Element

	loads singleflight.Group

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLRU validates opts and creates the cache. A background eviction loop is
// started when opts.EvictInterval is positive; call Close to stop it.
func NewLRU[K comparable, V any](opts Options[K, V]) (*LRU[K, V], error) {
	if opts.MaxSize < 0 {
		return nil, fmt.Errorf("%w: max size %d is negative", ErrInvalidConfig, opts.MaxSize)
	}
	if opts.MaxAge < 0 {
		return nil, fmt.Errorf("%w: max age %s is negative", ErrInvalidConfig, opts.MaxAge)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &LRU[K, V]{
		opts:  opts,
		now:   now,
		order: list.New(),
		items: make(map[K]*list.Element),
		stop:  make(chan struct{}),
	}
	if opts.EvictInterval > 0 {
		go c.evictLoop(opts.EvictInterval)
	}
	return c, nil
}

func (c *LRU[K, V]) evictLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Evict()
		}
	}
}

// Close stops background eviction. The cache stays usable.
func (c *LRU[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Add inserts or replaces key, marks it most recently used and resets its age.
func (c *LRU[K, V]) Add(key K, value V) {
	c.mu.Lock()
	it := &item[K, V]{key: key, value: value, createdAt: c.now()}
	if el, ok := c.items[key]; ok {
		el.Value = it
		c.order.MoveToFront(el)
	} else {
		c.items[key] = c.order.PushFront(it)
	}
	removed := c.evictLocked()
	c.mu.Unlock()

	c.notify(removed)
}

// Get returns the cached value. An entry older than MaxAge is removed and
// treated as a miss. On a miss the Loader, if any, is consulted.
func (c *LRU[K, V]) Get(ctx context.Context, key K) (V, bool) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		it := el.Value.(*item[K, V])
		if !c.expired(it) {
			c.order.MoveToFront(el)
			c.mu.Unlock()
			return it.value, true
		}
		c.removeElement(el)
		c.mu.Unlock()
		c.notify([]evicted[K, V]{{Entry: Entry[K, V]{Key: it.key, Value: it.value}, reason: EvictExpired}})
	} else {
		c.mu.Unlock()
	}

	var zero V
	if c.opts.Loader == nil {
		return zero, false
	}
	v, err, _ := c.loads.Do(fmt.Sprint(key), func() (any, error) {
		value, ok := c.opts.Loader(ctx, key)
		if !ok {
			return nil, errNotLoaded
		}
		c.Add(key, value)
		return value, nil
	})
	if err != nil {
		return zero, false
	}
	return v.(V), true
}

// Peek returns the value without touching recency, age checks or the loader.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		return el.Value.(*item[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Delete removes key and returns its value.
func (c *LRU[K, V]) Delete(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	it := el.Value.(*item[K, V])
	c.removeElement(el)
	return it.value, true
}

// Len returns the number of stored entries, expired ones included.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys returns the keys from most to least recently used.
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*item[K, V]).key)
	}
	return keys
}

// Evict drops every expired entry and then least recently used entries
// until the size limit holds. It returns everything it removed.
func (c *LRU[K, V]) Evict() []Entry[K, V] {
	c.mu.Lock()
	removed := c.evictLocked()
	c.mu.Unlock()

	c.notify(removed)

	out := make([]Entry[K, V], len(removed))
	for i, r := range removed {
		out[i] = r.Entry
	}
	return out
}

func (c *LRU[K, V]) evictLocked() []evicted[K, V] {
	var removed []evicted[K, V]

	if c.opts.MaxAge > 0 {
		for el := c.order.Back(); el != nil; {
			prev := el.Prev()
			it := el.Value.(*item[K, V])
			if c.expired(it) {
				c.removeElement(el)
				removed = append(removed, evicted[K, V]{Entry: Entry[K, V]{Key: it.key, Value: it.value}, reason: EvictExpired})
			}
			el = prev
		}
	}

	if c.opts.MaxSize > 0 {
		for c.order.Len() > c.opts.MaxSize {
			el := c.order.Back()
			it := el.Value.(*item[K, V])
			c.removeElement(el)
			removed = append(removed, evicted[K, V]{Entry: Entry[K, V]{Key: it.key, Value: it.value}, reason: EvictCapacity})
		}
	}

	return removed
}

func (c *LRU[K, V]) expired(it *item[K, V]) bool {
	return c.opts.MaxAge > 0 && c.now().Sub(it.createdAt) > c.opts.MaxAge
}

func (c *LRU[K, V]) removeElement(el *list.Element) {
	it := el.Value.(*item[K, V])
	c.order.Remove(el)
	delete(c.items, it.key)
}

func (c *LRU[K, V]) notify(removed []evicted[K, V]) {
	if c.opts.OnEvict == nil {
		return
	}
	for _, r := range removed {
		c.opts.OnEvict(r.Key, r.Value, r.reason)
	}
}
