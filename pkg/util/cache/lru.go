// Package cache provides a generic LRU cache, grounded on the contract
// exercised by the teacher's pkg/util/cache tests
// (typed_unordered_cache_test.go): a Config carrying an eviction policy
// and a ShouldEvict(size, key, value) predicate, with Add/Get/Del/Clear/
// Len methods. Only the test file was retrieved from the example pack,
// not cache.go itself; this implementation is built to satisfy that
// contract using container/list for LRU order, the standard approach
// this family of caches takes (the teacher's own doc comment credits
// golang/groupcache for the same design).
package cache

import "container/list"

// Policy selects the eviction strategy. CacheLRU is the only policy
// used by this core; FIFO is included for parity with the teacher's
// Config.Policy field but unused here.
type Policy int

const (
	// CacheLRU evicts the least-recently-used entry first.
	CacheLRU Policy = iota
	// CacheFIFO evicts the oldest-inserted entry first.
	CacheFIFO
)

// Config configures a Cache's eviction behavior.
type Config[K comparable, V any] struct {
	Policy      Policy
	ShouldEvict func(size int, key K, value V) bool
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Cache is a generic, size-bounded cache with a pluggable eviction
// predicate, used by pkg/resources for the per-session query cache
// (cursor/prepared-statement handles live in ExpiringMap instead).
type Cache[K comparable, V any] struct {
	cfg     Config[K, V]
	ll      *list.List
	entries map[K]*list.Element
}

// New constructs an empty Cache with the given Config.
func New[K comparable, V any](cfg Config[K, V]) *Cache[K, V] {
	return &Cache[K, V]{
		cfg:     cfg,
		ll:      list.New(),
		entries: make(map[K]*list.Element),
	}
}

// Add inserts or updates key with value, touching it to the front for
// LRU purposes, then evicts from the back while ShouldEvict reports true.
func (c *Cache[K, V]) Add(key K, value V) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*entry[K, V]).value = value
		if c.cfg.Policy == CacheLRU {
			c.ll.MoveToFront(el)
		}
		return
	}
	el := c.ll.PushFront(&entry[K, V]{key: key, value: value})
	c.entries[key] = el
	c.evict()
}

func (c *Cache[K, V]) evict() {
	if c.cfg.ShouldEvict == nil {
		return
	}
	for c.ll.Len() > 0 {
		back := c.ll.Back()
		e := back.Value.(*entry[K, V])
		if !c.cfg.ShouldEvict(c.ll.Len(), e.key, e.value) {
			break
		}
		c.ll.Remove(back)
		delete(c.entries, e.key)
	}
}

// Get returns the value for key, touching it to the front for LRU.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	el, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.cfg.Policy == CacheLRU {
		c.ll.MoveToFront(el)
	}
	return el.Value.(*entry[K, V]).value, true
}

// Del removes key from the cache, if present.
func (c *Cache[K, V]) Del(key K) {
	if el, ok := c.entries[key]; ok {
		c.ll.Remove(el)
		delete(c.entries, key)
	}
}

// Clear empties the cache.
func (c *Cache[K, V]) Clear() {
	c.ll.Init()
	c.entries = make(map[K]*list.Element)
}

// Len reports the number of entries currently cached.
func (c *Cache[K, V]) Len() int {
	return c.ll.Len()
}
