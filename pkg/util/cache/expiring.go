package cache

import (
	"sync"
	"time"
)

// Closer matches the original's AutoCloseable contract for cached
// prepared statements and result-set handles.
type Closer interface {
	Close() error
}

type expiringEntry[V Closer] struct {
	value     V
	expiresAt time.Time
}

// ExpiringMap is a time-bounded map keyed by int, grounded on
// ServerSession.java's `cache` field
// (`ExpiringMap<Integer, AutoCloseable>`) used for the wire layer's
// cursor/prepared-statement handles (spec §4.6). Expiry is
// time-based and external: a caller must invoke Sweep periodically;
// Close is mandatory on removal regardless of how the entry is removed.
type ExpiringMap[V Closer] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[int]*expiringEntry[V]
	now     func() time.Time
}

// NewExpiringMap constructs an ExpiringMap whose entries expire ttl
// after insertion.
func NewExpiringMap[V Closer](ttl time.Duration) *ExpiringMap[V] {
	return &ExpiringMap[V]{
		ttl:     ttl,
		entries: make(map[int]*expiringEntry[V]),
		now:     time.Now,
	}
}

// Put inserts or replaces the value for id, closing any value it displaces.
func (m *ExpiringMap[V]) Put(id int, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.entries[id]; ok {
		_ = old.value.Close()
	}
	m.entries[id] = &expiringEntry[V]{value: v, expiresAt: m.now().Add(m.ttl)}
}

// Get returns the value for id if present and not expired.
func (m *ExpiringMap[V]) Get(id int) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || m.now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Remove closes and removes the value for id, if present. Removal always
// closes the entry, per spec §4.6 ("removal on close is mandatory").
func (m *ExpiringMap[V]) Remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		_ = e.value.Close()
		delete(m.entries, id)
	}
}

// Sweep removes and closes every entry that has expired as of now.
func (m *ExpiringMap[V]) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, e := range m.entries {
		if now.After(e.expiresAt) {
			_ = e.value.Close()
			delete(m.entries, id)
		}
	}
}

// Close closes every remaining entry and empties the map.
func (m *ExpiringMap[V]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		_ = e.value.Close()
		delete(m.entries, id)
	}
}
