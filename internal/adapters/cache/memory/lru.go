package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"taskmesh.route/internal/core/domain"
	"taskmesh.route/internal/core/ports"
)

// LRU is the in-process decision cache: fixed capacity with
// least-recently-used eviction and TTL expiry. Expired entries are purged
// lazily on lookup but remain reachable through Stale until evicted, serving
// as the last-known-good fallback.
type LRU struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front = most recently used
	entries  map[string]*list.Element

	now func() time.Time
}

type entry struct {
	fingerprint string
	decision    *domain.Decision
	expires     time.Time
}

func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		now:      time.Now,
	}
}

var _ ports.DecisionCache = (*LRU)(nil)

func (c *LRU) Lookup(_ context.Context, fingerprint string) (*domain.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[fingerprint]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if c.now().After(e.expires) {
		// Keep the expired entry for Stale, but demote it so fresh entries
		// push it out first.
		c.order.MoveToBack(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return e.decision.Clone(), true
}

func (c *LRU) Stale(_ context.Context, fingerprint string) (*domain.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[fingerprint]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).decision.Clone(), true
}

func (c *LRU) Store(_ context.Context, fingerprint string, d *domain.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	expires := c.now().Add(c.ttl)
	if el, ok := c.entries[fingerprint]; ok {
		e := el.Value.(*entry)
		e.decision = d.Clone()
		e.expires = expires
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&entry{fingerprint: fingerprint, decision: d.Clone(), expires: expires})
	c.entries[fingerprint] = el
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).fingerprint)
	}
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
