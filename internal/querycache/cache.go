// Package querycache is the client-side query cache: fetched results keyed by logical query
// identity, refetched on the next read after Invalidate.
package querycache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultSize is the number of query results kept when New is given a non-positive size.
const DefaultSize = 256

// Key identifies a query: entity type followed by scope, e.g. {"messages", "channel", id}.
type Key []string

// String returns a stable encoding of the key, safe for ids containing separators.
func (k Key) String() string {
	b, _ := json.Marshal([]string(k))
	return string(b)
}

// Invalidator is the only cache operation realtime sync code may call.
type Invalidator interface {
	Invalidate(key Key)
}

// FetchFunc loads the current value of a query from the remote service.
type FetchFunc func(ctx context.Context) (any, error)

type entry struct {
	value     any
	stale     bool
	fetchedAt time.Time
}

// Cache is an LRU-bounded query cache. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	entries  *lru.Cache[string, *entry]
	fetching map[string]bool // key -> invalidated while fetching
	watchers map[string]map[uint64]chan struct{}
	nextID   uint64
	group    singleflight.Group
	nowF     func() time.Time
}

var _ Invalidator = (*Cache)(nil)

// New returns a cache holding at most size query results.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, *entry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{
		entries:  entries,
		fetching: make(map[string]bool),
		watchers: make(map[string]map[uint64]chan struct{}),
		nowF:     time.Now,
	}, nil
}

// Get returns the cached value for key, calling fetch when the key is absent or stale.
// Concurrent fetches of the same key are collapsed. A failed fetch leaves any previous value in place.
func (c *Cache) Get(ctx context.Context, key Key, fetch FetchFunc) (any, error) {
	k := key.String()
	c.mu.Lock()
	if e, ok := c.entries.Get(k); ok && !e.stale {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(k, func() (any, error) {
		c.mu.Lock()
		c.fetching[k] = false
		c.mu.Unlock()

		v, err := fetch(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		invalidated := c.fetching[k]
		delete(c.fetching, k)
		if err != nil {
			return nil, err
		}
		c.entries.Add(k, &entry{value: v, stale: invalidated, fetchedAt: c.nowF()})
		return v, nil
	})
	return v, err
}

// Peek returns the cached value without fetching. ok is false when the key is absent.
func (c *Cache) Peek(key Key) (value any, stale bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Peek(key.String())
	if !ok {
		return nil, false, false
	}
	return e.value, e.stale, true
}

// Invalidate marks key stale so the next Get refetches, and wakes its watchers.
// A fetch already in flight for key stores its result as stale.
func (c *Cache) Invalidate(key Key) {
	k := key.String()
	c.mu.Lock()
	if e, ok := c.entries.Peek(k); ok {
		e.stale = true
	}
	if _, ok := c.fetching[k]; ok {
		c.fetching[k] = true
	}
	chans := make([]chan struct{}, 0, len(c.watchers[k]))
	for _, ch := range c.watchers[k] {
		chans = append(chans, ch)
	}
	c.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch returns a channel that receives a signal after each invalidation of key (signals coalesce)
// and a cancel func that stops the watch.
func (c *Cache) Watch(key Key) (<-chan struct{}, func()) {
	k := key.String()
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if c.watchers[k] == nil {
		c.watchers[k] = make(map[uint64]chan struct{})
	}
	c.watchers[k][id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.watchers[k], id)
			if len(c.watchers[k]) == 0 {
				delete(c.watchers, k)
			}
		})
	}
}

// Len returns the number of cached query results.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
